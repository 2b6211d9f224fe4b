package appointment

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Canonical carrier names.
const (
	CarrierAetna    = "Aetna"
	CarrierBCBS     = "Blue Cross Blue Shield"
	CarrierCigna    = "Cigna"
	CarrierUnited   = "UnitedHealthcare"
	CarrierHumana   = "Humana"
	CarrierKaiser   = "Kaiser Permanente"
	CarrierAnthem   = "Anthem"
	CarrierMedicare = "Medicare"
	CarrierMedicaid = "Medicaid"
	CarrierTricare  = "Tricare"
)

// carrierAliases is checked in order; the first alias contained in the
// input wins.
var carrierAliases = []struct {
	alias, carrier string
}{
	{"aetna", CarrierAetna},
	{"blue cross", CarrierBCBS},
	{"bcbs", CarrierBCBS},
	{"blue shield", CarrierBCBS},
	{"cigna", CarrierCigna},
	{"unitedhealthcare", CarrierUnited},
	{"united", CarrierUnited},
	{"uhc", CarrierUnited},
	{"humana", CarrierHumana},
	{"kaiser", CarrierKaiser},
	{"anthem", CarrierAnthem},
	{"medicare", CarrierMedicare},
	{"medicaid", CarrierMedicaid},
	{"tricare", CarrierTricare},
}

type carrierFormat struct {
	memberID      *regexp.Regexp
	group         *regexp.Regexp
	groupRequired bool
}

var carrierFormats = map[string]carrierFormat{
	CarrierAetna:    {memberID: regexp.MustCompile(`^[A-Z]\d{8}$`), group: regexp.MustCompile(`^\d{5,7}$`), groupRequired: true},
	CarrierBCBS:     {memberID: regexp.MustCompile(`^[A-Z]{3}\d{9}$`), group: regexp.MustCompile(`^[A-Z0-9]{5,10}$`), groupRequired: true},
	CarrierCigna:    {memberID: regexp.MustCompile(`^\d{9}$`), group: regexp.MustCompile(`^\d{6,7}$`), groupRequired: true},
	CarrierUnited:   {memberID: regexp.MustCompile(`^\d{9,11}$`), group: regexp.MustCompile(`^[A-Z0-9]{5,10}$`)},
	CarrierMedicare: {memberID: regexp.MustCompile(`^\d{3}-\d{2}-\d{4}[A-Z]?$`)},
	CarrierMedicaid: {memberID: regexp.MustCompile(`^[A-Z0-9]{8,12}$`)},
}

// NormalizeCarrier maps common spellings to the canonical carrier name and
// returns anything unrecognised trimmed but otherwise unchanged.
func NormalizeCarrier(in string) string {
	in = strings.Join(strings.Fields(in), " ")
	lower := strings.ToLower(in)
	for _, a := range carrierAliases {
		if strings.Contains(lower, a.alias) {
			return a.carrier
		}
	}
	return in
}

// Normalize canonicalises the carrier and upper-cases the identifiers.
func (in Insurance) Normalize() Insurance {
	return Insurance{
		Carrier:  NormalizeCarrier(in.Carrier),
		MemberID: strings.ToUpper(strings.TrimSpace(in.MemberID)),
		Group:    strings.ToUpper(strings.TrimSpace(in.Group)),
	}
}

// ValidateMemberID checks id against the carrier's format. Carriers without
// a known format only get a length check.
func ValidateMemberID(id, carrier string) error {
	f, ok := carrierFormats[carrier]
	if !ok || f.memberID == nil {
		if n := len(id); n < 5 || n > 20 {
			return errors.New("must be 5 to 20 characters")
		}
		return nil
	}
	if !f.memberID.MatchString(id) {
		return fmt.Errorf("invalid format for %s", carrier)
	}
	return nil
}

// ValidateGroup checks group against the carrier's format. An empty group
// is fine unless the carrier requires one.
func ValidateGroup(group, carrier string) error {
	f, ok := carrierFormats[carrier]
	if !ok {
		return nil
	}
	if group == "" {
		if f.groupRequired {
			return fmt.Errorf("required for %s", carrier)
		}
		return nil
	}
	if f.group != nil && !f.group.MatchString(group) {
		return fmt.Errorf("invalid format for %s", carrier)
	}
	return nil
}

// validate adds field errors for a normalised snapshot. No insurance at all
// is valid; a partial snapshot is not.
func (in Insurance) validate(fields map[string]string) {
	if in == (Insurance{}) {
		return
	}
	if len(in.Carrier) < 3 {
		fields["insurance.carrier"] = "required"
		return
	}
	if in.MemberID == "" {
		fields["insurance.member_id"] = "required"
	} else if err := ValidateMemberID(in.MemberID, in.Carrier); err != nil {
		fields["insurance.member_id"] = err.Error()
	}
	if err := ValidateGroup(in.Group, in.Carrier); err != nil {
		fields["insurance.group"] = err.Error()
	}
}
