package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCarrier(t *testing.T) {
	tests := map[string]string{
		"aetna":             CarrierAetna,
		"  Aetna   PPO ":    CarrierAetna,
		"BCBS of Texas":     CarrierBCBS,
		"Anthem Blue Cross": CarrierBCBS,
		"UHC":               CarrierUnited,
		"United Healthcare": CarrierUnited,
		"medicare part b":   CarrierMedicare,
		"  Acme   Health ":  "Acme Health",
		"":                  "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeCarrier(in))
		})
	}
}

func TestInsurance_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   Insurance
		want map[string]string
	}{
		{"none", Insurance{}, map[string]string{}},
		{"aetna ok", Insurance{Carrier: "aetna", MemberID: "w12345678", Group: "123456"}, map[string]string{}},
		{"aetna bad member", Insurance{Carrier: "Aetna", MemberID: "12345", Group: "123456"},
			map[string]string{"insurance.member_id": "invalid format for Aetna"}},
		{"cigna missing group", Insurance{Carrier: "cigna", MemberID: "123456789"},
			map[string]string{"insurance.group": "required for Cigna"}},
		{"united group optional", Insurance{Carrier: "uhc", MemberID: "1234567890"}, map[string]string{}},
		{"medicare", Insurance{Carrier: "Medicare", MemberID: "123-45-6789a"}, map[string]string{}},
		{"unknown carrier short id", Insurance{Carrier: "Acme Health", MemberID: "abc"},
			map[string]string{"insurance.member_id": "must be 5 to 20 characters"}},
		{"member without carrier", Insurance{MemberID: "ABC12345"},
			map[string]string{"insurance.carrier": "required"}},
		{"carrier without member", Insurance{Carrier: "Acme Health"},
			map[string]string{"insurance.member_id": "required"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]string{}
			tt.in.Normalize().validate(fields)
			assert.Equal(t, tt.want, fields)
		})
	}
}
