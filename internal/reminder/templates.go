package reminder

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// MaxSMSLength is the single-segment SMS limit.
const MaxSMSLength = 160

// Day and Relative are worked out at send time, so a stage that goes out
// late still tells the patient how far off the visit really is.
var subjectTemplates = map[Stage]string{
	StageImmediate: "Appointment Confirmation & Intake Forms",
	StageDayBefore: "Reminder: Your appointment is {{.Relative}}",
	StageTwoHour:   "Final Confirmation: Your appointment {{.Day}}",
}

const immediateEmail = `Dear {{.PatientName}},

Your appointment is booked.

Date: {{.Date}}
Time: {{.Time}}
Duration: {{.Duration}}
Doctor: {{.DoctorName}}{{if .Specialty}} ({{.Specialty}}){{end}}
Location: {{.Location}}

{{if .HasIntakeForm}}We've attached your intake forms. {{end}}Please complete them before your visit.

If you need to cancel, reply CANCEL or call us at {{.ClinicPhone}}.

{{.ClinicName}}
`

const dayBeforeEmail = `Dear {{.PatientName}},

Your appointment is {{.Relative}}!

Date: {{.Date}}
Time: {{.Time}}
Doctor: {{.DoctorName}}
Location: {{.Location}}

IMPORTANT: Have you completed your intake forms?

Reply with:
- YES if your forms are completed
- CANCEL if you can no longer attend

See you {{.Day}}!
{{.ClinicName}}
`

const twoHourEmail = `Dear {{.PatientName}},

Your appointment is {{.Relative}}!

When: {{.Time}} {{.Day}}
Doctor: {{.DoctorName}}
Location: {{.Location}}

Please confirm your appointment. Reply with:
- CONFIRM to confirm you'll attend
- CANCEL to cancel (please include a reason)
- RESCHEDULE if you need to change the time

Remember to arrive 15 minutes early.

{{.ClinicName}}
`

var smsTemplates = map[Stage]string{
	StageImmediate: `{{.ClinicName}}: appt confirmed with {{.DoctorName}} on {{.ShortDate}} at {{.Time}}. Intake forms sent by email. Reply CANCEL to cancel.`,
	StageDayBefore: `Reminder: {{.DoctorName}} {{.Day}} {{.ShortDate}} at {{.Time}}. Forms completed? Reply YES. Reply CANCEL to cancel.`,
	StageTwoHour:   `Your appt with {{.DoctorName}} is {{.Relative}} ({{.Time}}). Reply CONFIRM, CANCEL or RESCHEDULE.`,
}

var emailTemplates = map[Stage]string{
	StageImmediate: immediateEmail,
	StageDayBefore: dayBeforeEmail,
	StageTwoHour:   twoHourEmail,
}

// View is the data every stage template renders from.
type View struct {
	PatientName   string
	DoctorName    string
	Specialty     string
	Location      string
	Date          string
	ShortDate     string
	Time          string
	Duration      string
	Day           string // "today", "tomorrow" or "on Wed, Jan 8"
	Relative      string // "in 2 hours", "tomorrow", ...
	ClinicName    string
	ClinicPhone   string
	HasIntakeForm bool
}

type Rendered struct {
	Subject string
	Body    string
	SMS     string
}

// Renderer turns an appointment and a stage into email and SMS text.
type Renderer struct {
	catalog     *calendar.Catalog
	clinicName  string
	clinicPhone string
	subject     map[Stage]*template.Template
	email       map[Stage]*template.Template
	sms         map[Stage]*template.Template
}

func NewRenderer(catalog *calendar.Catalog, clinicName, clinicPhone string) (*Renderer, error) {
	r := &Renderer{
		catalog:     catalog,
		clinicName:  clinicName,
		clinicPhone: clinicPhone,
		subject:     make(map[Stage]*template.Template, len(Stages)),
		email:       make(map[Stage]*template.Template, len(Stages)),
		sms:         make(map[Stage]*template.Template, len(Stages)),
	}
	for _, st := range Stages {
		var err error
		if r.subject[st], err = parse("subject_"+string(st), subjectTemplates[st]); err != nil {
			return nil, err
		}
		if r.email[st], err = parse("email_"+string(st), emailTemplates[st]); err != nil {
			return nil, err
		}
		if r.sms[st], err = parse("sms_"+string(st), smsTemplates[st]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("templates: parse %s: %w", name, err)
	}
	return t, nil
}

// View builds the template data for appt as seen at now.
func (r *Renderer) View(appt *appointment.Appointment, hasIntakeForm bool, now time.Time) View {
	day, relative := describeLead(appt.Start, now, r.catalog.Location())
	v := View{
		PatientName:   appt.Patient.Name,
		DoctorName:    appt.DoctorID,
		Date:          appt.Start.Format("Monday, January 02, 2006"),
		ShortDate:     appt.Start.Format("Jan 2"),
		Time:          appt.Start.Format("03:04 PM"),
		Duration:      fmt.Sprintf("%d minutes", int(appt.Duration.Minutes())),
		Day:           day,
		Relative:      relative,
		ClinicName:    r.clinicName,
		ClinicPhone:   r.clinicPhone,
		HasIntakeForm: hasIntakeForm,
	}
	if doc, err := r.catalog.Get(appt.DoctorID); err == nil {
		v.DoctorName = doc.Name
		v.Specialty = doc.Specialty
		v.Location = doc.Location
	}
	return v
}

func (r *Renderer) Render(stage Stage, v View) (Rendered, error) {
	et, ok := r.email[stage]
	if !ok {
		return Rendered{}, fmt.Errorf("templates: unknown stage %q", stage)
	}
	var subject, body, sms bytes.Buffer
	if err := r.subject[stage].Execute(&subject, v); err != nil {
		return Rendered{}, fmt.Errorf("templates: execute subject %s: %w", stage, err)
	}
	if err := et.Execute(&body, v); err != nil {
		return Rendered{}, fmt.Errorf("templates: execute email %s: %w", stage, err)
	}
	if err := r.sms[stage].Execute(&sms, v); err != nil {
		return Rendered{}, fmt.Errorf("templates: execute sms %s: %w", stage, err)
	}
	return Rendered{
		Subject: subject.String(),
		Body:    body.String(),
		SMS:     ShortenSMS(sms.String(), MaxSMSLength),
	}, nil
}

// describeLead names the appointment day relative to now and phrases the
// time left. Under 12 hours the lead is spelled out in hours and minutes.
func describeLead(start, now time.Time, loc *time.Location) (day, relative string) {
	start, now = start.In(loc), now.In(loc)
	sy, sm, sd := start.Date()
	ny, nm, nd := now.Date()
	days := int(time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC).Sub(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)).Hours() / 24)

	switch days {
	case 0:
		day = "today"
	case 1:
		day = "tomorrow"
	default:
		day = "on " + start.Format("Mon, Jan 2")
	}

	lead := start.Sub(now).Round(time.Minute)
	switch {
	case lead <= 0:
		relative = "now"
	case lead < 12*time.Hour:
		relative = "in " + spellDuration(lead)
	case days == 0:
		relative = "later today"
	default:
		relative = day
	}
	return day, relative
}

func spellDuration(d time.Duration) string {
	h, m := int(d/time.Hour), int((d%time.Hour)/time.Minute)
	var parts []string
	switch {
	case h == 1:
		parts = append(parts, "1 hour")
	case h > 1:
		parts = append(parts, fmt.Sprintf("%d hours", h))
	}
	switch {
	case m == 1:
		parts = append(parts, "1 minute")
	case m > 1:
		parts = append(parts, fmt.Sprintf("%d minutes", m))
	}
	return strings.Join(parts, " ")
}

// ShortenSMS collapses whitespace and truncates to max runes with an ellipsis.
func ShortenSMS(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
