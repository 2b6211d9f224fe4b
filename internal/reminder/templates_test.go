package reminder_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func sampleAppointment() *appointment.Appointment {
	return &appointment.Appointment{
		Patient:  appointment.Patient{Name: "Jane Doe"},
		DoctorID: "dr_a",
		Start:    ts("2025-01-08 14:30"),
		Duration: 60 * time.Minute,
	}
}

func TestRenderer_Stages(t *testing.T) {
	r, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "(555) 123-4567")
	require.NoError(t, err)

	tests := []struct {
		stage   reminder.Stage
		now     string
		subject string
		body    []string
		sms     string
	}{
		{
			stage:   reminder.StageImmediate,
			now:     "2025-01-06 08:00",
			subject: "Appointment Confirmation & Intake Forms",
			body:    []string{"Dear Jane Doe,", "Date: Wednesday, January 08, 2025", "Time: 02:30 PM", "Duration: 60 minutes", "Doctor: Dr. A (Family Medicine)", "Location: Suite 100", "call us at (555) 123-4567"},
			sms:     "Test Clinic: appt confirmed with Dr. A on Jan 8 at 02:30 PM.",
		},
		{
			stage:   reminder.StageDayBefore,
			now:     "2025-01-07 14:30",
			subject: "Reminder: Your appointment is tomorrow",
			body:    []string{"Your appointment is tomorrow!", "- YES if your forms are completed", "See you tomorrow!"},
			sms:     "Reminder: Dr. A tomorrow Jan 8 at 02:30 PM.",
		},
		{
			stage:   reminder.StageTwoHour,
			now:     "2025-01-08 12:30",
			subject: "Final Confirmation: Your appointment today",
			body:    []string{"Your appointment is in 2 hours!", "When: 02:30 PM today", "- RESCHEDULE if you need to change the time"},
			sms:     "Your appt with Dr. A is in 2 hours (02:30 PM).",
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			out, err := r.Render(tt.stage, r.View(sampleAppointment(), false, ts(tt.now)))
			require.NoError(t, err)
			assert.Equal(t, tt.subject, out.Subject)
			for _, want := range tt.body {
				assert.Contains(t, out.Body, want)
			}
			assert.True(t, strings.HasPrefix(out.SMS, tt.sms), out.SMS)
			assert.LessOrEqual(t, utf8.RuneCountInString(out.SMS), reminder.MaxSMSLength)
		})
	}
}

func TestRenderer_WordingFollowsSendTime(t *testing.T) {
	r, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "")
	require.NoError(t, err)

	// the appointment is 2025-01-08 14:30
	tests := []struct {
		now      string
		day      string
		relative string
	}{
		{"2025-01-08 13:45", "today", "in 45 minutes"},
		{"2025-01-08 12:00", "today", "in 2 hours 30 minutes"},
		{"2025-01-08 13:29", "today", "in 1 hour 1 minute"},
		{"2025-01-08 01:00", "today", "later today"},
		{"2025-01-07 23:00", "tomorrow", "tomorrow"},
		{"2025-01-06 08:00", "on Wed, Jan 8", "on Wed, Jan 8"},
	}
	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			v := r.View(sampleAppointment(), false, ts(tt.now))
			assert.Equal(t, tt.day, v.Day)
			assert.Equal(t, tt.relative, v.Relative)
		})
	}

	// a day-before reminder caught up on the morning of the visit
	out, err := r.Render(reminder.StageDayBefore, r.View(sampleAppointment(), false, ts("2025-01-08 13:45")))
	require.NoError(t, err)
	assert.Equal(t, "Reminder: Your appointment is in 45 minutes", out.Subject)
	assert.Contains(t, out.Body, "See you today!")
	assert.NotContains(t, out.Body, "tomorrow")
	assert.NotContains(t, out.SMS, "tomorrow")
}

func TestRenderer_NoIntakeSentence(t *testing.T) {
	r, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "(555) 123-4567")
	require.NoError(t, err)

	out, err := r.Render(reminder.StageImmediate, r.View(sampleAppointment(), false, ts("2025-01-06 08:00")))
	require.NoError(t, err)
	assert.NotContains(t, out.Body, "attached")
	assert.Contains(t, out.Body, "Please complete them before your visit.")
}

func TestRenderer_UnknownDoctorFallsBackToID(t *testing.T) {
	r, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "")
	require.NoError(t, err)

	appt := sampleAppointment()
	appt.DoctorID = "dr_gone"
	v := r.View(appt, false, ts("2025-01-06 08:00"))
	assert.Equal(t, "dr_gone", v.DoctorName)
	assert.Empty(t, v.Location)
}

func TestRenderer_UnknownStage(t *testing.T) {
	r, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "")
	require.NoError(t, err)

	_, err = r.Render(reminder.Stage("weekly"), reminder.View{})
	assert.Error(t, err)
}

func TestRenderer_LongSMSIsTruncated(t *testing.T) {
	long := strings.Repeat("Riverside Family Health Partners ", 4)
	r, err := reminder.NewRenderer(testCatalog(t), long, "")
	require.NoError(t, err)

	out, err := r.Render(reminder.StageImmediate, r.View(sampleAppointment(), false, ts("2025-01-06 08:00")))
	require.NoError(t, err)
	assert.Equal(t, reminder.MaxSMSLength, utf8.RuneCountInString(out.SMS))
	assert.True(t, strings.HasSuffix(out.SMS, "..."))
}

func TestShortenSMS(t *testing.T) {
	assert.Equal(t, "a b c", reminder.ShortenSMS("  a \n b\tc ", 160))
	assert.Equal(t, "héllo", reminder.ShortenSMS("héllo", 5))
	assert.Equal(t, "hé...", reminder.ShortenSMS("héllo world", 5))
}
