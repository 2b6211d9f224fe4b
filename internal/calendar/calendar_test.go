package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
doctors:
  - id: dr_a
    name: Dr. A
    specialty: General Medicine
    location: Room 1
    hours:
      monday: {start: "09:00", end: "17:00"}
      tue: {start: "09:00", end: "17:00"}
      Friday: {start: "09:00", end: "13:00"}
    lunch: {start: "12:00", end: "13:00"}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), time.UTC)
	require.NoError(t, err)

	d, err := c.Get("dr_a")
	require.NoError(t, err)
	assert.Equal(t, "Dr. A", d.Name)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Friday}, d.WorkingDays())

	w, ok := d.WorksOn(time.Friday)
	require.True(t, ok)
	assert.Equal(t, "09:00", w.Start.String())
	assert.Equal(t, "13:00", w.End.String())

	_, ok = d.WorksOn(time.Sunday)
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	c, err := LoadFile(path, time.UTC)
	require.NoError(t, err)
	assert.Len(t, c.List(), 1)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown weekday", `doctors: [{id: x, hours: {funday: {start: "09:00", end: "10:00"}}, lunch: {start: "12:00", end: "13:00"}}]`},
		{"inverted window", `doctors: [{id: x, hours: {monday: {start: "17:00", end: "09:00"}}, lunch: {start: "12:00", end: "13:00"}}]`},
		{"bad clock", `doctors: [{id: x, hours: {monday: {start: "9am", end: "17:00"}}, lunch: {start: "12:00", end: "13:00"}}]`},
		{"no hours", `doctors: [{id: x, lunch: {start: "12:00", end: "13:00"}}]`},
		{"duplicate", `doctors: [{id: x, hours: {monday: {start: "09:00", end: "10:00"}}, lunch: {start: "12:00", end: "13:00"}}, {id: x, hours: {monday: {start: "09:00", end: "10:00"}}, lunch: {start: "12:00", end: "13:00"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), time.UTC)
			assert.ErrorIs(t, err, ErrInvalidCalendar)
		})
	}
}

func TestCatalog_GetUnknownDoctor(t *testing.T) {
	c := Defaults(time.UTC)
	_, err := c.Get("dr_nobody")
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestDefaults(t *testing.T) {
	c := Defaults(time.UTC)
	require.Len(t, c.List(), 5)

	reddy, err := c.Get("dr_reddy")
	require.NoError(t, err)
	assert.Equal(t, "12:30", reddy.Lunch.Start.String())
	_, works := reddy.WorksOn(time.Tuesday)
	assert.False(t, works)
}

func TestClockTime_On(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	day := time.Date(2025, 1, 10, 0, 0, 0, 0, loc)
	got := MustClock("14:00").On(day, loc)
	assert.Equal(t, time.Date(2025, 1, 10, 14, 0, 0, 0, loc), got)
}
