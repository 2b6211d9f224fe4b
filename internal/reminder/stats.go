package reminder

import (
	"context"
	"fmt"
	"math"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// StageCount tallies one stage's reminders and how many got a reply.
type StageCount struct {
	Total     int
	Responded int
}

// Counts are the raw tallies a Repository reports for Stats.
type Counts struct {
	Appointments map[appointment.Status]int
	Reminders    map[Status]int
	Stages       map[Stage]StageCount
}

// Stats summarises the reminder pipeline. Rates are percentages rounded to
// one decimal.
type Stats struct {
	TotalAppointments        int
	TotalReminders           int
	ReminderStatus           map[Status]int
	AppointmentStatus        map[appointment.Status]int
	FormResponseRate         float64
	ConfirmationResponseRate float64
	NoShowRate               float64
	CancellationRate         float64
}

var (
	reminderStatuses    = []Status{StatusPending, StatusSent, StatusConfirmed, StatusCancelled, StatusFailed}
	appointmentStatuses = []appointment.Status{
		appointment.StatusPending, appointment.StatusConfirmed, appointment.StatusCancelled,
		appointment.StatusNoShow, appointment.StatusRescheduled,
	}
)

// Summarize turns raw counts into Stats. The form rate is the share of
// day-before reminders that got a reply, the confirmation rate the share of
// two-hour reminders.
func Summarize(c Counts) Stats {
	st := Stats{
		ReminderStatus:    make(map[Status]int, len(reminderStatuses)),
		AppointmentStatus: make(map[appointment.Status]int, len(appointmentStatuses)),
	}
	for _, s := range reminderStatuses {
		st.ReminderStatus[s] = 0
	}
	for _, s := range appointmentStatuses {
		st.AppointmentStatus[s] = 0
	}
	for s, n := range c.Reminders {
		st.ReminderStatus[s] += n
		st.TotalReminders += n
	}
	for s, n := range c.Appointments {
		st.AppointmentStatus[s] += n
		st.TotalAppointments += n
	}

	forms, confirms := c.Stages[StageDayBefore], c.Stages[StageTwoHour]
	st.FormResponseRate = percent(forms.Responded, forms.Total)
	st.ConfirmationResponseRate = percent(confirms.Responded, confirms.Total)
	st.NoShowRate = percent(st.AppointmentStatus[appointment.StatusNoShow], st.TotalAppointments)
	st.CancellationRate = percent(st.AppointmentStatus[appointment.StatusCancelled], st.TotalAppointments)
	return st
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*1000/float64(total)) / 10
}

// Stats reports reminder delivery and response figures across all
// appointments.
func (d *Dispatcher) Stats(ctx context.Context) (*Stats, error) {
	c, err := d.reminders.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminder stats: %w", err)
	}
	st := Summarize(*c)
	return &st, nil
}
