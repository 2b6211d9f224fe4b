package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Plan derives the three reminders for an appointment booked at now. Stages
// whose time has already passed keep their past time so the next dispatcher
// pass catches them up.
func Plan(appt *appointment.Appointment, now time.Time) []Reminder {
	out := make([]Reminder, 0, len(Stages))
	for _, st := range Stages {
		out = append(out, Reminder{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			Stage:         st,
			ScheduledAt:   st.ScheduledFor(appt.Start, now),
			Status:        StatusPending,
		})
	}
	return out
}

// Scheduler persists the reminder queue for new bookings and sends the
// immediate confirmation straight away.
type Scheduler struct {
	repo       Repository
	dispatcher *Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

func NewScheduler(repo Repository, dispatcher *Dispatcher, now func() time.Time, logger *zap.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{repo: repo, dispatcher: dispatcher, now: now, logger: logger}
}

var _ appointment.ReminderScheduler = (*Scheduler)(nil)

func (s *Scheduler) Schedule(ctx context.Context, appt *appointment.Appointment) error {
	now := s.now()
	rs := Plan(appt, now)
	if err := s.repo.CreateReminders(ctx, rs); err != nil {
		return fmt.Errorf("create reminders: %w", err)
	}

	for i := range rs {
		if !rs[i].ScheduledAt.After(now) && rs[i].Stage != StageImmediate {
			s.logger.Info("reminder already due at booking, queued for catch-up",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("stage", string(rs[i].Stage)),
				zap.Time("scheduled_at", rs[i].ScheduledAt),
			)
		}
	}

	if s.dispatcher == nil {
		return nil
	}
	// a failed immediate send is left failed for the next pass to retry
	if _, err := s.dispatcher.Dispatch(ctx, &rs[0]); err != nil {
		s.logger.Warn("immediate reminder not delivered",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	return nil
}
