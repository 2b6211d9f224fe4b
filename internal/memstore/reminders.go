package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func (s *Store) CreateReminders(_ context.Context, rs []reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, r := range rs {
		if s.hasStage(r.AppointmentID, r.Stage) {
			continue
		}
		r.Status = reminder.StatusPending
		r.Attempts = 0
		r.CreatedAt = now
		r.UpdatedAt = now
		stored := r
		s.reminders[r.ID] = &stored
	}
	return nil
}

func (s *Store) hasStage(appointmentID uuid.UUID, stage reminder.Stage) bool {
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID && r.Stage == stage {
			return true
		}
	}
	return false
}

func (s *Store) GetReminder(_ context.Context, id uuid.UUID) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, reminder.ErrReminderNotFound
	}
	out := *r
	return &out, nil
}

func (s *Store) ListReminders(_ context.Context, appointmentID uuid.UUID) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReminders(func(r *reminder.Reminder) bool { return r.AppointmentID == appointmentID }, 0), nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReminders(func(r *reminder.Reminder) bool {
		return r.Dispatchable(maxAttempts) && !r.ScheduledAt.After(now)
	}, limit), nil
}

func (s *Store) filterReminders(keep func(*reminder.Reminder) bool, limit int) []reminder.Reminder {
	var out []reminder.Reminder
	for _, r := range s.reminders {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].Stage.Order() < out[j].Stage.Order()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// open returns the reminder only while it is pending or failed.
func (s *Store) open(id uuid.UUID) (*reminder.Reminder, error) {
	r, ok := s.reminders[id]
	if !ok || (r.Status != reminder.StatusPending && r.Status != reminder.StatusFailed) {
		return nil, reminder.ErrNotDispatchable
	}
	return r, nil
}

func (s *Store) Claim(_ context.Context, id uuid.UUID, attempts, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.open(id)
	if err != nil {
		return err
	}
	if r.Attempts != attempts || r.Attempts >= maxAttempts {
		return reminder.ErrNotDispatchable
	}
	r.Attempts++
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkSent(_ context.Context, id uuid.UUID, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.open(id)
	if err != nil {
		return err
	}
	r.Status = reminder.StatusSent
	r.Message = message
	r.SentAt = &at
	r.LastError = ""
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, message, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.open(id)
	if err != nil {
		return err
	}
	r.Status = reminder.StatusFailed
	r.Message = message
	r.LastError = lastErr
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.open(id)
	if err != nil {
		return err
	}
	r.Status = reminder.StatusCancelled
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) LatestSent(_ context.Context, appointmentID uuid.UUID) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *reminder.Reminder
	for _, r := range s.reminders {
		if r.AppointmentID != appointmentID || r.SentAt == nil {
			continue
		}
		if r.Status != reminder.StatusSent && r.Status != reminder.StatusConfirmed {
			continue
		}
		if best == nil || r.SentAt.After(*best.SentAt) ||
			(r.SentAt.Equal(*best.SentAt) && r.ScheduledAt.After(best.ScheduledAt)) {
			best = r
		}
	}
	if best == nil {
		return nil, reminder.ErrReminderNotFound
	}
	out := *best
	return &out, nil
}

func (s *Store) RecordResponse(_ context.Context, id uuid.UUID, response string, status reminder.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return reminder.ErrReminderNotFound
	}
	r.Response = response
	r.Status = status
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) Counts(_ context.Context) (*reminder.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &reminder.Counts{
		Appointments: map[appointment.Status]int{},
		Reminders:    map[reminder.Status]int{},
		Stages:       map[reminder.Stage]reminder.StageCount{},
	}
	for _, a := range s.appointments {
		c.Appointments[a.Status]++
	}
	for _, r := range s.reminders {
		c.Reminders[r.Status]++
		sc := c.Stages[r.Stage]
		sc.Total++
		if r.Response != "" {
			sc.Responded++
		}
		c.Stages[r.Stage] = sc
	}
	return c, nil
}

func (s *Store) CancelForTerminalAppointments(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.reminders {
		a, ok := s.appointments[r.AppointmentID]
		if !ok || !a.Status.Terminal() {
			continue
		}
		if r.Status == reminder.StatusPending || r.Status == reminder.StatusFailed {
			r.Status = reminder.StatusCancelled
			r.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}
