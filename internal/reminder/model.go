// Package reminder schedules and dispatches the three-stage appointment
// reminders.
package reminder

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageImmediate Stage = "immediate"
	StageDayBefore Stage = "day_before"
	StageTwoHour   Stage = "two_hour"
)

// Stages in dispatch order.
var Stages = []Stage{StageImmediate, StageDayBefore, StageTwoHour}

// Order is the stage's position in Stages; unknown stages sort last.
func (s Stage) Order() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return len(Stages)
}

// ScheduledFor returns when the stage fires for an appointment starting at
// start. The immediate stage fires at booking time.
func (s Stage) ScheduledFor(start, bookedAt time.Time) time.Time {
	switch s {
	case StageDayBefore:
		return start.Add(-24 * time.Hour)
	case StageTwoHour:
		return start.Add(-2 * time.Hour)
	case StageImmediate:
	}
	return bookedAt
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

type Reminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Stage         Stage
	ScheduledAt   time.Time
	Status        Status
	Message       string
	Response      string
	Attempts      int
	LastError     string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Dispatchable reports whether the reminder may still be (re)sent.
func (r Reminder) Dispatchable(maxAttempts int) bool {
	switch r.Status {
	case StatusPending, StatusFailed:
		return r.Attempts < maxAttempts
	case StatusSent, StatusConfirmed, StatusCancelled:
	}
	return false
}
