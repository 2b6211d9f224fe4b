// Package cancellation reconciles patient replies, explicit cancels and the
// no-show sweep into appointment state changes.
package cancellation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// ErrAmbiguousSignal means an inbound reply could not be tied to a live
// appointment.
var ErrAmbiguousSignal = errors.New("could not locate your appointment")

// Signal is one inbound patient message.
type Signal struct {
	Channel appointment.Channel
	Contact string // email address or phone number of the sender
	Text    string
}

type Outcome struct {
	Intent      Intent
	Appointment *appointment.Appointment
	Changed     bool
	Reply       string
}

// LogEntry is one row of the append-only cancellation log.
type LogEntry struct {
	ID            int64
	AppointmentID uuid.UUID
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	DoctorID      string
	Date          string
	Time          string
	Channel       appointment.Channel
	Reason        string
	CancelledAt   time.Time
}

type Stats struct {
	Total     int
	ByChannel map[string]int
	ByDoctor  map[string]int
	Recent    []LogEntry
}

// ReleaseRequest carries everything the release transaction writes.
type ReleaseRequest struct {
	Appointment *appointment.Appointment
	From        []appointment.Status
	To          appointment.Status
	Channel     appointment.Channel
	Reason      string
	At          time.Time
}

// Store performs the slot-release transaction: conditional status update,
// freeing the occupancy row if it still belongs to the appointment,
// cancelling open reminders and appending to the log. Nothing is written
// when the status update matches no row; the store then returns
// appointment.ErrAppointmentNotFound.
type Store interface {
	Release(ctx context.Context, req ReleaseRequest) (*appointment.Appointment, error)
	Stats(ctx context.Context, recent int) (*Stats, error)
}
