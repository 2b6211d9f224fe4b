package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/availability"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrOccupancyNotFound   = errors.New("slot occupancy not found")
	ErrSlotConflict        = errors.New("slot unavailable, choose another")
)

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	availability.OccupancySource

	// CreateBooking upserts the patient record, inserts the appointment and
	// marks the (doctor, date, time) occupancy row as booked in one
	// transaction. The occupancy write only succeeds when the row is absent
	// or available; otherwise ErrSlotConflict. countVisit=false leaves the
	// visit count alone (reschedules).
	CreateBooking(ctx context.Context, appt *Appointment, countVisit bool) (*Appointment, *PatientRecord, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetOccupancy(ctx context.Context, doctorID string, start time.Time) (*Occupancy, error)

	// FindLatestActiveByContact returns the most recently created pending or
	// confirmed appointment whose email or phone key matches.
	FindLatestActiveByContact(ctx context.Context, email, phoneKey string) (*Appointment, error)

	// ListByDay returns the appointments of any status that start on the
	// clinic day of `day`, ordered by start. An empty doctorID lists every
	// doctor.
	ListByDay(ctx context.Context, doctorID string, day time.Time) ([]Appointment, error)

	// No-show sweep
	ListPendingStartedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// TransitionStatus moves the appointment to `to` only if it is currently
	// in one of `from`. ErrAppointmentNotFound when nothing matched.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)
	SetFormsCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Patient registry
	FindPatient(ctx context.Context, name string, dob time.Time) (*PatientRecord, error)
	FindPatientByEmail(ctx context.Context, email string) (*PatientRecord, error)
	FindPatientByPhone(ctx context.Context, phoneKey string) (*PatientRecord, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
