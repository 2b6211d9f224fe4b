package appointment

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/availability"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// Terminal statuses never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	case StatusPending, StatusConfirmed:
		return false
	}
	return false
}

// CanTransition lists the legal moves of the appointment lifecycle.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		switch to {
		case StatusConfirmed, StatusCancelled, StatusNoShow, StatusRescheduled:
			return true
		}
	case StatusConfirmed:
		switch to {
		case StatusCancelled, StatusRescheduled:
			return true
		}
	case StatusCancelled, StatusNoShow, StatusRescheduled:
	}
	return false
}

// SourcesFor returns the statuses an appointment may be in to move to `to`.
func SourcesFor(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusPending, StatusConfirmed} {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

// Channel identifies where a state change originated.
type Channel string

const (
	ChannelSMS        Channel = "sms"
	ChannelEmail      Channel = "email"
	ChannelAPI        Channel = "api"
	ChannelAuto       Channel = "auto"
	ChannelReschedule Channel = "reschedule"
)

type OccupancyStatus string

const (
	OccupancyAvailable OccupancyStatus = "available"
	OccupancyBooked    OccupancyStatus = "booked"
	OccupancyCancelled OccupancyStatus = "cancelled"
)

// Patient is the identity snapshot stored on an appointment.
type Patient struct {
	Name  string
	DOB   time.Time
	Email string
	Phone string
}

type Insurance struct {
	Carrier  string
	MemberID string
	Group    string
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	Patient         Patient
	DoctorID        string
	Start           time.Time
	Duration        time.Duration
	Category        availability.Category
	Insurance       Insurance
	Status          Status
	FormsCompleted  bool
	CancelReason    string
	CancelChannel   Channel
	CancelledAt     *time.Time
	RescheduledFrom *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time { return a.Start.Add(a.Duration) }

// SlotDate and SlotTime form the occupancy key together with DoctorID.
func (a Appointment) SlotDate() string { return a.Start.Format(time.DateOnly) }
func (a Appointment) SlotTime() string { return a.Start.Format("15:04") }

// PatientRecord is the registry entry keyed by name and date of birth.
type PatientRecord struct {
	ID         uuid.UUID
	Name       string
	DOB        time.Time
	Email      string
	Phone      string
	DoctorID   string
	Insurance  Insurance
	VisitCount int
	Status     availability.Category
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Occupancy is the durable row for one (doctor, date, time) key.
type Occupancy struct {
	DoctorID      string
	Date          string
	Time          string
	Start         time.Time
	Duration      time.Duration
	Available     bool
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	AppointmentID *uuid.UUID
	Status        OccupancyStatus
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// NameKey folds a patient name for natural-key comparison.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PhoneKey reduces a phone number to its last ten digits so that
// "+1 (555) 010-2000" from a carrier webhook matches "555-010-2000" typed at
// booking.
func PhoneKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}
