package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventFormsCompleted         = "FORMS_COMPLETED"
	EventIntakeResent           = "INTAKE_RESENT"
	EventResponseUnresolved     = "RESPONSE_UNRESOLVED"
)

var (
	ErrAlreadyTerminal   = errors.New("appointment is already closed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRescheduleFailed  = errors.New("reschedule failed: the original appointment was released but the new slot could not be booked")
)

// ValidationError reports request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Canceller performs the canonical slot-release transaction. Every path that
// ends an appointment goes through it.
type Canceller interface {
	Release(ctx context.Context, id uuid.UUID, to Status, channel Channel, reason string) (*Appointment, error)
}

// ReminderScheduler queues the follow-up reminders for a new booking.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt *Appointment) error
}

type Deps struct {
	Repo      Repository
	Planner   *availability.Planner
	Locker    redisclient.Locker
	Canceller Canceller
	Reminders ReminderScheduler
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	repo      Repository
	planner   *availability.Planner
	locker    redisclient.Locker
	canceller Canceller
	reminders ReminderScheduler
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      d.Repo,
		planner:   d.Planner,
		locker:    d.Locker,
		canceller: d.Canceller,
		reminders: d.Reminders,
		metrics:   d.Metrics,
		logger:    logger,
	}
}

type BookRequest struct {
	DoctorID  string
	Start     time.Time
	Patient   Patient
	Insurance Insurance
}

func (r BookRequest) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(r.DoctorID) == "" {
		fields["doctor_id"] = "required"
	}
	if r.Start.IsZero() {
		fields["start"] = "required"
	}
	if strings.TrimSpace(r.Patient.Name) == "" {
		fields["patient.name"] = "required"
	}
	if r.Patient.DOB.IsZero() {
		fields["patient.dob"] = "required"
	} else if r.Patient.DOB.After(r.Start) && !r.Start.IsZero() {
		fields["patient.dob"] = "must be before the appointment"
	}
	if r.Patient.Email == "" && r.Patient.Phone == "" {
		fields["patient.contact"] = "email or phone is required"
	}
	if r.Patient.Email != "" && !strings.Contains(r.Patient.Email, "@") {
		fields["patient.email"] = "invalid"
	}
	if r.Patient.Phone != "" && len(PhoneKey(r.Patient.Phone)) < 7 {
		fields["patient.phone"] = "invalid"
	}
	r.Insurance.validate(fields)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type bookOptions struct {
	category        availability.Category
	countVisit      bool
	rescheduledFrom *uuid.UUID
}

// Book classifies the patient, re-validates the chosen start under the
// doctor-day lock and writes the booking. Losing the race for the slot, or
// the lock, is ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	req.Insurance = req.Insurance.Normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	category, _, err := s.ClassifyPatient(ctx, req.Patient.Name, req.Patient.DOB)
	if err != nil {
		return nil, err
	}
	return s.book(ctx, req, bookOptions{category: category, countVisit: true})
}

func (s *Service) book(ctx context.Context, req BookRequest, opts bookOptions) (*Appointment, error) {
	loc := s.planner.Catalog().Location()
	start := req.Start.In(loc).Truncate(time.Minute)
	req.Patient.Name = strings.Join(strings.Fields(req.Patient.Name), " ")
	req.Patient.Email = strings.TrimSpace(req.Patient.Email)

	var created *Appointment

	err := s.locker.WithLock(ctx, redisclient.SlotKey(req.DoctorID, start), func(lockCtx context.Context) error {
		// Inside the critical section re-check the slot against current occupancy
		if err := s.planner.CheckSlot(lockCtx, req.DoctorID, start, opts.category); err != nil {
			if errors.Is(err, availability.ErrSlotTaken) {
				return ErrSlotConflict
			}
			return err
		}

		appt, _, err := s.repo.CreateBooking(lockCtx, &Appointment{
			ID:              uuid.New(),
			Patient:         req.Patient,
			DoctorID:        req.DoctorID,
			Start:           start,
			Duration:        opts.category.Duration(),
			Category:        opts.category,
			Insurance:       req.Insurance,
			Status:          StatusPending,
			RescheduledFrom: opts.rescheduledFrom,
		}, opts.countVisit)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("create booking: %w", err)
		}
		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveBooking("conflict")
			return nil, fmt.Errorf("%w: %s at %s", ErrSlotConflict, req.DoctorID, start.Format("2006-01-02 15:04"))
		}
		s.metrics.ObserveBooking("error")
		return nil, err
	}

	s.metrics.ObserveBooking("booked")
	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID),
		zap.Time("start", created.Start),
		zap.String("category", string(created.Category)),
	)
	payload := map[string]any{
		"doctor_id": created.DoctorID,
		"start":     created.Start,
		"category":  created.Category,
	}
	if created.RescheduledFrom != nil {
		payload["rescheduled_from"] = created.RescheduledFrom.String()
	}
	s.logEvent(ctx, created.ID, EventAppointmentBooked, payload)

	if s.reminders != nil {
		if err := s.reminders.Schedule(ctx, created); err != nil {
			// the booking stands; the dispatcher cannot recover missing rows
			s.logger.Error("schedule reminders failed",
				zap.String("appointment_id", created.ID.String()), zap.Error(err))
		}
	}

	return created, nil
}

// Cancel ends an appointment on behalf of the API caller. The slot itself is
// freed by the canceller so every cancellation path shares one routine.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	if _, err := s.repo.GetAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by request"
	}
	return s.canceller.Release(ctx, id, StatusCancelled, ChannelAPI, reason)
}

// Reschedule releases the original appointment and books newStart for the
// same patient. A failed rebook leaves the original released; the returned
// error wraps ErrRescheduleFailed and the cause.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	orig, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if orig.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTerminal, orig.Status)
	}
	if newStart.IsZero() {
		return nil, &ValidationError{Fields: map[string]string{"start": "required"}}
	}

	reason := "rescheduled to " + newStart.In(s.planner.Catalog().Location()).Format("2006-01-02 15:04")
	if _, err := s.canceller.Release(ctx, id, StatusRescheduled, ChannelReschedule, reason); err != nil {
		return nil, err
	}

	origID := orig.ID
	created, err := s.book(ctx, BookRequest{
		DoctorID:  orig.DoctorID,
		Start:     newStart,
		Patient:   orig.Patient,
		Insurance: orig.Insurance,
	}, bookOptions{category: orig.Category, rescheduledFrom: &origID})
	if err != nil {
		s.logger.Warn("reschedule left patient without a booking",
			zap.String("appointment_id", orig.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRescheduleFailed, err)
	}

	s.logger.Info("appointment rescheduled",
		zap.String("from", orig.ID.String()),
		zap.String("to", created.ID.String()),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ClassifyPatient returns returning for a known patient with at least one
// prior visit, new otherwise. The record is nil for unknown patients.
func (s *Service) ClassifyPatient(ctx context.Context, name string, dob time.Time) (availability.Category, *PatientRecord, error) {
	rec, err := s.repo.FindPatient(ctx, name, dob)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return availability.CategoryNew, nil, nil
		}
		return "", nil, fmt.Errorf("classify patient: %w", err)
	}
	if rec.VisitCount >= 1 {
		return availability.CategoryReturning, rec, nil
	}
	return availability.CategoryNew, rec, nil
}

type PatientQuery struct {
	Name  string
	DOB   time.Time
	Email string
	Phone string
}

// LookupPatient tries name and date of birth first, then email, then phone.
func (s *Service) LookupPatient(ctx context.Context, q PatientQuery) (*PatientRecord, error) {
	type attempt struct {
		ok   bool
		find func() (*PatientRecord, error)
	}
	attempts := []attempt{
		{q.Name != "" && !q.DOB.IsZero(), func() (*PatientRecord, error) { return s.repo.FindPatient(ctx, q.Name, q.DOB) }},
		{q.Email != "", func() (*PatientRecord, error) { return s.repo.FindPatientByEmail(ctx, q.Email) }},
		{PhoneKey(q.Phone) != "", func() (*PatientRecord, error) { return s.repo.FindPatientByPhone(ctx, PhoneKey(q.Phone)) }},
	}

	tried := false
	for _, a := range attempts {
		if !a.ok {
			continue
		}
		tried = true
		rec, err := a.find()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return nil, fmt.Errorf("lookup patient: %w", err)
		}
	}
	if !tried {
		return nil, &ValidationError{Fields: map[string]string{"query": "name and dob, email or phone is required"}}
	}
	return nil, ErrPatientNotFound
}

func (s *Service) FindSlots(ctx context.Context, req availability.Request) ([]availability.Slot, error) {
	return s.planner.FindSlots(ctx, req)
}

func (s *Service) Doctors() []calendar.DoctorCalendar {
	return s.planner.Catalog().List()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	LogEvent(ctx, s.repo, s.logger, appointmentID, eventType, payload)
}

// EventWriter is the event-log half of Repository.
type EventWriter interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// LogEvent appends to the event log. Failures are logged, never returned.
func LogEvent(ctx context.Context, w EventWriter, logger *zap.Logger, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := w.InsertEvent(ctx, ev); err != nil {
		logger.Error("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
