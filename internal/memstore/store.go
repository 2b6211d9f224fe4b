// Package memstore keeps appointments, reminders and the cancellation log in
// process memory. It backs STORE_DRIVER=memory and the package tests, and
// follows the same conditional-write rules as the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

type patientKey struct {
	name string
	dob  string
}

type slotKey struct {
	doctorID string
	date     string
	time     string
}

type storedAppointment struct {
	appointment.Appointment
	seq int64
}

// Store is safe for concurrent use. One mutex guards everything so every
// method is atomic, which is what the Postgres transactions give.
type Store struct {
	mu  sync.Mutex
	loc *time.Location
	now func() time.Time
	seq int64

	patients      map[patientKey]*appointment.PatientRecord
	appointments  map[uuid.UUID]*storedAppointment
	occupancy     map[slotKey]*appointment.Occupancy
	reminders     map[uuid.UUID]*reminder.Reminder
	cancellations []cancellation.LogEntry
	events        []appointment.EventLog
}

func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:          loc,
		now:          time.Now,
		patients:     make(map[patientKey]*appointment.PatientRecord),
		appointments: make(map[uuid.UUID]*storedAppointment),
		occupancy:    make(map[slotKey]*appointment.Occupancy),
		reminders:    make(map[uuid.UUID]*reminder.Reminder),
	}
}

var (
	_ appointment.Repository = (*Store)(nil)
	_ reminder.Repository    = (*Store)(nil)
	_ cancellation.Store     = (*Store)(nil)
)

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Store) slotKeyFor(doctorID string, start time.Time) slotKey {
	start = start.In(s.loc)
	return slotKey{doctorID: doctorID, date: start.Format(time.DateOnly), time: start.Format("15:04")}
}

// Appointments

func (s *Store) CreateBooking(_ context.Context, appt *appointment.Appointment, countVisit bool) (*appointment.Appointment, *appointment.PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	key := s.slotKeyFor(appt.DoctorID, appt.Start)
	if occ, ok := s.occupancy[key]; ok && !occ.Available {
		return nil, nil, appointment.ErrSlotConflict
	}
	for _, a := range s.appointments {
		if a.DoctorID == appt.DoctorID && a.Start.Equal(appt.Start) && !a.Status.Terminal() {
			return nil, nil, appointment.ErrSlotConflict
		}
	}

	pk := patientKey{name: appointment.NameKey(appt.Patient.Name), dob: appt.Patient.DOB.Format(time.DateOnly)}
	rec, ok := s.patients[pk]
	if !ok {
		rec = &appointment.PatientRecord{
			ID:        uuid.New(),
			Name:      appt.Patient.Name,
			DOB:       appt.Patient.DOB,
			Status:    availability.CategoryNew,
			CreatedAt: now,
		}
		s.patients[pk] = rec
		// a first booking counts as the first visit, like the SQL insert
		rec.VisitCount = 1
	} else if countVisit {
		rec.VisitCount++
		rec.Status = availability.CategoryReturning
	}
	if appt.Patient.Email != "" {
		rec.Email = appt.Patient.Email
	}
	if appt.Patient.Phone != "" {
		rec.Phone = appt.Patient.Phone
	}
	rec.DoctorID = appt.DoctorID
	mergeInsurance(&rec.Insurance, appt.Insurance)
	rec.UpdatedAt = now

	stored := &storedAppointment{Appointment: *appt, seq: s.nextSeq()}
	stored.PatientID = rec.ID
	stored.Start = appt.Start.In(s.loc)
	stored.Status = appointment.StatusPending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.appointments[stored.ID] = stored

	id := stored.ID
	s.occupancy[key] = &appointment.Occupancy{
		DoctorID:      key.doctorID,
		Date:          key.date,
		Time:          key.time,
		Start:         stored.Start,
		Duration:      stored.Duration,
		Available:     false,
		PatientName:   stored.Patient.Name,
		PatientEmail:  stored.Patient.Email,
		PatientPhone:  stored.Patient.Phone,
		AppointmentID: &id,
		Status:        appointment.OccupancyBooked,
		UpdatedAt:     now,
	}

	out := stored.Appointment
	p := *rec
	return &out, &p, nil
}

func mergeInsurance(dst *appointment.Insurance, src appointment.Insurance) {
	if src.Carrier != "" {
		dst.Carrier = src.Carrier
	}
	if src.MemberID != "" {
		dst.MemberID = src.MemberID
	}
	if src.Group != "" {
		dst.Group = src.Group
	}
}

func (s *Store) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	out := a.Appointment
	return &out, nil
}

func (s *Store) GetOccupancy(_ context.Context, doctorID string, start time.Time) (*appointment.Occupancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.occupancy[s.slotKeyFor(doctorID, start)]
	if !ok {
		return nil, appointment.ErrOccupancyNotFound
	}
	out := *occ
	return &out, nil
}

func (s *Store) BookedIntervals(_ context.Context, doctorID string, day time.Time) ([]availability.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date := day.In(s.loc).Format(time.DateOnly)
	var out []availability.Interval
	for k, occ := range s.occupancy {
		if k.doctorID != doctorID || k.date != date || occ.Available {
			continue
		}
		out = append(out, availability.Interval{Start: occ.Start, End: occ.Start.Add(occ.Duration)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) FindLatestActiveByContact(_ context.Context, email, phoneKey string) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = appointment.NormalizeEmail(email)

	var best *storedAppointment
	for _, a := range s.appointments {
		if a.Status.Terminal() {
			continue
		}
		match := (email != "" && appointment.NormalizeEmail(a.Patient.Email) == email) ||
			(phoneKey != "" && appointment.PhoneKey(a.Patient.Phone) == phoneKey)
		if match && (best == nil || a.seq > best.seq) {
			best = a
		}
	}
	if best == nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	out := best.Appointment
	return &out, nil
}

func (s *Store) ListByDay(_ context.Context, doctorID string, day time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date := day.In(s.loc).Format(time.DateOnly)
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.Start.In(s.loc).Format(time.DateOnly) != date || (doctorID != "" && a.DoctorID != doctorID) {
			continue
		}
		out = append(out, a.Appointment)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return out, nil
}

func (s *Store) ListPendingStartedBefore(_ context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.Status == appointment.StatusPending && a.Start.Before(cutoff) {
			out = append(out, a.Appointment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, from []appointment.Status, to appointment.Status) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok || !statusIn(a.Status, from) {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = s.now()
	out := a.Appointment
	return &out, nil
}

func (s *Store) SetFormsCompleted(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.FormsCompleted = true
	a.UpdatedAt = s.now()
	out := a.Appointment
	return &out, nil
}

func statusIn(s appointment.Status, set []appointment.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// Patients

func (s *Store) FindPatient(_ context.Context, name string, dob time.Time) (*appointment.PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.patients[patientKey{name: appointment.NameKey(name), dob: dob.Format(time.DateOnly)}]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) FindPatientByEmail(_ context.Context, email string) (*appointment.PatientRecord, error) {
	email = appointment.NormalizeEmail(email)
	return s.findPatient(func(p *appointment.PatientRecord) bool {
		return email != "" && appointment.NormalizeEmail(p.Email) == email
	})
}

func (s *Store) FindPatientByPhone(_ context.Context, phoneKey string) (*appointment.PatientRecord, error) {
	return s.findPatient(func(p *appointment.PatientRecord) bool {
		return phoneKey != "" && appointment.PhoneKey(p.Phone) == phoneKey
	})
}

func (s *Store) findPatient(match func(*appointment.PatientRecord) bool) (*appointment.PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *appointment.PatientRecord
	for _, p := range s.patients {
		if match(p) && (best == nil || p.UpdatedAt.After(best.UpdatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, appointment.ErrPatientNotFound
	}
	out := *best
	return &out, nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns the event log, optionally only of the given types.
func (s *Store) Events(types ...string) []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.EventLog
	for _, ev := range s.events {
		if len(types) == 0 || contains(types, ev.EventType) {
			out = append(out, ev)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// SetClock replaces the clock used for created and updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
