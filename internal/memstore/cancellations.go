package memstore

import (
	"context"
	"sort"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func (s *Store) Release(_ context.Context, req cancellation.ReleaseRequest) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[req.Appointment.ID]
	if !ok || !statusIn(a.Status, req.From) {
		return nil, appointment.ErrAppointmentNotFound
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	a.Status = req.To
	a.CancelReason = req.Reason
	a.CancelChannel = req.Channel
	a.CancelledAt = &at
	a.UpdatedAt = s.now()

	key := s.slotKeyFor(a.DoctorID, a.Start)
	if occ, ok := s.occupancy[key]; ok && occ.AppointmentID != nil && *occ.AppointmentID == a.ID {
		occ.Available = true
		occ.Status = appointment.OccupancyCancelled
		occ.PatientName, occ.PatientEmail, occ.PatientPhone = "", "", ""
		occ.AppointmentID = nil
		occ.UpdatedAt = s.now()
	}

	for _, r := range s.reminders {
		if r.AppointmentID == a.ID && (r.Status == reminder.StatusPending || r.Status == reminder.StatusFailed) {
			r.Status = reminder.StatusCancelled
			r.UpdatedAt = s.now()
		}
	}

	s.cancellations = append(s.cancellations, cancellation.LogEntry{
		ID:            int64(len(s.cancellations) + 1),
		AppointmentID: a.ID,
		PatientName:   a.Patient.Name,
		PatientEmail:  a.Patient.Email,
		PatientPhone:  a.Patient.Phone,
		DoctorID:      a.DoctorID,
		Date:          a.SlotDate(),
		Time:          a.SlotTime(),
		Channel:       req.Channel,
		Reason:        req.Reason,
		CancelledAt:   at,
	})

	out := a.Appointment
	return &out, nil
}

func (s *Store) Stats(_ context.Context, recent int) (*cancellation.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &cancellation.Stats{
		Total:     len(s.cancellations),
		ByChannel: map[string]int{},
		ByDoctor:  map[string]int{},
	}
	for _, e := range s.cancellations {
		st.ByChannel[string(e.Channel)]++
		st.ByDoctor[e.DoctorID]++
	}
	st.Recent = s.sortedLog()
	if recent >= 0 && len(st.Recent) > recent {
		st.Recent = st.Recent[:recent]
	}
	return st, nil
}

// Log returns the cancellation log, newest first.
func (s *Store) Log() []cancellation.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLog()
}

func (s *Store) sortedLog() []cancellation.LogEntry {
	out := make([]cancellation.LogEntry, len(s.cancellations))
	copy(out, s.cancellations)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CancelledAt.Equal(out[j].CancelledAt) {
			return out[i].CancelledAt.After(out[j].CancelledAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
