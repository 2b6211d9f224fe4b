package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

// Requests

type PatientPayload struct {
	Name  string `json:"name"`
	DOB   string `json:"dob"` // YYYY-MM-DD
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type InsurancePayload struct {
	Carrier  string `json:"carrier,omitempty"`
	MemberID string `json:"member_id,omitempty"`
	Group    string `json:"group,omitempty"`
}

type CreateAppointmentRequest struct {
	DoctorID  string           `json:"doctor_id"`
	Start     string           `json:"start"`
	Patient   PatientPayload   `json:"patient"`
	Insurance InsurancePayload `json:"insurance"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	Start string `json:"start"`
}

// Responses

type PatientResponse struct {
	Name  string `json:"name"`
	DOB   string `json:"dob"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ReminderResponse struct {
	ID          uuid.UUID  `json:"id"`
	Stage       string     `json:"stage"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Response    string     `json:"response,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID          `json:"id"`
	PatientID       uuid.UUID          `json:"patient_id"`
	Patient         PatientResponse    `json:"patient"`
	DoctorID        string             `json:"doctor_id"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	DurationMinutes int                `json:"duration_minutes"`
	Category        string             `json:"category"`
	Status          string             `json:"status"`
	FormsCompleted  bool               `json:"forms_completed"`
	Insurance       *InsurancePayload  `json:"insurance,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	CancelChannel   string             `json:"cancel_channel,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	RescheduledFrom *uuid.UUID         `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	Reminders       []ReminderResponse `json:"reminders,omitempty"`
}

type CancelResponse struct {
	Result      string              `json:"result"` // cancelled, already_cancelled
	Appointment AppointmentResponse `json:"appointment"`
}

type ConfirmResponse struct {
	Changed     bool                `json:"changed"`
	Appointment AppointmentResponse `json:"appointment"`
}

type SlotResponse struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

type AvailabilityResponse struct {
	DoctorID string         `json:"doctor_id"`
	Category string         `json:"category"`
	Slots    []SlotResponse `json:"slots"`
}

type DoctorResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Specialty string            `json:"specialty,omitempty"`
	Location  string            `json:"location,omitempty"`
	Hours     map[string]string `json:"hours"`
	Lunch     string            `json:"lunch"`
}

type PatientRecordResponse struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	DOB        string           `json:"dob"`
	Email      string           `json:"email,omitempty"`
	Phone      string           `json:"phone,omitempty"`
	DoctorID   string           `json:"doctor_id,omitempty"`
	VisitCount int              `json:"visit_count"`
	Category   string           `json:"category"`
	Insurance  InsurancePayload `json:"insurance"`
}

type SignalResponse struct {
	Intent        string     `json:"intent,omitempty"`
	Changed       bool       `json:"changed"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Reply         string     `json:"reply"`
}

type CancellationEntryResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientName   string    `json:"patient_name"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Channel       string    `json:"channel"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type StatsResponse struct {
	Total     int                         `json:"total"`
	ByChannel map[string]int              `json:"by_channel"`
	ByDoctor  map[string]int              `json:"by_doctor"`
	Recent    []CancellationEntryResponse `json:"recent"`
}

type ReminderStatsResponse struct {
	TotalAppointments        int            `json:"total_appointments"`
	TotalReminders           int            `json:"total_reminders"`
	ReminderStatus           map[string]int `json:"reminder_status"`
	AppointmentStatus        map[string]int `json:"appointment_status"`
	FormResponseRate         float64        `json:"form_response_rate"`
	ConfirmationResponseRate float64        `json:"confirmation_response_rate"`
	NoShowRate               float64        `json:"no_show_rate"`
	CancellationRate         float64        `json:"cancellation_rate"`
}

type FreeSlotsResponse struct {
	Category        string         `json:"category"`
	DurationMinutes int            `json:"duration_minutes"`
	Slots           []SlotResponse `json:"slots"`
}

type ScheduleResponse struct {
	DoctorID     string                `json:"doctor_id"`
	DoctorName   string                `json:"doctor_name"`
	Date         string                `json:"date"`
	Day          string                `json:"day"`
	WorkingDay   bool                  `json:"working_day"`
	Hours        string                `json:"hours,omitempty"`
	Lunch        string                `json:"lunch,omitempty"`
	Appointments []AppointmentResponse `json:"appointments"`
	Free         []FreeSlotsResponse   `json:"free"`
}

type DoctorSummaryResponse struct {
	Count             int `json:"count"`
	NewPatients       int `json:"new_patients"`
	ReturningPatients int `json:"returning_patients"`
	BookedMinutes     int `json:"booked_minutes"`
}

type DailySummaryResponse struct {
	Date              string                           `json:"date"`
	Total             int                              `json:"total_appointments"`
	ByStatus          map[string]int                   `json:"by_status"`
	NewPatients       int                              `json:"new_patients"`
	ReturningPatients int                              `json:"returning_patients"`
	BookedHours       float64                          `json:"booked_hours"`
	DoctorsWorking    int                              `json:"doctors_working"`
	ByDoctor          map[string]DoctorSummaryResponse `json:"by_doctor"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Mapping

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		Patient: PatientResponse{
			Name:  a.Patient.Name,
			DOB:   a.Patient.DOB.Format(time.DateOnly),
			Email: a.Patient.Email,
			Phone: a.Patient.Phone,
		},
		DoctorID:        a.DoctorID,
		Start:           a.Start,
		End:             a.End(),
		DurationMinutes: int(a.Duration / time.Minute),
		Category:        string(a.Category),
		Status:          string(a.Status),
		FormsCompleted:  a.FormsCompleted,
		CancelReason:    a.CancelReason,
		CancelChannel:   string(a.CancelChannel),
		CancelledAt:     a.CancelledAt,
		RescheduledFrom: a.RescheduledFrom,
		CreatedAt:       a.CreatedAt,
	}
	if a.Insurance != (appointment.Insurance{}) {
		resp.Insurance = &InsurancePayload{Carrier: a.Insurance.Carrier, MemberID: a.Insurance.MemberID, Group: a.Insurance.Group}
	}
	return resp
}

func toReminderResponses(rs []reminder.Reminder) []ReminderResponse {
	out := make([]ReminderResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, ReminderResponse{
			ID:          r.ID,
			Stage:       string(r.Stage),
			ScheduledAt: r.ScheduledAt,
			Status:      string(r.Status),
			Attempts:    r.Attempts,
			Response:    r.Response,
			LastError:   r.LastError,
			SentAt:      r.SentAt,
		})
	}
	return out
}

func toDoctorResponse(d calendar.DoctorCalendar) DoctorResponse {
	hours := make(map[string]string, len(d.Hours))
	for _, day := range d.WorkingDays() {
		w := d.Hours[day]
		hours[strings.ToLower(day.String())] = w.Start.String() + "-" + w.End.String()
	}
	return DoctorResponse{
		ID:        d.ID,
		Name:      d.Name,
		Specialty: d.Specialty,
		Location:  d.Location,
		Hours:     hours,
		Lunch:     d.Lunch.Start.String() + "-" + d.Lunch.End.String(),
	}
}

func toPatientRecordResponse(p *appointment.PatientRecord) PatientRecordResponse {
	category := availability.CategoryNew
	if p.VisitCount >= 1 {
		category = availability.CategoryReturning
	}
	return PatientRecordResponse{
		ID:         p.ID,
		Name:       p.Name,
		DOB:        p.DOB.Format(time.DateOnly),
		Email:      p.Email,
		Phone:      p.Phone,
		DoctorID:   p.DoctorID,
		VisitCount: p.VisitCount,
		Category:   string(category),
		Insurance:  InsurancePayload{Carrier: p.Insurance.Carrier, MemberID: p.Insurance.MemberID, Group: p.Insurance.Group},
	}
}

func toStatsResponse(st *cancellation.Stats) StatsResponse {
	resp := StatsResponse{
		Total:     st.Total,
		ByChannel: st.ByChannel,
		ByDoctor:  st.ByDoctor,
		Recent:    make([]CancellationEntryResponse, 0, len(st.Recent)),
	}
	for _, e := range st.Recent {
		resp.Recent = append(resp.Recent, CancellationEntryResponse{
			AppointmentID: e.AppointmentID,
			PatientName:   e.PatientName,
			DoctorID:      e.DoctorID,
			Date:          e.Date,
			Time:          e.Time,
			Channel:       string(e.Channel),
			Reason:        e.Reason,
			CancelledAt:   e.CancelledAt,
		})
	}
	return resp
}

func toReminderStatsResponse(st *reminder.Stats) ReminderStatsResponse {
	resp := ReminderStatsResponse{
		TotalAppointments:        st.TotalAppointments,
		TotalReminders:           st.TotalReminders,
		ReminderStatus:           make(map[string]int, len(st.ReminderStatus)),
		AppointmentStatus:        make(map[string]int, len(st.AppointmentStatus)),
		FormResponseRate:         st.FormResponseRate,
		ConfirmationResponseRate: st.ConfirmationResponseRate,
		NoShowRate:               st.NoShowRate,
		CancellationRate:         st.CancellationRate,
	}
	for k, n := range st.ReminderStatus {
		resp.ReminderStatus[string(k)] = n
	}
	for k, n := range st.AppointmentStatus {
		resp.AppointmentStatus[string(k)] = n
	}
	return resp
}

func toScheduleResponse(s *appointment.DaySchedule) ScheduleResponse {
	resp := ScheduleResponse{
		DoctorID:     s.Doctor.ID,
		DoctorName:   s.Doctor.Name,
		Date:         s.Date.Format(time.DateOnly),
		Day:          s.Date.Weekday().String(),
		WorkingDay:   s.WorkingDay,
		Appointments: make([]AppointmentResponse, 0, len(s.Appointments)),
		Free:         []FreeSlotsResponse{},
	}
	if s.WorkingDay {
		resp.Hours = s.Hours.Start.String() + "-" + s.Hours.End.String()
		resp.Lunch = s.Doctor.Lunch.Start.String() + "-" + s.Doctor.Lunch.End.String()
	}
	for i := range s.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&s.Appointments[i]))
	}
	for _, cat := range []availability.Category{availability.CategoryNew, availability.CategoryReturning} {
		slots, ok := s.Free[cat]
		if !ok {
			continue
		}
		free := FreeSlotsResponse{
			Category:        string(cat),
			DurationMinutes: int(cat.Duration() / time.Minute),
			Slots:           make([]SlotResponse, 0, len(slots)),
		}
		for _, sl := range slots {
			free.Slots = append(free.Slots, SlotResponse{Start: sl.Start, End: sl.End(), DurationMinutes: int(sl.Duration / time.Minute)})
		}
		resp.Free = append(resp.Free, free)
	}
	return resp
}

func toDailySummaryResponse(s *appointment.DailySummary) DailySummaryResponse {
	resp := DailySummaryResponse{
		Date:              s.Date.Format(time.DateOnly),
		Total:             s.Total,
		ByStatus:          make(map[string]int, len(s.ByStatus)),
		NewPatients:       s.NewPatients,
		ReturningPatients: s.ReturningPatients,
		BookedHours:       float64(s.BookedMinutes) / 60,
		DoctorsWorking:    s.DoctorsWorking,
		ByDoctor:          make(map[string]DoctorSummaryResponse, len(s.ByDoctor)),
	}
	for k, n := range s.ByStatus {
		resp.ByStatus[string(k)] = n
	}
	for id, d := range s.ByDoctor {
		resp.ByDoctor[id] = DoctorSummaryResponse(d)
	}
	return resp
}

// Parsing

var localLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02T15:04:05"}

// parseStart accepts RFC 3339 or a wall-clock time in the clinic zone.
func parseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), loc)
}

// Writing

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain errors to HTTP responses. It reports whether
// the error was unexpected so the caller can log it.
func writeServiceError(w http.ResponseWriter, err error) (unexpected bool) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, appointment.ErrRescheduleFailed):
		writeError(w, http.StatusConflict, "reschedule_failed", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict), errors.Is(err, availability.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_unavailable", appointment.ErrSlotConflict.Error())
	case errors.Is(err, calendar.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound), errors.Is(err, cancellation.ErrAmbiguousSignal):
		writeError(w, http.StatusNotFound, "appointment_not_found", cancellation.ErrAmbiguousSignal.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, availability.ErrSlotOutsideHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_working_hours", err.Error())
	case errors.Is(err, availability.ErrSlotInPast):
		writeError(w, http.StatusUnprocessableEntity, "slot_in_past", err.Error())
	case errors.Is(err, availability.ErrInvalidCategory), errors.Is(err, availability.ErrInvalidRange):
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "appointment_closed", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return true
	}
	return false
}
