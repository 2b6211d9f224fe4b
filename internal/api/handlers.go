package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

const defaultSearchDays = 7

func listDoctorsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := svc.Doctors()
		resp := make([]DoctorResponse, 0, len(docs))
		for _, d := range docs {
			resp = append(resp, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *appointment.Service, loc *time.Location, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID := chi.URLParam(r, "id")

		from := time.Now().In(loc)
		if v := q.Get("from"); v != "" {
			d, err := parseDate(v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
				return
			}
			from = d
		}
		to := from.AddDate(0, 0, defaultSearchDays-1)
		if v := q.Get("to"); v != "" {
			d, err := parseDate(v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
				return
			}
			to = d
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = n
		}

		var category availability.Category
		switch {
		case q.Get("category") != "":
			c, err := availability.ParseCategory(q.Get("category"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_category", "category must be new or returning")
				return
			}
			category = c
		case q.Get("name") != "" && q.Get("dob") != "":
			dob, err := parseDate(q.Get("dob"), time.UTC)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dob", "dob must be YYYY-MM-DD")
				return
			}
			c, _, err := svc.ClassifyPatient(r.Context(), q.Get("name"), dob)
			if err != nil {
				handleError(w, r, logger, err)
				return
			}
			category = c
		default:
			writeError(w, http.StatusBadRequest, "category_required", "pass category, or name and dob")
			return
		}

		slots, err := svc.FindSlots(r.Context(), availability.Request{
			DoctorID: doctorID,
			From:     from,
			To:       to,
			Category: category,
			Limit:    limit,
		})
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		resp := AvailabilityResponse{DoctorID: doctorID, Category: string(category), Slots: make([]SlotResponse, 0, len(slots))}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{Start: s.Start, End: s.End(), DurationMinutes: int(s.Duration / time.Minute)})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func lookupPatientHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := appointment.PatientQuery{
			Name:  q.Get("name"),
			Email: q.Get("email"),
			Phone: q.Get("phone"),
		}
		if v := q.Get("dob"); v != "" {
			dob, err := parseDate(v, time.UTC)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dob", "dob must be YYYY-MM-DD")
				return
			}
			query.DOB = dob
		}

		rec, err := svc.LookupPatient(r.Context(), query)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientRecordResponse(rec))
	}
}

func createAppointmentHandler(svc *appointment.Service, loc *time.Location, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		fields := map[string]string{}
		start, err := parseStart(req.Start, loc)
		if err != nil {
			fields["start"] = "must be RFC 3339 or YYYY-MM-DDTHH:MM"
		}
		var dob time.Time
		if req.Patient.DOB != "" {
			if dob, err = parseDate(req.Patient.DOB, time.UTC); err != nil {
				fields["patient.dob"] = "must be YYYY-MM-DD"
			}
		}
		if len(fields) > 0 {
			writeServiceError(w, &appointment.ValidationError{Fields: fields})
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			DoctorID: req.DoctorID,
			Start:    start,
			Patient: appointment.Patient{
				Name:  req.Patient.Name,
				DOB:   dob,
				Email: req.Patient.Email,
				Phone: req.Patient.Phone,
			},
			Insurance: appointment.Insurance{
				Carrier:  req.Insurance.Carrier,
				MemberID: req.Insurance.MemberID,
				Group:    req.Insurance.Group,
			},
		})
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service, reminders reminder.Repository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		resp := toAppointmentResponse(appt)

		rs, err := reminders.ListReminders(r.Context(), id)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		resp.Reminders = toReminderResponses(rs)

		writeJSON(w, http.StatusOK, resp)
	}
}

func confirmAppointmentHandler(rec *cancellation.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, changed, err := rec.Confirm(r.Context(), id)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ConfirmResponse{Changed: changed, Appointment: toAppointmentResponse(appt)})
	}
}

func cancelAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		// the body is optional
		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if errors.Is(err, appointment.ErrAlreadyTerminal) {
			current, getErr := svc.Get(r.Context(), id)
			if getErr != nil {
				handleError(w, r, logger, getErr)
				return
			}
			writeJSON(w, http.StatusOK, CancelResponse{Result: "already_cancelled", Appointment: toAppointmentResponse(current)})
			return
		}
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelResponse{Result: "cancelled", Appointment: toAppointmentResponse(appt)})
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service, loc *time.Location, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := parseStart(req.Start, loc)
		if err != nil {
			writeServiceError(w, &appointment.ValidationError{Fields: map[string]string{"start": "must be RFC 3339 or YYYY-MM-DDTHH:MM"}})
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, start)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancellationStatsHandler(rec *cancellation.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := rec.Stats(r.Context())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toStatsResponse(st))
	}
}

func reminderStatsHandler(d *reminder.Dispatcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Stats(r.Context())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toReminderStatsResponse(st))
	}
}

func doctorScheduleHandler(svc *appointment.Service, loc *time.Location, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dateParam(w, r, loc)
		if !ok {
			return
		}
		sched, err := svc.DoctorSchedule(r.Context(), chi.URLParam(r, "id"), day)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func dailySummaryHandler(svc *appointment.Service, loc *time.Location, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dateParam(w, r, loc)
		if !ok {
			return
		}
		sum, err := svc.DailySummary(r.Context(), day)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toDailySummaryResponse(sum))
	}
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today in the clinic zone.
func dateParam(w http.ResponseWriter, r *http.Request, loc *time.Location) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return time.Now().In(loc), true
	}
	d, err := parseDate(v, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if writeServiceError(w, err) {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
}
