package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// BookingService is the part of appointment.Service the HTTP layer uses.
type BookingService interface {
	BookSlot(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*appointment.Appointment, error)
	ApproveAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	RejectAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) (appointment.Page[appointment.AppointmentDetail], error)
	ListSlots(ctx context.Context, status appointment.SlotStatus, limit, offset int) (appointment.Page[appointment.Slot], error)
	ListAvailableSlots(ctx context.Context, limit, offset int) (appointment.Page[appointment.Slot], error)
}

type SlotProvisioner interface {
	Provision(ctx context.Context, req appointment.ProvisionRequest) (*appointment.ProvisionResult, error)
}

func provisionSlotsHandler(p SlotProvisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ProvisionSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		req, ve := body.toProvisionRequest()
		if ve != nil {
			writeValidationError(w, ve)
			return
		}

		result, err := p.Provision(r.Context(), req)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := ProvisionSlotsResponse{
			Created:      result.CreatedCount(),
			SkippedDates: make([]string, 0, len(result.SkippedDates)),
			Slots:        make([]SlotResponse, 0, len(result.Created)),
		}
		for _, d := range result.SkippedDates {
			resp.SkippedDates = append(resp.SkippedDates, d.String())
		}
		for _, s := range result.Created {
			resp.Slots = append(resp.Slots, toSlotResponse(s))
		}

		status := http.StatusCreated
		switch resp.Created {
		case 0:
			status = http.StatusOK
			resp.Message = "no new slots were created; every selected date already has an overlapping slot"
		case 1:
			resp.Message = "1 slot created"
		default:
			resp.Message = strconv.Itoa(resp.Created) + " slots created"
		}

		writeJSON(w, status, resp)
	}
}

// toProvisionRequest parses the wire strings. Empty fields are left unset so
// the provisioner reports them as required.
func (b ProvisionSlotsRequest) toProvisionRequest() (appointment.ProvisionRequest, *appointment.ValidationError) {
	var req appointment.ProvisionRequest
	var err error

	if b.StartDate != "" {
		if req.StartDate, err = schedule.ParseDate(b.StartDate); err != nil {
			return req, &appointment.ValidationError{Field: "start_date", Message: "must be a date like 2024-03-04"}
		}
	}
	if b.EndDate != "" {
		if req.EndDate, err = schedule.ParseDate(b.EndDate); err != nil {
			return req, &appointment.ValidationError{Field: "end_date", Message: "must be a date like 2024-03-04"}
		}
	}
	if b.StartTime != "" {
		if req.StartTime, err = schedule.ParseTimeOfDay(b.StartTime); err != nil {
			return req, &appointment.ValidationError{Field: "start_time", Message: "must be a time like 09:00"}
		}
	}
	if b.EndTime != "" {
		if req.EndTime, err = schedule.ParseTimeOfDay(b.EndTime); err != nil {
			return req, &appointment.ValidationError{Field: "end_time", Message: "must be a time like 17:30"}
		}
	}
	req.RepeatPattern = schedule.RepeatPattern(b.RepeatPattern)

	return req, nil
}

func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := appointment.SlotStatus(r.URL.Query().Get("status"))
		switch status {
		case "", appointment.SlotAvailable, appointment.SlotTaken:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be available or taken")
			return
		}

		page, limit, offset := pageParams(r)
		result, err := svc.ListSlots(r.Context(), status, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, slotPage(result, page, limit))
	}
}

func listAvailableSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit, offset := pageParams(r)
		result, err := svc.ListAvailableSlots(r.Context(), limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, slotPage(result, page, limit))
	}
}

func slotPage(result appointment.Page[appointment.Slot], page, limit int) PageResponse[SlotResponse] {
	items := make([]SlotResponse, 0, len(result.Items))
	for _, s := range result.Items {
		items = append(items, toSlotResponse(s))
	}
	return newPage(items, result.Total, page, limit)
}

func bookAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, err := svc.BookSlot(r.Context(), patientID, slotID, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patientID uuid.UUID
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = id
		}

		page, limit, offset := pageParams(r)
		result, err := svc.ListAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(result.Items))
		for _, d := range result.Items {
			items = append(items, toAppointmentDetailResponse(d))
		}
		writeJSON(w, http.StatusOK, newPage(items, result.Total, page, limit))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(*detail))
	}
}

func approveAppointmentHandler(svc BookingService) http.HandlerFunc {
	return transitionHandler(svc.ApproveAppointment)
}

func rejectAppointmentHandler(svc BookingService) http.HandlerFunc {
	return transitionHandler(svc.RejectAppointment)
}

func transitionHandler(fn func(context.Context, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := fn(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps domain errors to HTTP responses. Anything unknown is
// logged and reported as a 500 without leaking its text.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *appointment.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidationError(w, ve)
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "provisioning_in_progress", "another provisioning run is working on these dates, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
