package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentBooked   = "APPOINTMENT_BOOKED"
	EventSlotReleased        = "SLOT_RELEASED"
	EventAppointmentApproved = "APPOINTMENT_APPROVED"
	EventAppointmentRejected = "APPOINTMENT_REJECTED"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var ErrInvalidStatusTransition = errors.New("only pending appointments can be approved or rejected")

type Service struct {
	repo           Repository
	maxReasonRunes int
	log            zerolog.Logger
}

func NewService(repo Repository, maxReasonRunes int, log zerolog.Logger) *Service {
	return &Service{
		repo:           repo,
		maxReasonRunes: maxReasonRunes,
		log:            log.With().Str("component", "booking").Logger(),
	}
}

// BookSlot claims slotID for patientID and records a pending appointment.
//
// The claim is a single conditional update in the store, so of any number of
// concurrent calls for one slot exactly one sees it succeed; the rest get
// ErrSlotUnavailable. Stores implementing SlotBooker do the claim and the
// insert in one transaction. Otherwise, if the appointment cannot be written
// after a successful claim, the slot is released again before the error is
// returned.
func (s *Service) BookSlot(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if patientID == uuid.Nil {
		return nil, invalid("patient_id", "is required")
	}
	if slotID == uuid.Nil {
		return nil, invalid("slot_id", "is required")
	}
	if s.maxReasonRunes > 0 && utf8.RuneCountInString(reason) > s.maxReasonRunes {
		return nil, invalid("reason", "must be at most %d characters", s.maxReasonRunes)
	}

	var (
		appt *Appointment
		err  error
	)
	if booker, ok := s.repo.(SlotBooker); ok {
		appt, err = booker.BookSlotAtomic(ctx, slotID, patientID, reason)
		if err != nil {
			if errors.Is(err, ErrSlotUnavailable) {
				return nil, ErrSlotUnavailable
			}
			return nil, fmt.Errorf("book slot: %w", err)
		}
	} else if appt, err = s.claimAndCreate(ctx, patientID, slotID, reason); err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("appointment_id", appt.ID).
		Stringer("slot_id", slotID).
		Stringer("patient_id", patientID).
		Msg("slot booked")

	s.logEvent(ctx, &appt.ID, &slotID, EventAppointmentBooked, map[string]any{
		"slot_id":    slotID.String(),
		"patient_id": patientID.String(),
	})

	return appt, nil
}

// claimAndCreate is the booking path for stores without SlotBooker: a
// conditional claim, then the insert, then a compensating release if the
// insert fails.
func (s *Service) claimAndCreate(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*Appointment, error) {
	claimed, err := s.repo.TryClaimSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if !claimed {
		return nil, ErrSlotUnavailable
	}

	appt, err := s.repo.CreateAppointment(ctx, slotID, patientID, reason)
	if err == nil {
		return appt, nil
	}

	// The request may already be cancelled; the release must still run.
	relCtx := context.WithoutCancel(ctx)
	released, relErr := s.repo.ReleaseSlot(relCtx, slotID)
	if relErr != nil {
		s.log.Error().Err(relErr).Stringer("slot_id", slotID).Msg("failed to release slot after appointment insert failure")
		return nil, errors.Join(fmt.Errorf("create appointment: %w", err), relErr)
	}
	if released {
		s.logEvent(relCtx, nil, &slotID, EventSlotReleased, map[string]any{
			"patient_id": patientID.String(),
			"cause":      err.Error(),
		})
	} else {
		s.log.Warn().Err(err).Stringer("slot_id", slotID).Msg("appointment insert reported failure but the slot is still booked")
	}
	return nil, fmt.Errorf("create appointment: %w", err)
}

// ApproveAppointment moves a pending appointment to approved. The slot stays taken.
func (s *Service) ApproveAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusApproved, EventAppointmentApproved)
}

// RejectAppointment moves a pending appointment to rejected. The slot stays taken.
func (s *Service) RejectAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusRejected, EventAppointmentRejected)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusPending, to)
	if err == nil {
		s.logEvent(ctx, &updated.ID, &updated.SlotID, event, map[string]any{})
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	// Tell a missing appointment apart from one that is no longer pending.
	if _, getErr := s.repo.GetAppointmentByID(ctx, id); getErr != nil {
		if errors.Is(getErr, ErrAppointmentNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", getErr)
	}
	return nil, ErrInvalidStatusTransition
}

func (s *Service) logEvent(ctx context.Context, appointmentID, slotID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}

// GetAppointment retrieves an appointment with its slot
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointments pages through appointments, newest slot first. A nil
// patientID lists every patient's appointments.
func (s *Service) ListAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) (Page[AppointmentDetail], error) {
	limit, offset = clampPage(limit, offset)

	page, err := s.repo.ListAppointments(ctx, AppointmentFilter{PatientID: patientID, Limit: limit, Offset: offset})
	if err != nil {
		return page, fmt.Errorf("list appointments: %w", err)
	}
	return page, nil
}

func (s *Service) ListSlots(ctx context.Context, status SlotStatus, limit, offset int) (Page[Slot], error) {
	limit, offset = clampPage(limit, offset)

	page, err := s.repo.ListSlots(ctx, SlotFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return page, fmt.Errorf("list slots: %w", err)
	}
	return page, nil
}

// ListAvailableSlots returns the bookable slots ordered by date and start time.
func (s *Service) ListAvailableSlots(ctx context.Context, limit, offset int) (Page[Slot], error) {
	return s.ListSlots(ctx, SlotAvailable, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
