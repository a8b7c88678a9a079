package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// SlotStore owns slot records. Slot status only changes through TryClaimSlot
// and ReleaseSlot.
type SlotStore interface {
	FindSlotsByDate(ctx context.Context, date schedule.Date) ([]Slot, error)
	InsertSlot(ctx context.Context, date schedule.Date, start, end schedule.TimeOfDay) (*Slot, error)

	// TryClaimSlot moves the slot from available to taken in one conditional
	// write. It returns false when the slot is missing or already taken.
	TryClaimSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseSlot undoes a claim whose appointment could not be recorded. It
	// reports false when nothing changed, including when an appointment for
	// the slot exists after all.
	ReleaseSlot(ctx context.Context, id uuid.UUID) (bool, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) (Page[Slot], error)
}

// AppointmentStore owns appointment records.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, slotID, patientID uuid.UUID, reason string) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) (Page[AppointmentDetail], error)

	// UpdateAppointmentStatus only applies when the current status equals from.
	// It returns ErrAppointmentNotFound otherwise.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// SlotBooker is implemented by stores that can claim a slot and record its
// appointment atomically. The service prefers it over claim-then-insert.
type SlotBooker interface {
	BookSlotAtomic(ctx context.Context, slotID, patientID uuid.UUID, reason string) (*Appointment, error)
}

// Repository is everything the service layer needs from storage.
type Repository interface {
	SlotStore
	AppointmentStore
	EventStore
}
