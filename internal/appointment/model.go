package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending  AppointmentStatus = "pending"
	StatusApproved AppointmentStatus = "approved"
	StatusRejected AppointmentStatus = "rejected"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotTaken     SlotStatus = "taken"
)

type Slot struct {
	ID        uuid.UUID
	Date      schedule.Date
	StartTime schedule.TimeOfDay
	EndTime   schedule.TimeOfDay
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Slot) Window() schedule.Window {
	return schedule.Window{Start: s.StartTime, End: s.EndTime}
}

// Label renders the slot the way staff pages show it, e.g. "2024-03-04 09:00 - 10:00".
func (s Slot) Label() string {
	return s.Date.String() + " " + s.StartTime.String() + " - " + s.EndTime.String()
}

type Appointment struct {
	ID        uuid.UUID
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Reason    string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail joins an appointment with the slot it holds.
type AppointmentDetail struct {
	Appointment
	Slot *Slot
}

type SlotFilter struct {
	Status SlotStatus // empty means any
	Limit  int
	Offset int
}

type AppointmentFilter struct {
	PatientID uuid.UUID // uuid.Nil means all patients
	Limit     int
	Offset    int
}

// Page is one page of a listing plus the unpaged total.
type Page[T any] struct {
	Items []T
	Total int
}
