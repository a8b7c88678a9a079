package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// MemoryRepository keeps everything in process. It backs STORAGE_BACKEND=memory
// and the service tests. A single mutex makes TryClaimSlot a compare-and-set.
type MemoryRepository struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*Slot
	appointments map[uuid.UUID]*Appointment
	bySlot       map[uuid.UUID]uuid.UUID
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots:        make(map[uuid.UUID]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
		bySlot:       make(map[uuid.UUID]uuid.UUID),
		now:          time.Now,
	}
}

func (m *MemoryRepository) FindSlotsByDate(_ context.Context, date schedule.Date) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Slot
	for _, s := range m.slots {
		if s.Date.Equal(date) {
			result = append(result, *s)
		}
	}
	sortSlots(result)
	return result, nil
}

func (m *MemoryRepository) InsertSlot(_ context.Context, date schedule.Date, start, end schedule.TimeOfDay) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Slot{
		ID:        uuid.New(),
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Status:    SlotAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.slots[s.ID] = s

	out := *s
	return &out, nil
}

func (m *MemoryRepository) TryClaimSlot(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok || s.Status != SlotAvailable {
		return false, nil
	}
	s.Status = SlotTaken
	s.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) ReleaseSlot(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok || s.Status != SlotTaken {
		return false, nil
	}
	if _, booked := m.bySlot[id]; booked {
		return false, nil
	}
	s.Status = SlotAvailable
	s.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryRepository) ListSlots(_ context.Context, f SlotFilter) (Page[Slot], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Slot
	for _, s := range m.slots {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		all = append(all, *s)
	}
	sortSlots(all)

	return Page[Slot]{Items: paginate(all, f.Limit, f.Offset), Total: len(all)}, nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, slotID, patientID uuid.UUID, reason string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slots[slotID]; !ok {
		return nil, ErrSlotNotFound
	}
	if _, taken := m.bySlot[slotID]; taken {
		return nil, ErrSlotUnavailable
	}

	now := m.now()
	a := &Appointment{
		ID:        uuid.New(),
		SlotID:    slotID,
		PatientID: patientID,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.appointments[a.ID] = a
	m.bySlot[slotID] = a.ID

	out := *a
	return &out, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := m.detail(a)
	return &d, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) (Page[AppointmentDetail], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []AppointmentDetail
	for _, a := range m.appointments {
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		all = append(all, m.detail(a))
	}

	// newest slot first, matching the Postgres ordering
	sort.Slice(all, func(i, j int) bool {
		si, sj := all[i].Slot, all[j].Slot
		if !si.Date.Equal(sj.Date) {
			return si.Date.After(sj.Date)
		}
		return si.StartTime.After(sj.StartTime)
	})

	return Page[AppointmentDetail]{Items: paginate(all, f.Limit, f.Offset), Total: len(all)}, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = m.now()

	out := *a
	return &out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

// detail must be called with m.mu held.
func (m *MemoryRepository) detail(a *Appointment) AppointmentDetail {
	d := AppointmentDetail{Appointment: *a}
	if s, ok := m.slots[a.SlotID]; ok {
		slot := *s
		d.Slot = &slot
	}
	return d
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Date.Equal(slots[j].Date) {
			return slots[i].Date.Before(slots[j].Date)
		}
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
