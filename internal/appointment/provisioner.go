package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

const EventSlotsProvisioned = "SLOTS_PROVISIONED"

type ProvisionRequest struct {
	StartDate     schedule.Date
	EndDate       schedule.Date
	StartTime     schedule.TimeOfDay
	EndTime       schedule.TimeOfDay
	RepeatPattern schedule.RepeatPattern
}

func (r ProvisionRequest) Window() schedule.Window {
	return schedule.Window{Start: r.StartTime, End: r.EndTime}
}

// ProvisionResult reports what a provisioning run did. An empty Created list is
// a successful no-op, not an error.
type ProvisionResult struct {
	Created      []Slot
	SkippedDates []schedule.Date
}

func (r *ProvisionResult) CreatedCount() int { return len(r.Created) }

// Provisioner materialises available slots for a date range.
type Provisioner struct {
	slots   SlotStore
	events  EventStore
	locker  redisclient.Locker
	maxDays int
	log     zerolog.Logger
}

// NewProvisioner wires a provisioner. maxDays caps the inclusive range length;
// zero disables the cap.
func NewProvisioner(slots SlotStore, events EventStore, locker redisclient.Locker, maxDays int, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		slots:   slots,
		events:  events,
		locker:  locker,
		maxDays: maxDays,
		log:     log.With().Str("component", "provisioner").Logger(),
	}
}

func (p *Provisioner) validate(req ProvisionRequest) error {
	switch {
	case req.StartDate.IsZero():
		return invalid("start_date", "is required")
	case req.EndDate.IsZero():
		return invalid("end_date", "is required")
	case req.StartTime.IsZero():
		return invalid("start_time", "is required")
	case req.EndTime.IsZero():
		return invalid("end_time", "is required")
	case req.RepeatPattern == "":
		return invalid("repeat_pattern", "is required")
	}

	if _, err := schedule.ParseRepeatPattern(string(req.RepeatPattern)); err != nil {
		return invalid("repeat_pattern", "%s", err)
	}
	if req.EndDate.Before(req.StartDate) {
		return invalid("end_date", "%s", schedule.ErrInvalidRange)
	}
	if !req.Window().WellFormed() {
		return invalid("end_time", "must be after start time")
	}
	if days := req.StartDate.DaysUntil(req.EndDate) + 1; p.maxDays > 0 && days > p.maxDays {
		return invalid("end_date", "range of %d days exceeds the limit of %d", days, p.maxDays)
	}
	return nil
}

// Provision creates one available slot per selected date unless that date
// already holds an overlapping slot, in which case the date is skipped. Running
// the same request twice therefore creates nothing the second time.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	dates, err := schedule.Dates(req.StartDate, req.EndDate, req.RepeatPattern)
	if err != nil {
		return nil, invalid("end_date", "%s", err)
	}

	result := &ProvisionResult{}
	window := req.Window()

	for date := range dates {
		slot, err := p.provisionDate(ctx, date, window)
		if err != nil {
			return nil, fmt.Errorf("provision %s: %w", date, err)
		}
		if slot == nil {
			result.SkippedDates = append(result.SkippedDates, date)
			continue
		}
		result.Created = append(result.Created, *slot)
	}

	p.log.Info().
		Str("start_date", req.StartDate.String()).
		Str("end_date", req.EndDate.String()).
		Str("window", window.String()).
		Str("pattern", string(req.RepeatPattern)).
		Int("created", result.CreatedCount()).
		Int("skipped", len(result.SkippedDates)).
		Msg("slots provisioned")

	p.logEvent(ctx, req, result)

	return result, nil
}

// provisionDate returns nil without error when the window overlaps an existing
// slot. The overlap check and the insert share one per-date lock so concurrent
// runs cannot both insert overlapping slots.
func (p *Provisioner) provisionDate(ctx context.Context, date schedule.Date, window schedule.Window) (*Slot, error) {
	var created *Slot

	err := p.locker.WithLock(ctx, "slots:date:"+date.String(), func(lockCtx context.Context) error {
		existing, err := p.slots.FindSlotsByDate(lockCtx, date)
		if err != nil {
			return fmt.Errorf("load existing slots: %w", err)
		}

		windows := make([]schedule.Window, 0, len(existing))
		for _, s := range existing {
			windows = append(windows, s.Window())
		}
		if schedule.Conflicts(window, windows) {
			p.log.Debug().Str("date", date.String()).Str("window", window.String()).Msg("overlapping slot exists, skipping date")
			return nil
		}

		slot, err := p.slots.InsertSlot(lockCtx, date, window.Start, window.End)
		if err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("another provisioning run holds this date: %w", err)
		}
		return nil, err
	}

	return created, nil
}

func (p *Provisioner) logEvent(ctx context.Context, req ProvisionRequest, result *ProvisionResult) {
	if result.CreatedCount() == 0 {
		return
	}

	data, err := json.Marshal(map[string]any{
		"start_date":     req.StartDate,
		"end_date":       req.EndDate,
		"start_time":     req.StartTime,
		"end_time":       req.EndTime,
		"repeat_pattern": req.RepeatPattern,
		"created":        result.CreatedCount(),
		"skipped_dates":  result.SkippedDates,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("failed to marshal provisioning event payload")
		data = nil
	}

	ev := EventLog{
		EventType: EventSlotsProvisioned,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if err := p.events.InsertEvent(ctx, ev); err != nil {
		p.log.Error().Err(err).Str("event", EventSlotsProvisioned).Msg("failed to insert event log")
	}
}
