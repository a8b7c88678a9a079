package appointment

import (
	"fmt"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// RollingSchedule describes the daily window the provision worker keeps
// materialised for the next HorizonDays days.
type RollingSchedule struct {
	HorizonDays int
	StartTime   schedule.TimeOfDay
	EndTime     schedule.TimeOfDay
	Pattern     schedule.RepeatPattern
}

// ParseRollingSchedule builds a RollingSchedule from config strings.
func ParseRollingSchedule(horizonDays int, start, end, pattern string) (RollingSchedule, error) {
	if horizonDays < 1 {
		return RollingSchedule{}, fmt.Errorf("horizon must be at least one day, got %d", horizonDays)
	}
	st, err := schedule.ParseTimeOfDay(start)
	if err != nil {
		return RollingSchedule{}, fmt.Errorf("start time: %w", err)
	}
	et, err := schedule.ParseTimeOfDay(end)
	if err != nil {
		return RollingSchedule{}, fmt.Errorf("end time: %w", err)
	}
	p, err := schedule.ParseRepeatPattern(pattern)
	if err != nil {
		return RollingSchedule{}, err
	}

	return RollingSchedule{HorizonDays: horizonDays, StartTime: st, EndTime: et, Pattern: p}, nil
}

// RequestFrom returns the provisioning request covering today and the
// following HorizonDays-1 days.
func (s RollingSchedule) RequestFrom(today schedule.Date) ProvisionRequest {
	return ProvisionRequest{
		StartDate:     today,
		EndDate:       today.AddDays(s.HorizonDays - 1),
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		RepeatPattern: s.Pattern,
	}
}
