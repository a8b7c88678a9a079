package schedule

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

var ErrInvalidRange = errors.New("end date cannot be before start date")

type RepeatPattern string

const (
	RepeatEveryday RepeatPattern = "everyday"
	RepeatWeekdays RepeatPattern = "weekdays"
)

func ParseRepeatPattern(s string) (RepeatPattern, error) {
	switch p := RepeatPattern(s); p {
	case RepeatEveryday, RepeatWeekdays:
		return p, nil
	default:
		return "", fmt.Errorf("unknown repeat pattern %q: expected %q or %q", s, RepeatEveryday, RepeatWeekdays)
	}
}

// Includes reports whether the pattern selects d.
func (p RepeatPattern) Includes(d Date) bool {
	switch p {
	case RepeatEveryday:
		return true
	case RepeatWeekdays:
		wd := d.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	default:
		return false
	}
}

// Dates yields every date in [start, end] selected by p, in ascending order.
// The returned sequence holds no state, so ranging over it again starts over.
func Dates(start, end Date, p RepeatPattern) (iter.Seq[Date], error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	return func(yield func(Date) bool) {
		for d := start; !d.After(end); d = d.AddDays(1) {
			if !p.Includes(d) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}, nil
}
