package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time with second precision. The zero value means
// "unset", which keeps a missing form field distinguishable from midnight.
type TimeOfDay struct {
	sec int32
	set bool
}

func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay{sec: int32(hour*3600 + minute*60 + second), set: true}
}

// ParseTimeOfDay accepts "15:04" or "15:04:05". Fractional seconds as returned
// by some databases ("09:00:00.000000") are dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM or HH:MM:SS", s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second()), nil
}

// TimeOfDayFromDuration converts an offset from midnight, as stored in SQL TIME
// columns, into a TimeOfDay.
func TimeOfDayFromDuration(d time.Duration) TimeOfDay {
	return TimeOfDay{sec: int32(d / time.Second), set: true}
}

func (t TimeOfDay) IsZero() bool { return !t.set }

// Seconds returns seconds since midnight.
func (t TimeOfDay) Seconds() int { return int(t.sec) }

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t.sec) * time.Second }

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.sec < o.sec }

func (t TimeOfDay) After(o TimeOfDay) bool { return t.sec > o.sec }

func (t TimeOfDay) Valid() bool { return t.set && t.sec >= 0 && t.sec < secondsPerDay }

func (t TimeOfDay) String() string {
	if !t.set {
		return ""
	}
	h, m, s := t.sec/3600, t.sec%3600/60, t.sec%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = TimeOfDay{}
		return nil
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
