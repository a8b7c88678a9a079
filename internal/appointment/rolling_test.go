package appointment

import (
	"context"
	"testing"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func TestParseRollingSchedule(t *testing.T) {
	rs, err := ParseRollingSchedule(14, "09:00", "09:30", "weekdays")
	if err != nil {
		t.Fatalf("ParseRollingSchedule: %v", err)
	}

	req := rs.RequestFrom(mustDate(t, "2024-03-04"))
	if req.StartDate.String() != "2024-03-04" || req.EndDate.String() != "2024-03-17" {
		t.Fatalf("range = %s..%s", req.StartDate, req.EndDate)
	}
	if req.RepeatPattern != schedule.RepeatWeekdays || req.Window().String() != "09:00-09:30" {
		t.Fatalf("request = %+v", req)
	}

	bad := []struct {
		name                    string
		days                    int
		start, end, repeatEvery string
	}{
		{"zero horizon", 0, "09:00", "10:00", "everyday"},
		{"bad start", 7, "nine", "10:00", "everyday"},
		{"bad end", 7, "09:00", "", "everyday"},
		{"bad pattern", 7, "09:00", "10:00", "monthly"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRollingSchedule(tt.days, tt.start, tt.end, tt.repeatEvery); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRollingSchedule_RerunOnlyFillsNewDays(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestProvisioner(repo)

	rs, err := ParseRollingSchedule(7, "09:00", "10:00", "everyday")
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.Provision(ctx, rs.RequestFrom(mustDate(t, "2024-03-04")))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.CreatedCount() != 7 {
		t.Fatalf("first run created %d, want 7", first.CreatedCount())
	}

	next, err := p.Provision(ctx, rs.RequestFrom(mustDate(t, "2024-03-05")))
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next.CreatedCount() != 1 || next.Created[0].Date.String() != "2024-03-11" {
		t.Fatalf("next run created %+v", next.Created)
	}
}
