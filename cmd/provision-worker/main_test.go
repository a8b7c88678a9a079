package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

func TestRunOnce_FillsHorizonIdempotently(t *testing.T) {
	ctx := context.Background()
	repo := appointment.NewMemoryRepository()
	p := appointment.NewProvisioner(repo, repo, redisclient.NewLocalLocker(), 366, zerolog.Nop())

	rolling, err := appointment.ParseRollingSchedule(7, "09:00", "10:00", "weekdays")
	if err != nil {
		t.Fatalf("ParseRollingSchedule: %v", err)
	}

	monday := time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

	first := runOnce(ctx, zerolog.Nop(), p, rolling, monday)
	if first == nil || first.CreatedCount() != 5 {
		t.Fatalf("first run = %+v, want 5 created", first)
	}

	again := runOnce(ctx, zerolog.Nop(), p, rolling, monday.Add(time.Hour))
	if again == nil || again.CreatedCount() != 0 {
		t.Fatalf("second run = %+v, want nothing created", again)
	}

	nextMonday := runOnce(ctx, zerolog.Nop(), p, rolling, monday.AddDate(0, 0, 7))
	if nextMonday == nil || nextMonday.CreatedCount() != 5 {
		t.Fatalf("next week run = %+v, want 5 created", nextMonday)
	}
}

func TestRunOnce_InvalidRangeIsLogged(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	p := appointment.NewProvisioner(repo, repo, redisclient.NewLocalLocker(), 3, zerolog.Nop())

	rolling, err := appointment.ParseRollingSchedule(10, "09:00", "10:00", "everyday")
	if err != nil {
		t.Fatalf("ParseRollingSchedule: %v", err)
	}

	if res := runOnce(context.Background(), zerolog.Nop(), p, rolling, time.Now()); res != nil {
		t.Fatalf("run beyond the provisioning cap returned %+v, want nil", res)
	}
}
