package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "provision-worker:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "provision-worker")

	rolling, err := appointment.ParseRollingSchedule(cfg.ProvisionHorizonDays, cfg.ProvisionStartTime, cfg.ProvisionEndTime, cfg.ProvisionPattern)
	if err != nil {
		return fmt.Errorf("invalid rolling schedule: %w", err)
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", rolling.HorizonDays).
		Str("pattern", string(rolling.Pattern)).
		Msg("provision-worker starting up")

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	provisioner := appointment.NewProvisioner(backends.Repo, backends.Repo, backends.Locker, cfg.MaxProvisionDays, log)

	// Run once at startup
	runOnce(ctx, log, provisioner, rolling, time.Now())

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping provision worker")
			return nil
		case now := <-ticker.C:
			runOnce(ctx, log, provisioner, rolling, now)
		}
	}
}

// runOnce provisions the horizon starting at now's date. Failures are logged
// and retried on the next tick.
func runOnce(ctx context.Context, log zerolog.Logger, p *appointment.Provisioner, rolling appointment.RollingSchedule, now time.Time) *appointment.ProvisionResult {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	result, err := p.Provision(runCtx, rolling.RequestFrom(schedule.DateOf(now)))
	if err != nil {
		log.Error().Err(err).Msg("provision run error")
		return nil
	}
	log.Info().
		Int("created", result.CreatedCount()).
		Int("skipped", len(result.SkippedDates)).
		Dur("took", time.Since(start)).
		Msg("provision run complete")
	return result
}
