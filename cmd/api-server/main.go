package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "api-server",
		Short:         "Clinic slot provisioning and booking API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	var migrateFirst bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateFirst {
				if err := runMigrate(cmd, args); err != nil {
					return err
				}
			}
			return runServe(cmd, args)
		},
	}
	serve.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}

	root.AddCommand(serve, migrate)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "api-server:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageBackend).
		Str("lock", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	svc := appointment.NewService(backends.Repo, cfg.MaxReasonLength, log)
	provisioner := appointment.NewProvisioner(backends.Repo, backends.Repo, backends.Locker, cfg.MaxProvisionDays, log)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Provisioner:  provisioner,
		Logger:       log,
		Health:       backends.HealthChecks(),
		Env:          cfg.Env,
		Version:      version,
		BookingRPS:   cfg.RateLimitRPS,
		BookingBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info().Msg("api-server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")

	if cfg.StorageBackend != config.StoragePostgres {
		log.Info().Str("storage", cfg.StorageBackend).Msg("nothing to migrate")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}

	logApplied(log, applied)
	return nil
}

func logApplied(log zerolog.Logger, applied []string) {
	if len(applied) == 0 {
		log.Info().Msg("schema is up to date")
		return
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("applied migration")
	}
}
