package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type RouterConfig struct {
	Service     BookingService
	Provisioner SlotProvisioner
	Logger      zerolog.Logger
	Health      []Dependency
	Env         string
	Version     string

	// Booking requests per second allowed per client; zero disables the limit.
	BookingRPS   float64
	BookingBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/slots", func(r chi.Router) {
		r.Post("/provision", provisionSlotsHandler(cfg.Provisioner))
		r.Get("/", listSlotsHandler(cfg.Service))
		r.Get("/available", listAvailableSlotsHandler(cfg.Service))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.With(RateLimitMiddleware(cfg.BookingRPS, cfg.BookingBurst, cfg.Logger)).
			Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/approve", approveAppointmentHandler(cfg.Service))
		r.Post("/{id}/reject", rejectAppointmentHandler(cfg.Service))
	})

	return r
}
