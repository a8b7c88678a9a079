package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-slot-booking/internal/app"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type seedOptions struct {
	days      int
	windows   []string
	patients  int
	bookRatio float64
	seed      uint64
}

func main() {
	opts := seedOptions{}

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Provision demo slots and book some of them with fake patients",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.days, "days", 30, "number of days to provision, starting today")
	cmd.Flags().StringSliceVar(&opts.windows, "windows", []string{"09:00-09:30", "09:30-10:00", "10:00-10:30", "14:00-14:30", "14:30-15:00"}, "daily HH:MM-HH:MM windows")
	cmd.Flags().IntVar(&opts.patients, "patients", 200, "number of fake patients")
	cmd.Flags().Float64Var(&opts.bookRatio, "book-ratio", 0.4, "share of provisioned slots to book")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "faker seed, 0 for random")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Int("days", opts.days).Int("windows", len(opts.windows)).Int("patients", opts.patients).Msg("seed starting")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	faker := gofakeit.New(opts.seed)

	provisioner := appointment.NewProvisioner(backends.Repo, backends.Repo, backends.Locker, 0, log)
	slots, err := seedSlots(ctx, log, provisioner, opts)
	if err != nil {
		return err
	}

	svc := appointment.NewService(backends.Repo, cfg.MaxReasonLength, log)
	booked, err := seedBookings(ctx, faker, svc, slots, opts)
	if err != nil {
		return err
	}

	log.Info().Int("slots", len(slots)).Int("appointments", booked).Msg("seed complete")
	return nil
}

func seedSlots(ctx context.Context, log zerolog.Logger, p *appointment.Provisioner, opts seedOptions) ([]appointment.Slot, error) {
	today := schedule.DateOf(time.Now())

	var created []appointment.Slot
	for _, raw := range opts.windows {
		w, err := parseWindow(raw)
		if err != nil {
			return nil, err
		}

		result, err := p.Provision(ctx, appointment.ProvisionRequest{
			StartDate:     today,
			EndDate:       today.AddDays(opts.days - 1),
			StartTime:     w.Start,
			EndTime:       w.End,
			RepeatPattern: schedule.RepeatWeekdays,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("window", raw).Int("created", result.CreatedCount()).Int("skipped", len(result.SkippedDates)).Msg("window provisioned")
		created = append(created, result.Created...)
	}
	return created, nil
}

func parseWindow(raw string) (schedule.Window, error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '-' {
			continue
		}
		start, err := schedule.ParseTimeOfDay(raw[:i])
		if err != nil {
			return schedule.Window{}, err
		}
		end, err := schedule.ParseTimeOfDay(raw[i+1:])
		if err != nil {
			return schedule.Window{}, err
		}
		return schedule.Window{Start: start, End: end}, nil
	}
	return schedule.Window{}, errors.New("window must look like 09:00-09:30, got " + raw)
}

func seedBookings(ctx context.Context, faker *gofakeit.Faker, svc *appointment.Service, slots []appointment.Slot, opts seedOptions) (int, error) {
	if opts.patients <= 0 || len(slots) == 0 {
		return 0, nil
	}

	patients := make([]uuid.UUID, opts.patients)
	for i := range patients {
		patients[i] = uuid.New()
	}

	reasons := []string{
		"Annual check-up",
		"Follow-up visit",
		"Blood test results",
		"Vaccination",
		"Persistent cough",
		"Back pain",
		"Skin rash",
		"Prescription renewal",
	}

	booked := 0
	for _, slot := range slots {
		if faker.Float64Range(0, 1) >= opts.bookRatio {
			continue
		}

		patient := patients[faker.Number(0, len(patients)-1)]
		reason := reasons[faker.Number(0, len(reasons)-1)]
		if faker.Bool() {
			reason += ", referred by Dr. " + faker.LastName()
		}

		_, err := svc.BookSlot(ctx, patient, slot.ID, reason)
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrSlotUnavailable):
		default:
			return booked, err
		}
	}
	return booked, nil
}
