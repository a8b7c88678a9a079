package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-slot-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Contenders  int
	SlotLimit   int
	ApproveRate float64
}

type slotRef struct {
	ID   uuid.UUID `json:"id"`
	Date string    `json:"date"`
}

// outcome classifies one request for the report.
type outcome int

const (
	outcomeError outcome = iota
	outcomeSuccess
	outcomeConflict
	outcomeRateLimited
)

// outcomeOf maps a response status to an outcome; successStatus is the code
// the operation answers with when it worked.
func outcomeOf(status, successStatus int) outcome {
	switch status {
	case successStatus:
		return outcomeSuccess
	case http.StatusConflict:
		return outcomeConflict
	case http.StatusTooManyRequests:
		return outcomeRateLimited
	default:
		return outcomeError
	}
}

type OperationMetrics struct {
	Total       int64
	Success     int64
	Conflict    int64
	RateLimited int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRateLimited:
		atomic.AddInt64(&om.RateLimited, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking   OperationMetrics
	Approve   OperationMetrics
	ListSlots OperationMetrics
}

// Simulator races Contenders patients against each available slot and
// checks that no slot ever ends up with more than one appointment.
type Simulator struct {
	config  SimConfig
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics

	mu          sync.Mutex
	winners     map[uuid.UUID]int
	doubleBooks []uuid.UUID

	throttleWarned atomic.Bool
}

func main() {
	cfg := SimConfig{}

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Drive concurrent bookings against a running api-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.APIBaseURL, "base-url", "http://localhost:8080", "api-server base URL")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 4, "slots raced in parallel")
	cmd.Flags().IntVar(&cfg.Contenders, "contenders", 16, "concurrent booking attempts per slot")
	cmd.Flags().IntVar(&cfg.SlotLimit, "slots", 100, "available slots fetched per round")
	cmd.Flags().Float64Var(&cfg.ApproveRate, "approve-rate", 0.5, "share of won bookings to approve")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg SimConfig) error {
	if cfg.Workers <= 0 || cfg.Contenders <= 0 {
		return fmt.Errorf("workers and contenders must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}

	log := logging.New("dev", "info", "simulate")
	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("contenders", cfg.Contenders).
		Msg("simulator starting")

	sim := &Simulator{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		winners: make(map[uuid.UUID]int),
	}

	if err := sim.Run(ctx); err != nil {
		return err
	}
	sim.PrintReport()

	if len(sim.doubleBooks) > 0 {
		return fmt.Errorf("%d slots were booked more than once", len(sim.doubleBooks))
	}
	return nil
}

func (s *Simulator) Run(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	for ctx.Err() == nil {
		slots, err := s.fetchAvailable(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if len(slots) == 0 {
			s.log.Info().Msg("no available slots left")
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.Workers)
		for _, slot := range slots {
			g.Go(func() error {
				s.raceSlot(gctx, slot)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.log.Info().Msg("simulation complete")
	return nil
}

func (s *Simulator) fetchAvailable(ctx context.Context) ([]slotRef, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/slots/available?limit=%d", s.config.APIBaseURL, s.config.SlotLimit), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.ListSlots.Record(latency, outcomeError)
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.ListSlots.Record(latency, outcomeOf(resp.StatusCode, http.StatusOK))
		return nil, fmt.Errorf("list available slots: status %d", resp.StatusCode)
	}

	var page struct {
		Items []slotRef `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		s.metrics.ListSlots.Record(latency, outcomeError)
		return nil, fmt.Errorf("decode available slots: %w", err)
	}

	s.metrics.ListSlots.Record(latency, outcomeSuccess)
	return page.Items, nil
}

// raceSlot fires Contenders booking requests for one slot at the same moment.
func (s *Simulator) raceSlot(ctx context.Context, slot slotRef) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	var won atomic.Int32
	var winner atomic.Value

	for i := 0; i < s.config.Contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if id, ok := s.book(ctx, slot.ID, uuid.New()); ok {
				won.Add(1)
				winner.Store(id)
			}
		}()
	}
	close(start)
	wg.Wait()

	n := int(won.Load())
	s.mu.Lock()
	s.winners[slot.ID] += n
	if s.winners[slot.ID] > 1 {
		s.doubleBooks = append(s.doubleBooks, slot.ID)
		s.log.Error().Stringer("slot_id", slot.ID).Int("winners", s.winners[slot.ID]).Msg("slot booked more than once")
	}
	s.mu.Unlock()

	if id, ok := winner.Load().(uuid.UUID); ok && rand.Float64() < s.config.ApproveRate {
		s.approve(ctx, id)
	}
}

func (s *Simulator) book(ctx context.Context, slotID, patientID uuid.UUID) (uuid.UUID, bool) {
	body, _ := json.Marshal(map[string]string{
		"slot_id":    slotID.String(),
		"patient_id": patientID.String(),
		"reason":     "load test",
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, outcomeError)
		return uuid.Nil, false
	}
	defer resp.Body.Close()

	o := outcomeOf(resp.StatusCode, http.StatusCreated)
	s.metrics.Booking.Record(latency, o)
	switch o {
	case outcomeSuccess:
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&appt)
		return appt.ID, true
	case outcomeRateLimited:
		s.warnThrottled()
	}
	return uuid.Nil, false
}

// warnThrottled logs once per run. Throttled attempts never reach the booking
// path, so the race is only meaningful with the limiter off.
func (s *Simulator) warnThrottled() {
	if s.throttleWarned.CompareAndSwap(false, true) {
		s.log.Warn().Msg("api-server is rate limiting bookings, restart it with RATE_LIMIT_RPS=0 for a full race")
	}
}

func (s *Simulator) approve(ctx context.Context, id uuid.UUID) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/approve", s.config.APIBaseURL, id), nil)
	if err != nil {
		return
	}

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Approve.Record(latency, outcomeError)
		return
	}
	defer resp.Body.Close()

	s.metrics.Approve.Record(latency, outcomeOf(resp.StatusCode, http.StatusOK))
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Contenders per slot: %d\n", s.config.Workers, s.config.Contenders)
	fmt.Printf("Slots raced: %d  Double bookings: %d\n", len(s.winners), len(s.doubleBooks))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("List available", &s.metrics.ListSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	limited := atomic.LoadInt64(&om.RateLimited)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if limited > 0 {
		fmt.Printf("  Rate limited: %d (%.1f%%)\n", limited, float64(limited)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
