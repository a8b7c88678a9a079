package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	log := zerolog.Nop()

	h := NewRouter(RouterConfig{
		Service:     appointment.NewService(repo, 500, log),
		Provisioner: appointment.NewProvisioner(repo, repo, redisclient.NewLocalLocker(), 366, log),
		Logger:      log,
		Health:      deps,
		Env:         "test",
		Version:     "test",
	})
	return &testServer{handler: h, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func (s *testServer) provisionWeek(t *testing.T) ProvisionSlotsResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/slots/provision", ProvisionSlotsRequest{
		StartDate:     "2024-03-04",
		EndDate:       "2024-03-10",
		StartTime:     "09:00",
		EndTime:       "10:00",
		RepeatPattern: "weekdays",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[ProvisionSlotsResponse](t, rec)
}

func TestProvisionSlots(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.provisionWeek(t)
	if resp.Created != 5 || len(resp.Slots) != 5 {
		t.Fatalf("created = %d (%d slots), want 5", resp.Created, len(resp.Slots))
	}
	if resp.Slots[0].Date != "2024-03-04" || resp.Slots[0].StartTime != "09:00" {
		t.Fatalf("first slot = %+v", resp.Slots[0])
	}

	rec := srv.do(t, http.MethodPost, "/slots/provision", ProvisionSlotsRequest{
		StartDate:     "2024-03-04",
		EndDate:       "2024-03-10",
		StartTime:     "09:30",
		EndTime:       "10:30",
		RepeatPattern: "weekdays",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("overlapping provision status = %d, want 200", rec.Code)
	}
	again := decode[ProvisionSlotsResponse](t, rec)
	if again.Created != 0 || len(again.SkippedDates) != 5 || again.Message == "" {
		t.Fatalf("overlapping provision = %+v", again)
	}
}

func TestProvisionSlots_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"bad date", ProvisionSlotsRequest{StartDate: "04/03/2024", EndDate: "2024-03-10", StartTime: "09:00", EndTime: "10:00", RepeatPattern: "everyday"}, "start_date"},
		{"bad time", ProvisionSlotsRequest{StartDate: "2024-03-04", EndDate: "2024-03-10", StartTime: "9am", EndTime: "10:00", RepeatPattern: "everyday"}, "start_time"},
		{"missing end time", ProvisionSlotsRequest{StartDate: "2024-03-04", EndDate: "2024-03-10", StartTime: "09:00", RepeatPattern: "everyday"}, "end_time"},
		{"inverted range", ProvisionSlotsRequest{StartDate: "2024-03-10", EndDate: "2024-03-04", StartTime: "09:00", EndTime: "10:00", RepeatPattern: "everyday"}, "end_date"},
		{"inverted window", ProvisionSlotsRequest{StartDate: "2024-03-04", EndDate: "2024-03-10", StartTime: "11:00", EndTime: "10:00", RepeatPattern: "everyday"}, "end_time"},
		{"unknown pattern", ProvisionSlotsRequest{StartDate: "2024-03-04", EndDate: "2024-03-10", StartTime: "09:00", EndTime: "10:00", RepeatPattern: "fortnightly"}, "repeat_pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			rec := srv.do(t, http.MethodPost, "/slots/provision", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Field != tt.field {
				t.Fatalf("field = %q, want %q", got.Field, tt.field)
			}
		})
	}

	srv := newTestServer(t)
	if rec := srv.do(t, http.MethodPost, "/slots/provision", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON status = %d, want 400", rec.Code)
	}
}

func TestBookAppointment(t *testing.T) {
	srv := newTestServer(t)
	slot := srv.provisionWeek(t).Slots[0]
	patient := uuid.New()

	rec := srv.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		SlotID:    slot.ID.String(),
		PatientID: patient.String(),
		Reason:    "follow-up",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book status = %d, body %s", rec.Code, rec.Body.String())
	}
	appt := decode[AppointmentResponse](t, rec)
	if appt.Status != "pending" || appt.SlotID != slot.ID || appt.PatientID != patient {
		t.Fatalf("appointment = %+v", appt)
	}

	rec = srv.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		SlotID:    slot.ID.String(),
		PatientID: uuid.NewString(),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second booking status = %d, want 409", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "slot_unavailable" {
		t.Fatalf("error code = %q", got.Error)
	}

	rec = srv.do(t, http.MethodGet, "/slots/available", nil)
	avail := decode[PageResponse[SlotResponse]](t, rec)
	if avail.Total != 4 {
		t.Fatalf("available total = %d, want 4", avail.Total)
	}
	for _, s := range avail.Items {
		if s.ID == slot.ID {
			t.Fatal("booked slot still listed as available")
		}
	}
}

func TestBookAppointment_BadInput(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", "{", http.StatusBadRequest, "invalid_request_body"},
		{"bad slot id", BookAppointmentRequest{SlotID: "nope", PatientID: uuid.NewString()}, http.StatusBadRequest, "invalid_slot_id"},
		{"bad patient id", BookAppointmentRequest{SlotID: uuid.NewString(), PatientID: "nope"}, http.StatusBadRequest, "invalid_patient_id"},
		{"reason too long", BookAppointmentRequest{SlotID: uuid.NewString(), PatientID: uuid.NewString(), Reason: strings.Repeat("x", 501)}, http.StatusBadRequest, "validation_error"},
		{"unknown slot", BookAppointmentRequest{SlotID: uuid.NewString(), PatientID: uuid.NewString()}, http.StatusConflict, "slot_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/appointments", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Error != tt.code {
				t.Fatalf("error = %q, want %q", got.Error, tt.code)
			}
		})
	}
}

func TestBookAppointment_ConcurrentRequests(t *testing.T) {
	srv := newTestServer(t)
	slot := srv.provisionWeek(t).Slots[0]

	const n = 32
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := srv.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
				SlotID:    slot.ID.String(),
				PatientID: uuid.NewString(),
			})
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	if created != 1 || conflicts != n-1 {
		t.Fatalf("created = %d, conflicts = %d; want 1 and %d", created, conflicts, n-1)
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	slots := srv.provisionWeek(t).Slots
	patient := uuid.New()

	var ids []uuid.UUID
	for _, s := range slots[:2] {
		rec := srv.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{SlotID: s.ID.String(), PatientID: patient.String()})
		if rec.Code != http.StatusCreated {
			t.Fatalf("book status = %d", rec.Code)
		}
		ids = append(ids, decode[AppointmentResponse](t, rec).ID)
	}

	rec := srv.do(t, http.MethodGet, "/appointments/"+ids[0].String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[AppointmentResponse](t, rec)
	if got.Slot == nil || got.SlotLabel != "2024-03-04 09:00 - 10:00" {
		t.Fatalf("detail = %+v", got)
	}

	rec = srv.do(t, http.MethodPost, "/appointments/"+ids[0].String()+"/approve", nil)
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "approved" {
		t.Fatalf("approve status = %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/appointments/"+ids[0].String()+"/reject", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reject after approve status = %d, want 409", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/appointments/"+ids[1].String()+"/reject", nil)
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "rejected" {
		t.Fatalf("reject status = %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/approve", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("approve unknown status = %d, want 404", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/appointments?patient_id="+patient.String()+"&limit=1", nil)
	page := decode[PageResponse[AppointmentResponse]](t, rec)
	if page.Total != 2 || len(page.Items) != 1 || page.TotalPages != 2 {
		t.Fatalf("page = %+v", page)
	}

	rec = srv.do(t, http.MethodGet, "/slots?status=taken", nil)
	if taken := decode[PageResponse[SlotResponse]](t, rec); taken.Total != 2 {
		t.Fatalf("taken total = %d, want 2", taken.Total)
	}
	if rec := srv.do(t, http.MethodGet, "/slots?status=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(1, 2, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("request id = %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{"all up", []Dependency{{Name: "postgres", Ping: up, Critical: true}, {Name: "redis", Ping: up}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Ping: up, Critical: true}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{{Name: "postgres", Ping: down, Critical: true}, {Name: "redis", Ping: up}}, http.StatusServiceUnavailable, "error"},
		{"no deps", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.deps...)
			rec := srv.do(t, http.MethodGet, "/health/ready", nil)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if got := decode[ReadinessResponse](t, rec); got.Status != tt.status {
				t.Fatalf("status = %q, want %q", got.Status, tt.status)
			}
		})
	}
}
