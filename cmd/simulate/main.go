package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Days         int
	BookingRatio float64
	CancelRatio  float64
	ReplyRatio   float64
	ReadRatio    float64
}

type slotKey struct {
	DoctorID string
	Start    time.Time
}

type booking struct {
	ID    uuid.UUID
	Slot  slotKey
	Phone string
}

// DataPool holds the candidate slots every worker races for and the
// bookings that won.
type DataPool struct {
	Slots []slotKey

	mu       sync.RWMutex
	bookings []booking
	winners  map[slotKey][]uuid.UUID
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
	dp.winners[b.Slot] = append(dp.winners[b.Slot], b.ID)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Reply   OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	logger := logging.New(os.Getenv("APP_ENV")).Named("simulate")
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("reply", cfg.ReplyRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = pool
	logger.Info("candidate slots loaded", zap.Int("slots", len(pool.Slots)))

	sim.Run()
	sim.PrintReport()

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), time.Minute)
	defer cancelAudit()
	if n := sim.Audit(auditCtx); n > 0 {
		logger.Error("double bookings detected", zap.Int("slots", n))
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Days:         getInt("SIM_DAYS", 5),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.15),
		ReplyRatio:   getFloat("SIM_REPLY_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReplyRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReplyRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return fmt.Errorf("SIM_API_BASE_URL: %w", err)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

// loadDataPool asks the API for every doctor's open new-patient slots. All
// workers draw from the same list so bookings collide on purpose.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var doctors []api.DoctorResponse
	if err := s.getJSON(ctx, "/doctors", &doctors); err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	from := time.Now().AddDate(0, 0, 1).Format(time.DateOnly)
	to := time.Now().AddDate(0, 0, s.config.Days).Format(time.DateOnly)

	pool := &DataPool{winners: map[slotKey][]uuid.UUID{}}
	for _, d := range doctors {
		q := url.Values{"from": {from}, "to": {to}, "category": {"new"}, "limit": {"50"}}
		var avail api.AvailabilityResponse
		if err := s.getJSON(ctx, "/doctors/"+d.ID+"/availability?"+q.Encode(), &avail); err != nil {
			return nil, fmt.Errorf("availability for %s: %w", d.ID, err)
		}
		for _, slot := range avail.Slots {
			pool.Slots = append(pool.Slots, slotKey{DoctorID: d.ID, Start: slot.Start})
		}
	}

	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots in the next %d days", s.config.Days)
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ReplyRatio:
			s.doReply(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	dob := faker.DateRange(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	phone := faker.Phone()

	req := api.CreateAppointmentRequest{
		DoctorID: slot.DoctorID,
		Start:    slot.Start.Format(time.RFC3339),
		Patient: api.PatientPayload{
			Name:  faker.Name(),
			DOB:   dob.Format(time.DateOnly),
			Email: faker.Email(),
			Phone: phone,
		},
	}

	start := time.Now()
	status, body, err := s.do(ctx, http.MethodPost, "/appointments", "application/json", mustJSON(req))
	latency := time.Since(start)

	if err == nil && status == http.StatusCreated {
		var appt api.AppointmentResponse
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddBooking(booking{ID: appt.ID, Slot: slot, Phone: phone})
		}
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", "application/json",
		mustJSON(api.CancelAppointmentRequest{Reason: "simulated cancellation"}))
	s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// doReply sends a patient SMS through the inbound webhook, as Twilio would.
func (s *Simulator) doReply(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	texts := []string{"YES", "Confirm", "cancel please", "forms done", "can I reschedule?"}
	form := url.Values{"From": {b.Phone}, "Body": {texts[rng.Intn(len(texts))]}}

	start := time.Now()
	status, _, err := s.do(ctx, http.MethodPost, "/webhooks/sms", "application/x-www-form-urlencoded", []byte(form.Encode()))
	s.metrics.Reply.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.do(ctx, http.MethodGet, "/appointments/"+b.ID.String(), "", nil)
	s.metrics.Read.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// Audit checks every slot that was won more than once: at most one of its
// bookings may still hold it.
func (s *Simulator) Audit(ctx context.Context) int {
	s.pool.mu.RLock()
	defer s.pool.mu.RUnlock()

	violations := 0
	for slot, ids := range s.pool.winners {
		if len(ids) < 2 {
			continue
		}
		live := 0
		for _, id := range ids {
			var appt api.AppointmentResponse
			if err := s.getJSON(ctx, "/appointments/"+id.String(), &appt); err != nil {
				s.logger.Warn("audit read failed", zap.String("appointment_id", id.String()), zap.Error(err))
				continue
			}
			if appt.Status == "pending" || appt.Status == "confirmed" {
				live++
			}
		}
		if live > 1 {
			violations++
			s.logger.Error("slot held twice",
				zap.String("doctor_id", slot.DoctorID),
				zap.Time("start", slot.Start),
				zap.Int("live", live),
			)
		}
	}
	s.logger.Info("audit complete", zap.Int("slots", len(s.pool.winners)), zap.Int("violations", violations))
	return violations
}

func (s *Simulator) do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	status, body, err := s.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Candidate slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("SMS reply", &s.metrics.Reply)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
