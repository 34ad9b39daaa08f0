// Command simulate drives load against several api-server nodes at once. It
// books on one node and reads from another so that reads exercise event
// replication and, when an event has not arrived yet, peer fallback.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/api"
	"github.com/hackgods/appointment-replication/internal/db"
	"github.com/hackgods/appointment-replication/internal/logger"
)

type SimConfig struct {
	NodeURLs       []string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	CancelRatio    float64
	ReadRatio      float64
	SlotsRatio     float64
	PatientLimit   int
	PhysicianLimit int
	PostgresDSN    string
}

type DataPool struct {
	Patients   []uuid.UUID
	Physicians []uuid.UUID

	mu           sync.RWMutex
	appointments []booked
}

// booked remembers which node accepted a booking so reads can target another.
type booked struct {
	ID   uuid.UUID
	Node int
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
	Slots   OperationMetrics

	// reads answered from the node's own replica vs a sibling
	ReadLocal int64
	ReadPeer  int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     logrus.FieldLogger
}

func main() {
	log := logger.New(getEnv("LOG_LEVEL", "info")).WithField("service", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"nodes":    len(cfg.NodeURLs),
		"duration": cfg.Duration.String(),
		"workers":  cfg.Workers,
	}).Info("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.WithError(err).Fatal("load data pool")
	}
	log.WithFields(logrus.Fields{
		"patients":   len(dataPool.Patients),
		"physicians": len(dataPool.Physicians),
	}).Info("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		NodeURLs:       splitList(getEnv("SIM_NODE_URLS", "http://localhost:8080,http://localhost:8081")),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:    getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.4),
		SlotsRatio:     getFloat("SIM_SLOTS_RATIO", 0.1),
		PatientLimit:   getInt("SIM_PATIENT_LIMIT", 4000),
		PhysicianLimit: getInt("SIM_PHYSICIAN_LIMIT", 100),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio + cfg.SlotsRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
		cfg.SlotsRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if len(cfg.NodeURLs) == 0 {
		return fmt.Errorf("SIM_NODE_URLS must list at least one node")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	physicians, err := loadIDs(ctx, pool, `SELECT id FROM physicians LIMIT $1`, cfg.PhysicianLimit)
	if err != nil {
		return nil, fmt.Errorf("load physicians: %w", err)
	}

	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(physicians) == 0 {
		return nil, fmt.Errorf("no physicians loaded, run cmd/seed first")
	}
	return &DataPool{Patients: patients, Physicians: physicians}, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, i)
		}()
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ReadRatio:
			s.doRead(ctx, rng)
		default:
			s.doSlots(ctx, rng)
		}
	}
}

func (s *Simulator) node(rng *rand.Rand) int {
	return rng.Intn(len(s.config.NodeURLs))
}

// otherNode picks a node different from n when there is more than one.
func (s *Simulator) otherNode(rng *rand.Rand, n int) int {
	if len(s.config.NodeURLs) == 1 {
		return n
	}
	return (n + 1 + rng.Intn(len(s.config.NodeURLs)-1)) % len(s.config.NodeURLs)
}

func (s *Simulator) call(ctx context.Context, method, url string, body any, out any) (int, http.Header, error) {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, resp.Header, err
		}
	}
	return resp.StatusCode, resp.Header, nil
}

// pickSlot asks a node for the physician's free slots over the next week.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, node int, physicianID uuid.UUID) (time.Time, bool) {
	var slots api.SlotsResponse
	url := fmt.Sprintf("%s/physicians/%s/slots", s.config.NodeURLs[node], physicianID)
	status, _, err := s.call(ctx, http.MethodGet, url, nil, &slots)
	if err != nil || status != http.StatusOK || len(slots.Slots) == 0 {
		return time.Time{}, false
	}
	return slots.Slots[rng.Intn(len(slots.Slots))].Start, true
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	node := s.node(rng)
	physicianID := s.pool.Physicians[rng.Intn(len(s.pool.Physicians))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	at, ok := s.pickSlot(ctx, rng, node, physicianID)
	if !ok {
		return
	}

	consultation := "IN_PERSON"
	if rng.Intn(3) == 0 {
		consultation = "TELEMEDICINE"
	}
	notes := fmt.Sprintf("%s %s follow-up", gofakeit.Adjective(), gofakeit.Noun())

	start := time.Now()
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, _, err := s.call(ctx, http.MethodPost, s.config.NodeURLs[node]+"/appointments", api.CreateAppointmentRequest{
		PatientID:        patientID.String(),
		PhysicianID:      physicianID.String(),
		ScheduledAt:      at,
		ConsultationType: consultation,
		Notes:            &notes,
	}, &created)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated && created.ID != uuid.Nil
	if success {
		s.pool.AddAppointment(booked{ID: created.ID, Node: node})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	url := fmt.Sprintf("%s/appointments/%s/cancel", s.config.NodeURLs[b.Node], b.ID)
	status, _, err := s.call(ctx, http.MethodPost, url, api.CancelAppointmentRequest{Reason: "simulated: " + gofakeit.Noun()}, nil)
	latency := time.Since(start)

	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	node := s.otherNode(rng, b.Node)

	start := time.Now()
	url := fmt.Sprintf("%s/appointments/%s", s.config.NodeURLs[node], b.ID)
	status, header, err := s.call(ctx, http.MethodGet, url, nil, nil)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	if success {
		if header.Get(api.OriginHeader) == "peer" {
			atomic.AddInt64(&s.metrics.ReadPeer, 1)
		} else {
			atomic.AddInt64(&s.metrics.ReadLocal, 1)
		}
	}
	s.metrics.Read.Record(latency, success, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	physicianID := s.pool.Physicians[rng.Intn(len(s.pool.Physicians))]

	start := time.Now()
	_, ok := s.pickSlot(ctx, rng, s.node(rng), physicianID)
	s.metrics.Slots.Record(time.Since(start), ok, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Nodes: %s\n", strings.Join(s.config.NodeURLs, ", "))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Cross-node read", &s.metrics.Read)
	printOperationReport("Available slots", &s.metrics.Slots)

	local, remote := atomic.LoadInt64(&s.metrics.ReadLocal), atomic.LoadInt64(&s.metrics.ReadPeer)
	if total := local + remote; total > 0 {
		fmt.Printf("Cross-node reads served from replica: %d (%.1f%%), via peer fallback: %d (%.1f%%)\n",
			local, float64(local)/float64(total)*100, remote, float64(remote)/float64(total)*100)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimRight(strings.TrimSpace(item), "/"); item != "" {
			out = append(out, item)
		}
	}
	return out
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
