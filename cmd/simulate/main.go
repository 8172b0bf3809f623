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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/config"
	"github.com/hackgods/peer-tutoring-booking/internal/db"
	"github.com/hackgods/peer-tutoring-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	InstantRatio float64
	StatusRatio  float64
	ReadRatio    float64
	StudentLimit int
	HotSlots     int
	PostgresDSN  string
	Auth         config.AuthConfig
}

type slotRef struct {
	ID        uuid.UUID
	TutorID   uuid.UUID
	StartTime time.Time
	EndTime   time.Time
}

type bookingRef struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	TutorID   uuid.UUID
}

// DataPool holds the identities and slots workers pick from. Slots is kept
// small on purpose so that many workers race for the same rows.
type DataPool struct {
	Students []uuid.UUID
	Tutors   []uuid.UUID
	Slots    []slotRef

	tokens   sync.Map // uuid.UUID -> string
	mu       sync.RWMutex
	bookings []bookingRef
}

func (dp *DataPool) AddBooking(b bookingRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (bookingRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return bookingRef{}, false
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking  OperationMetrics
	Instant  OperationMetrics
	Status   OperationMetrics
	ReadByID OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(baseCfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid simulator config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("hot_slots", cfg.HotSlots),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("instant", cfg.InstantRatio),
		zap.Float64("status", cfg.StatusRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.Workers + 2)})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}

	log.Info("data pool loaded",
		zap.Int("students", len(dataPool.Students)),
		zap.Int("tutors", len(dataPool.Tutors)),
		zap.Int("slots", len(dataPool.Slots)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyInvariants(context.Background(), pgPool); err != nil {
		log.Error("invariant check failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("invariants hold: no double-booked slots, no overlapping sessions")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		InstantRatio: getFloat("SIM_INSTANT_RATIO", 0.1),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.25),
		StudentLimit: getInt("SIM_STUDENT_LIMIT", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 50),
		PostgresDSN:  base.PostgresDSN,
		Auth:         base.Auth,
	}

	total := cfg.BookingRatio + cfg.InstantRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.InstantRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Auth.Provider != config.AuthProviderJWT || cfg.Auth.JWTSigningKey == "" {
		return fmt.Errorf("simulator mints its own tokens: set AUTH_PROVIDER=jwt and JWT_SIGNING_KEY")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'student' LIMIT $1`, cfg.StudentLimit)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Students = append(dataPool.Students, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id, tutor_id, start_time, end_time FROM tutor_availability
		WHERE is_booked = FALSE AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.HotSlots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	tutors := make(map[uuid.UUID]bool)
	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.ID, &s.TutorID, &s.StartTime, &s.EndTime); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
		if !tutors[s.TutorID] {
			tutors[s.TutorID] = true
			dataPool.Tutors = append(dataPool.Tutors, s.TutorID)
		}
	}
	rows.Close()

	if len(dataPool.Students) == 0 {
		return nil, fmt.Errorf("no students loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) token(userID uuid.UUID, role string) string {
	if v, ok := s.pool.tokens.Load(userID); ok {
		return v.(string)
	}
	tok, _, err := auth.Issue(userID, role, s.config.Auth.JWTIssuer, s.config.Auth.JWTSigningKey, s.config.Duration+time.Hour)
	if err != nil {
		s.log.Fatal("issue token", zap.Error(err))
	}
	s.pool.tokens.Store(userID, tok)
	return tok
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.InstantRatio:
				s.doInstant(ctx, rng)
			case r < s.config.BookingRatio+s.config.InstantRatio+s.config.StatusRatio:
				s.doStatus(ctx, rng)
			default:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	student := s.pool.Students[rng.Intn(len(s.pool.Students))]

	body := map[string]string{
		"tutor_id":        slot.TutorID.String(),
		"availability_id": slot.ID.String(),
		"topic":           "Load test",
	}
	status, id, latency, err := s.call(ctx, http.MethodPost, "/api/v1/bookings", s.token(student, auth.RoleStudent), body)
	if status == http.StatusCreated && id != uuid.Nil {
		s.pool.AddBooking(bookingRef{ID: id, StudentID: student, TutorID: slot.TutorID})
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusUnprocessableEntity)
}

// doInstant books an ad-hoc session that collides with a hot slot's window
// half of the time.
func (s *Simulator) doInstant(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	student := s.pool.Students[rng.Intn(len(s.pool.Students))]

	start := slot.StartTime
	if rng.Intn(2) == 0 {
		start = slot.EndTime.Add(time.Duration(rng.Intn(48)+1) * time.Hour)
	}

	body := map[string]any{
		"tutor_id":   slot.TutorID.String(),
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(30 * time.Minute).Format(time.RFC3339),
	}
	status, id, latency, err := s.call(ctx, http.MethodPost, "/api/v1/bookings/instant", s.token(student, auth.RoleStudent), body)
	if status == http.StatusCreated && id != uuid.Nil {
		s.pool.AddBooking(bookingRef{ID: id, StudentID: student, TutorID: slot.TutorID})
	}
	s.metrics.Instant.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusUnprocessableEntity)
}

// doStatus has the tutor confirm, or either side cancel, a known booking.
func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	target, token := "confirmed", s.token(b.TutorID, auth.RoleTutor)
	switch rng.Intn(3) {
	case 0:
		target = "cancelled"
	case 1:
		target, token = "cancelled", s.token(b.StudentID, auth.RoleStudent)
	}

	status, _, latency, err := s.call(ctx, http.MethodPatch, "/api/v1/bookings/"+b.ID.String()+"/status", token,
		map[string]string{"status": target})
	s.metrics.Status.Record(latency, err == nil && status == http.StatusOK, status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	status, _, latency, err := s.call(ctx, http.MethodGet, "/api/v1/bookings/"+b.ID.String(), s.token(b.StudentID, auth.RoleStudent), nil)
	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

// call sends one request and returns the status code and, for created or
// updated bookings, the booking id from the response.
func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (int, uuid.UUID, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, uuid.Nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, uuid.Nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, uuid.Nil, latency, err
	}
	defer resp.Body.Close()

	var out struct {
		ID uuid.UUID `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.ID, latency, nil
}

// verifyInvariants checks the database directly for double bookings.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubleBooked int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT availability_id FROM booking_sessions
			WHERE status IN ('pending', 'confirmed')
			GROUP BY availability_id HAVING count(*) > 1
		) d
	`).Scan(&doubleBooked)
	if err != nil {
		return fmt.Errorf("count double-booked slots: %w", err)
	}

	var overlapping int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM booking_sessions a
		JOIN booking_sessions b
		  ON a.tutor_id = b.tutor_id AND a.id < b.id
		 AND a.start_time < b.end_time AND a.end_time > b.start_time
		WHERE a.status IN ('pending', 'confirmed') AND b.status IN ('pending', 'confirmed')
	`).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("count overlapping sessions: %w", err)
	}

	var flagDrift int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM tutor_availability t
		WHERE t.is_booked <> EXISTS (
			SELECT 1 FROM booking_sessions b
			WHERE b.availability_id = t.id AND b.status IN ('pending', 'confirmed')
		)
	`).Scan(&flagDrift)
	if err != nil {
		return fmt.Errorf("count flag drift: %w", err)
	}

	fmt.Printf("Double-booked slots: %d\nOverlapping sessions: %d\nSlot flag drift: %d\n\n", doubleBooked, overlapping, flagDrift)

	if doubleBooked > 0 || overlapping > 0 || flagDrift > 0 {
		return fmt.Errorf("double_booked=%d overlapping=%d flag_drift=%d", doubleBooked, overlapping, flagDrift)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Slot booking", &s.metrics.Booking)
	printOperationReport("Instant booking", &s.metrics.Instant)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
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
