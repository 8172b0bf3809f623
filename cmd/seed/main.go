package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/db"
	"github.com/hackgods/peer-tutoring-booking/internal/logger"
)

const (
	slotLength       = time.Hour
	// seven days of 08:00-20:00 starts
	maxSlotsPerTutor = 7 * 13
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	tutors := getInt("SEED_TUTORS", 50)
	students := getInt("SEED_STUDENTS", 2000)
	slotsPerTutor := min(getInt("SEED_SLOTS_PER_TUTOR", 24), maxSlotsPerTutor)

	log.Info("seed starting",
		zap.Int("tutors", tutors),
		zap.Int("students", students),
		zap.Int("slots_per_tutor", slotsPerTutor),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(time.Now().UnixNano())

	tutorIDs, err := seedUsers(context.Background(), log, pool, faker, "tutor", tutors)
	if err != nil {
		log.Fatal("seed tutors", zap.Error(err))
	}
	if _, err := seedUsers(context.Background(), log, pool, faker, "student", students); err != nil {
		log.Fatal("seed students", zap.Error(err))
	}
	if err := seedAvailability(context.Background(), log, pool, faker, tutorIDs, slotsPerTutor); err != nil {
		log.Fatal("seed availability", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedUsers(ctx context.Context, log *zap.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, role string, count int) ([]uuid.UUID, error) {
	log.Info("seeding users", zap.String("role", role), zap.Int("count", count))

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, display_name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, faker.Name(), id.String()[:8]+"."+faker.Email(), role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info("users seeded", zap.String("role", role), zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// seedAvailability publishes hourly slots over the coming week. Slots for a
// tutor never overlap each other.
func seedAvailability(ctx context.Context, log *zap.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, tutorIDs []uuid.UUID, perTutor int) error {
	log.Info("seeding availability", zap.Int("tutors", len(tutorIDs)), zap.Int("per_tutor", perTutor))

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	rows := make([][]any, 0, len(tutorIDs)*perTutor)

	for _, tutorID := range tutorIDs {
		used := make(map[time.Time]bool, perTutor)
		for len(used) < perTutor {
			start := day.
				Add(time.Duration(faker.Number(0, 6)) * 24 * time.Hour).
				Add(time.Duration(faker.Number(8, 20)) * time.Hour)
			if used[start] {
				continue
			}
			used[start] = true
			rows = append(rows, []any{uuid.New(), tutorID, start, start.Add(slotLength), false, ""})
		}
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"tutor_availability"},
		[]string{"id", "tutor_id", "start_time", "end_time", "is_booked", "recurrence"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	log.Info("availability seeded", zap.Int64("slots", n))
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
