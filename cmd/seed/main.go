package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/db"
	"github.com/hackgods/appointment-replication/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shifts are kept inside the default 08:00-18:00 business hours.
var shifts = [][2]string{
	{"08:00", "18:00"},
	{"08:00", "12:00"},
	{"09:00", "17:00"},
	{"13:00", "18:00"},
}

func main() {
	_ = godotenv.Load()
	log := logger.New(os.Getenv("LOG_LEVEL")).WithField("service", "seed")
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	if seed := os.Getenv("SEED"); seed != "" {
		if n, err := strconv.ParseUint(seed, 10, 64); err == nil {
			gofakeit.Seed(n)
		}
	}

	work := context.Background()
	if err := seedPhysicians(work, pool, envInt("SEED_PHYSICIANS", 100), log); err != nil {
		log.WithError(err).Fatal("seed physicians")
	}
	if err := seedPatients(work, pool, envInt("SEED_PATIENTS", 9000), log); err != nil {
		log.WithError(err).Fatal("seed patients")
	}

	log.Info("seed complete")
}

func seedPhysicians(ctx context.Context, pool *pgxpool.Pool, count int, log logrus.FieldLogger) error {
	log.WithField("count", count).Info("seeding physicians")

	batch := &pgx.Batch{}
	for range count {
		shift := shifts[gofakeit.Number(0, len(shifts)-1)]
		batch.Queue(`
			INSERT INTO physicians (id, name, specialty, work_start, work_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, uuid.New(), "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)], shift[0], shift[1])
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	log.Info("physicians seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log logrus.FieldLogger) error {
	log.WithField("count", count).Info("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for range end - offset {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.WithField("seeded", end).Debug("patients batch committed")
	}

	log.Info("patients seeded")
	return nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
