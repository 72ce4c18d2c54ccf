// Command seed populates the registry with completed versions for every
// configured entity, backdated so the freshness engine has realistic ages to
// reason about. Intended for local development against a fresh database.
package main

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"regimecast/scheduler/internal/config"
	"regimecast/scheduler/internal/logging"
	"regimecast/scheduler/internal/registry"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := registry.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	reg := registry.New(store)

	entities := cfg.EntityList()
	if len(entities) == 0 {
		logger.Warn("no entities configured, nothing to seed")
		return
	}

	for _, entity := range entities {
		record, err := reg.Record(ctx, entity.Name)
		if err == nil && len(record.Versions) > 0 {
			logger.Info("entity %s already has %d versions, skipping", entity.Name, len(record.Versions))
			continue
		}

		// Backdate each version so some entities come up stale.
		age := time.Duration(rand.Intn(120)) * 24 * time.Hour
		createdAt := time.Now().Add(-age)
		reg.WithClock(func() time.Time { return createdAt })

		version, err := reg.BeginVersion(ctx, entity.Name)
		if err != nil {
			log.Fatalf("Failed to begin version for %s: %v", entity.Name, err)
		}
		metrics := map[string]float64{
			"smape": 5 + rand.Float64()*20,
		}
		if err := reg.CompleteVersion(ctx, entity.Name, version, metrics, ""); err != nil {
			log.Fatalf("Failed to complete version for %s: %v", entity.Name, err)
		}
		logger.Info("seeded %s v%d (age %dd)", entity.Name, version, int(age.Hours()/24))
	}

	logger.Info("seed complete: %d entities", len(entities))
}
