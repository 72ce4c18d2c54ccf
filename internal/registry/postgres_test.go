package registry

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"regimecast/scheduler/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	t.Run("Get on missing entity", func(t *testing.T) {
		_, err := store.GetRecord(ctx, "nope")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("Put and Get round trip", func(t *testing.T) {
		r := New(store)

		v1, err := r.BeginVersion(ctx, "GSPC")
		require.NoError(t, err)
		require.NoError(t, r.CompleteVersion(ctx, "GSPC", v1,
			map[string]float64{"smape": 7.5, "mae": 12.1}, "models/GSPC/nf_bundle_v1"))

		// Read-your-writes: the completion must be observable immediately.
		active, err := r.ActiveVersion(ctx, "GSPC")
		require.NoError(t, err)
		assert.Equal(t, v1, active.Version)
		assert.Equal(t, models.StatusCompleted, active.Status)
		assert.Equal(t, 7.5, active.Metrics["smape"])
		assert.Equal(t, "models/GSPC/nf_bundle_v1", active.ArtifactLocation)
	})

	t.Run("ListRecords ordering", func(t *testing.T) {
		require.NoError(t, store.PutRecord(ctx, &models.EntityRecord{Entity: "VIX"}))
		require.NoError(t, store.PutRecord(ctx, &models.EntityRecord{Entity: "CPI"}))

		records, err := store.ListRecords(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(records), 3)
		assert.Equal(t, "CPI", records[0].Entity)
	})
}
