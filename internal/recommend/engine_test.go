package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimecast/scheduler/internal/freshness"
	"regimecast/scheduler/internal/registry"
	"regimecast/scheduler/pkg/models"
)

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func testPolicy() *freshness.Policy {
	return freshness.NewPolicy(map[models.Cadence]time.Duration{
		models.CadenceDaily:   day(90),
		models.CadenceWeekly:  day(180),
		models.CadenceMonthly: day(365),
		models.CadenceCore:    day(30),
	})
}

// completeAt trains one version of the entity with the given creation time.
func completeAt(t *testing.T, reg *registry.Registry, entity string, created time.Time) {
	t.Helper()
	ctx := context.Background()
	clock := created
	reg.WithClock(func() time.Time { return clock })
	v, err := reg.BeginVersion(ctx, entity)
	require.NoError(t, err)
	require.NoError(t, reg.CompleteVersion(ctx, entity, v, nil, ""))
	reg.WithClock(time.Now)
}

func TestRecommendCoreMissingDominates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "regime_classifier", Cadence: models.CadenceCore, Core: true},
		{Name: "GSPC", Cadence: models.CadenceDaily},
		{Name: "CPI", Cadence: models.CadenceMonthly},
	}
	// Feature entities are perfectly fresh; the missing core model must
	// still force a full retrain.
	completeAt(t, reg, "GSPC", now.Add(-day(1)))
	completeAt(t, reg, "CPI", now.Add(-day(1)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionFullTrain, rec.Decision)
	assert.Equal(t, []string{"CPI", "GSPC", "regime_classifier"}, rec.StaleEntities)
	assert.Contains(t, rec.Reason, "core model regime_classifier missing")
}

func TestRecommendCoreStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "regime_classifier", Cadence: models.CadenceCore, Core: true},
		{Name: "GSPC", Cadence: models.CadenceDaily},
	}
	completeAt(t, reg, "regime_classifier", now.Add(-day(45)))
	completeAt(t, reg, "GSPC", now.Add(-day(1)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionFullTrain, rec.Decision)
	assert.Contains(t, rec.Reason, "core model regime_classifier stale")
}

func TestRecommendPartialTrainExactSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "regime_classifier", Cadence: models.CadenceCore, Core: true},
		{Name: "A", Cadence: models.CadenceDaily},
		{Name: "B", Cadence: models.CadenceDaily},
		{Name: "C", Cadence: models.CadenceDaily},
		{Name: "D", Cadence: models.CadenceDaily},
	}
	completeAt(t, reg, "regime_classifier", now.Add(-day(5)))
	completeAt(t, reg, "A", now.Add(-day(120))) // stale
	completeAt(t, reg, "B", now.Add(-day(10)))
	completeAt(t, reg, "C", now.Add(-day(100))) // stale
	completeAt(t, reg, "D", now.Add(-day(89)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPartialTrain, rec.Decision)
	assert.Equal(t, []string{"A", "C"}, rec.StaleEntities)
	assert.Contains(t, rec.Reason, "2 features need training (0 missing, 2 stale)")
}

func TestRecommendNeverTrainedIncluded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "regime_classifier", Cadence: models.CadenceCore, Core: true},
		{Name: "GSPC", Cadence: models.CadenceDaily},
		{Name: "NEW", Cadence: models.CadenceWeekly},
	}
	completeAt(t, reg, "regime_classifier", now.Add(-day(5)))
	completeAt(t, reg, "GSPC", now.Add(-day(1)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPartialTrain, rec.Decision)
	assert.Equal(t, []string{"NEW"}, rec.StaleEntities)
	assert.Contains(t, rec.Reason, "1 missing")
}

func TestRecommendAllFresh(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "regime_classifier", Cadence: models.CadenceCore, Core: true},
		{Name: "GSPC", Cadence: models.CadenceDaily},
	}
	completeAt(t, reg, "regime_classifier", now.Add(-day(5)))
	completeAt(t, reg, "GSPC", now.Add(-day(10)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionInference, rec.Decision)
	assert.Empty(t, rec.StaleEntities)
}

func TestRecommendEndToEndScenario(t *testing.T) {
	// core fresh, daily_X 92 days old (threshold 90), weekly_Y 50 days old
	// (threshold 180) -> partial_train with exactly daily_X.
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStore())

	entities := []models.Entity{
		{Name: "core", Cadence: models.CadenceCore, Core: true},
		{Name: "daily_X", Cadence: models.CadenceDaily},
		{Name: "weekly_Y", Cadence: models.CadenceWeekly},
	}
	completeAt(t, reg, "core", now.Add(-day(3)))
	completeAt(t, reg, "daily_X", now.Add(-day(92)))
	completeAt(t, reg, "weekly_Y", now.Add(-day(50)))

	engine := NewEngine(reg, testPolicy(), entities)
	rec, err := engine.Recommend(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPartialTrain, rec.Decision)
	assert.Equal(t, []string{"daily_X"}, rec.StaleEntities)
	assert.Contains(t, rec.Reason, "1 features need training")
}
