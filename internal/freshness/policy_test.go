package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"regimecast/scheduler/pkg/models"
)

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func testPolicy() *Policy {
	return NewPolicy(map[models.Cadence]time.Duration{
		models.CadenceDaily:   day(90),
		models.CadenceWeekly:  day(180),
		models.CadenceMonthly: day(365),
		models.CadenceCore:    day(30),
	})
}

func TestIsStaleNilActive(t *testing.T) {
	p := testPolicy()
	assert.True(t, p.IsStale(nil, models.CadenceDaily, time.Now()))
}

func TestFreshnessMonotonicity(t *testing.T) {
	p := testPolicy()
	trained := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active := &models.Version{Version: 1, CreatedAt: trained, Status: models.StatusCompleted}

	// Fresh immediately after completion, stays fresh up to the threshold.
	assert.False(t, p.IsStale(active, models.CadenceDaily, trained))
	assert.False(t, p.IsStale(active, models.CadenceDaily, trained.Add(day(90))))

	// Stale once the threshold is crossed, and stays stale after.
	assert.True(t, p.IsStale(active, models.CadenceDaily, trained.Add(day(90)+time.Second)))
	assert.True(t, p.IsStale(active, models.CadenceDaily, trained.Add(day(400))))
}

func TestThresholdsPerCadence(t *testing.T) {
	p := testPolicy()
	trained := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active := &models.Version{Version: 1, CreatedAt: trained, Status: models.StatusCompleted}
	now := trained.Add(day(120))

	// 120 days old: stale for daily and core, fresh for weekly and monthly.
	assert.True(t, p.IsStale(active, models.CadenceDaily, now))
	assert.True(t, p.IsStale(active, models.CadenceCore, now))
	assert.False(t, p.IsStale(active, models.CadenceWeekly, now))
	assert.False(t, p.IsStale(active, models.CadenceMonthly, now))
}

func TestThresholdFallback(t *testing.T) {
	p := NewPolicy(nil)
	assert.Equal(t, DefaultThreshold, p.Threshold(models.CadenceDaily))
}
