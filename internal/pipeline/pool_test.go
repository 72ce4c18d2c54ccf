package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimecast/scheduler/pkg/models"
)

func poolEntities(n int) []models.Entity {
	entities := make([]models.Entity, n)
	for i := range entities {
		entities[i] = models.Entity{Name: string(rune('A' + i)), Cadence: models.CadenceDaily}
	}
	return entities
}

func TestTrainPoolRunsAll(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	failures := trainPool(context.Background(), 3, poolEntities(8), func(_ context.Context, e models.Entity) error {
		mu.Lock()
		seen[e.Name]++
		mu.Unlock()
		return nil
	})

	assert.Empty(t, failures)
	assert.Len(t, seen, 8)
	for name, count := range seen {
		assert.Equal(t, 1, count, "entity %s trained more than once", name)
	}
}

func TestTrainPoolCollectsFailures(t *testing.T) {
	failures := trainPool(context.Background(), 2, poolEntities(4), func(_ context.Context, e models.Entity) error {
		if e.Name == "B" || e.Name == "D" {
			return errors.New("diverged")
		}
		return nil
	})

	assert.Len(t, failures, 2)
	assert.Contains(t, failures, "B")
	assert.Contains(t, failures, "D")
}

func TestTrainPoolBoundsConcurrency(t *testing.T) {
	const workers = 2
	var active, peak atomic.Int32

	trainPool(context.Background(), workers, poolEntities(10), func(context.Context, models.Entity) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestTrainPoolStopsFeedingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	trainPool(ctx, 1, poolEntities(10), func(context.Context, models.Entity) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil
	})

	// The feeder stops after the cancellation is observed; in-flight work
	// still finishes. With one worker, at most one extra job slips through.
	require.LessOrEqual(t, calls.Load(), int32(4))
}
