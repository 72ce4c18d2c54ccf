package pipeline

import (
	"context"
	"sync"

	"regimecast/scheduler/pkg/models"
)

// trainPool runs fn for every entity on a bounded pool of workers and
// returns the per-entity errors. The registry serializes writers per entity,
// so the pool itself needs no coordination beyond the result map.
func trainPool(ctx context.Context, workers int, entities []models.Entity, fn func(context.Context, models.Entity) error) map[string]error {
	if workers < 1 {
		workers = 1
	}
	if workers > len(entities) {
		workers = len(entities)
	}

	jobs := make(chan models.Entity)
	var mu sync.Mutex
	failures := make(map[string]error)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range jobs {
				if err := fn(ctx, entity); err != nil {
					mu.Lock()
					failures[entity.Name] = err
					mu.Unlock()
				}
			}
		}()
	}

	for _, entity := range entities {
		if ctx.Err() != nil {
			break
		}
		jobs <- entity
	}
	close(jobs)
	wg.Wait()

	return failures
}
