// Package recommend aggregates per-entity freshness into a single workflow
// recommendation: run inference only, retrain a subset, or retrain
// everything.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"regimecast/scheduler/internal/freshness"
	"regimecast/scheduler/internal/registry"
	"regimecast/scheduler/pkg/models"
)

// Engine computes recommendations from the registry and freshness policy.
type Engine struct {
	registry *registry.Registry
	policy   *freshness.Policy
	entities []models.Entity
}

// NewEngine creates an Engine over the statically configured entity set.
func NewEngine(reg *registry.Registry, policy *freshness.Policy, entities []models.Entity) *Engine {
	return &Engine{registry: reg, policy: policy, entities: entities}
}

// Recommend evaluates every entity's freshness at the given instant.
//
// Core entities dominate: downstream forecasters are trained against
// features and labels the core models produced, so a missing or stale core
// model invalidates every dependent artifact regardless of its own age.
func (e *Engine) Recommend(ctx context.Context, now time.Time) (models.Recommendation, error) {
	var core, features []models.Entity
	for _, entity := range e.entities {
		if entity.Core {
			core = append(core, entity)
		} else {
			features = append(features, entity)
		}
	}

	allNames := make([]string, 0, len(e.entities))
	for _, entity := range e.entities {
		allNames = append(allNames, entity.Name)
	}
	sort.Strings(allNames)

	for _, entity := range core {
		active, err := e.activeOrNil(ctx, entity.Name)
		if err != nil {
			return models.Recommendation{}, err
		}
		if active == nil {
			return models.Recommendation{
				Decision:      models.DecisionFullTrain,
				StaleEntities: allNames,
				Reason:        fmt.Sprintf("core model %s missing", entity.Name),
			}, nil
		}
		if e.policy.IsStale(active, entity.Cadence, now) {
			age := now.Sub(active.CreatedAt)
			return models.Recommendation{
				Decision:      models.DecisionFullTrain,
				StaleEntities: allNames,
				Reason: fmt.Sprintf("core model %s stale: %s old (threshold %s)",
					entity.Name, age.Round(time.Hour), e.policy.Threshold(entity.Cadence)),
			}, nil
		}
	}

	var stale []string
	missing := 0
	for _, entity := range features {
		active, err := e.activeOrNil(ctx, entity.Name)
		if err != nil {
			return models.Recommendation{}, err
		}
		// An entity with zero training attempts ever is always stale; it is
		// never silently skipped as not applicable.
		if e.policy.IsStale(active, entity.Cadence, now) {
			stale = append(stale, entity.Name)
			if active == nil {
				missing++
			}
		}
	}
	sort.Strings(stale)

	if len(stale) == 0 {
		return models.Recommendation{
			Decision:      models.DecisionInference,
			StaleEntities: []string{},
			Reason:        fmt.Sprintf("all %d features are fresh and ready", len(features)),
		}, nil
	}

	return models.Recommendation{
		Decision:      models.DecisionPartialTrain,
		StaleEntities: stale,
		Reason: fmt.Sprintf("%d features need training (%d missing, %d stale)",
			len(stale), missing, len(stale)-missing),
	}, nil
}

func (e *Engine) activeOrNil(ctx context.Context, entity string) (*models.Version, error) {
	active, err := e.registry.ActiveVersion(ctx, entity)
	if errors.Is(err, registry.ErrNoActiveVersion) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return active, nil
}
