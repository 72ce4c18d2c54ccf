// Package freshness decides whether an entity's active artifact is stale.
package freshness

import (
	"time"

	"regimecast/scheduler/pkg/models"
)

// DefaultThreshold applies when a cadence class has no configured threshold.
const DefaultThreshold = 90 * 24 * time.Hour

// Policy holds per-cadence staleness thresholds. Staleness is a pure
// predicate of the active version's age; there is no hysteresis, so an
// entity only flips back to fresh by actually being retrained.
type Policy struct {
	thresholds map[models.Cadence]time.Duration
}

// NewPolicy creates a Policy with the given per-cadence thresholds.
func NewPolicy(thresholds map[models.Cadence]time.Duration) *Policy {
	out := make(map[models.Cadence]time.Duration, len(thresholds))
	for cadence, d := range thresholds {
		out[cadence] = d
	}
	return &Policy{thresholds: out}
}

// Threshold returns the staleness threshold for a cadence class.
func (p *Policy) Threshold(cadence models.Cadence) time.Duration {
	if d, ok := p.thresholds[cadence]; ok {
		return d
	}
	return DefaultThreshold
}

// IsStale reports whether the active version is older than the cadence
// threshold. A nil active version (never completed training) is treated as
// infinitely stale.
func (p *Policy) IsStale(active *models.Version, cadence models.Cadence, now time.Time) bool {
	if active == nil {
		return true
	}
	return now.Sub(active.CreatedAt) > p.Threshold(cadence)
}
