// Package feedback closes the loop between observed forecast error and
// future retraining decisions. It is orthogonal to the freshness policy: an
// entity can be fresh by age yet still trigger retraining here, because its
// predictions rather than its age are the signal.
package feedback

import (
	"fmt"
	"sort"
	"time"
)

// Sample is one validated prediction-vs-actual comparison: an aggregate
// error value and when it was recorded.
type Sample struct {
	RecordedAt  time.Time `json:"recorded_at"`
	Aggregate   float64   `json:"aggregate"`
	SampleCount int       `json:"sample_count"`
}

// Decision is the controller's retrain-or-not verdict.
type Decision struct {
	Retrain   bool    `json:"retrain"`
	Reason    string  `json:"reason"`
	Aggregate float64 `json:"aggregate"`
}

// Controller evaluates a current aggregate error against an absolute ceiling
// and against the median of a historical window.
type Controller struct {
	absoluteCeiling   float64
	degradationMargin float64
	minSamples        int
}

// NewController creates a Controller with the given thresholds. minSamples
// gates both the degradation rule (minimum history size) and the evaluation
// itself (minimum validated forecasts in the current sample).
func NewController(absoluteCeiling, degradationMargin float64, minSamples int) *Controller {
	return &Controller{
		absoluteCeiling:   absoluteCeiling,
		degradationMargin: degradationMargin,
		minSamples:        minSamples,
	}
}

// Evaluate applies the decision rules in order; the first match wins.
func (c *Controller) Evaluate(current Sample, history []Sample) Decision {
	if current.SampleCount < c.minSamples {
		return Decision{
			Retrain:   false,
			Reason:    fmt.Sprintf("insufficient samples (%d < %d)", current.SampleCount, c.minSamples),
			Aggregate: current.Aggregate,
		}
	}

	if current.Aggregate > c.absoluteCeiling {
		return Decision{
			Retrain: true,
			Reason: fmt.Sprintf("absolute threshold exceeded: aggregate error %.1f > ceiling %.1f",
				current.Aggregate, c.absoluteCeiling),
			Aggregate: current.Aggregate,
		}
	}

	if len(history) >= c.minSamples {
		baseline := median(history)
		// Inclusive at the margin: a delta equal to the margin retrains.
		if delta := current.Aggregate - baseline; delta >= c.degradationMargin {
			return Decision{
				Retrain: true,
				Reason: fmt.Sprintf("degraded vs. baseline: %.1f -> %.1f (+%.1f, margin %.1f)",
					baseline, current.Aggregate, delta, c.degradationMargin),
				Aggregate: current.Aggregate,
			}
		}
	}

	return Decision{
		Retrain:   false,
		Reason:    fmt.Sprintf("performance acceptable: aggregate error %.1f", current.Aggregate),
		Aggregate: current.Aggregate,
	}
}

// median returns the median aggregate of the window.
func median(history []Sample) float64 {
	values := make([]float64, len(history))
	for i, s := range history {
		values[i] = s.Aggregate
	}
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
