package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"regimecast/scheduler/internal/feedback"
	"regimecast/scheduler/internal/logging"
	"regimecast/scheduler/internal/registry"
	"regimecast/scheduler/pkg/models"
)

// Deps wires the stage bodies to their collaborators and to the registry.
type Deps struct {
	Registry *registry.Registry
	Entities []models.Entity
	// CoreStages maps a core-training stage to the core entity it trains.
	CoreStages map[Stage]models.Entity
	Collab     Collaborator
	Feedback   *feedback.Controller
	History    feedback.HistoryStore
	Lookback   time.Duration
	MaxWorkers int
	Logger     *logging.Logger
	Now        func() time.Time
}

// NewStages builds the stage bodies. Training-chain failures are fatal (the
// rest of the chain depends on each stage's output); inference-chain
// failures are recorded and execution continues, so partial completion is an
// accepted outcome.
func NewStages(deps Deps) map[Stage]StageFunc {
	if deps.Collab == nil {
		deps.Collab = NoopCollaborator{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxWorkers < 1 {
		deps.MaxWorkers = 1
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger()
	}
	if deps.Feedback == nil {
		deps.Feedback = feedback.NewController(30.0, 10.0, 3)
	}

	stages := map[Stage]StageFunc{
		StageFetch:     fatalStage(StageFetch, deps.Collab.FetchData),
		StageTransform: fatalStage(StageTransform, deps.Collab.TransformFeatures),
		StageSelect:    fatalStage(StageSelect, deps.Collab.SelectFeatures),
		StageCluster:   coreTrainStage(StageCluster, deps),
		StageClassify:  coreTrainStage(StageClassify, deps),
		StageForecast:  forecastStage(deps),
		StagePredict:   predictStage(deps),
		StageCompare:   compareStage(deps),
		StageValidate:  validateStage(deps),
		StageReview:    reviewStage(deps),
	}
	return stages
}

// fatalStage wraps an opaque unit of work whose failure means no usable
// output for the rest of the chain.
func fatalStage(stage Stage, work func(context.Context) error) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()
		if err := work(ctx); err != nil {
			return s.WithResult(stage, failedResult(started, err)), true
		}
		return s.WithResult(stage, okResult(started, nil)), false
	}
}

// coreTrainStage trains the core entity owned by the stage, tracking the
// attempt through the registry lifecycle. A run seeded with a stale subset
// that excludes the stage's entity passes through without retraining: a
// partial retrain only touches the entities named stale, and the
// recommendation engine only emits partial_train when the cores are fresh.
func coreTrainStage(stage Stage, deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()
		entity, tracked := deps.CoreStages[stage]

		if tracked && excludedFromRun(s.StaleEntities, entity.Name) {
			output := map[string]any{"entity": entity.Name, "skipped": true}
			return s.WithResult(stage, okResult(started, output)), false
		}

		var version int
		if tracked {
			v, err := deps.Registry.BeginVersion(ctx, entity.Name)
			if err != nil {
				return s.WithResult(stage, failedResult(started, err)), true
			}
			version = v
		}

		result, err := deps.Collab.TrainCore(ctx, stage)
		if err != nil {
			if tracked {
				if ferr := deps.Registry.FailVersion(ctx, entity.Name, version, err); ferr != nil {
					deps.Logger.Error("failed to mark %s v%d failed: %v", entity.Name, version, ferr)
				}
			}
			return s.WithResult(stage, failedResult(started, err)), true
		}

		output := map[string]any{}
		if tracked {
			if err := deps.Registry.CompleteVersion(ctx, entity.Name, version, result.Metrics, result.ArtifactLocation); err != nil {
				return s.WithResult(stage, failedResult(started, err)), true
			}
			output["entity"] = entity.Name
			output["version"] = version
		}
		return s.WithResult(stage, okResult(started, output)), false
	}
}

// forecastStage retrains feature forecasters on a bounded worker pool. When
// the run was seeded by a partial-train recommendation, only the stale
// subset is retrained; otherwise every non-core entity is.
func forecastStage(deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()

		targets := forecastTargets(deps.Entities, s.StaleEntities)
		if len(targets) == 0 {
			return s.WithResult(StageForecast, okResult(started, map[string]any{"trained": 0})), false
		}

		failures := trainPool(ctx, deps.MaxWorkers, targets, func(ctx context.Context, entity models.Entity) error {
			version, err := deps.Registry.BeginVersion(ctx, entity.Name)
			if err != nil {
				return err
			}
			result, err := deps.Collab.TrainEntity(ctx, entity, version)
			if err != nil {
				if ferr := deps.Registry.FailVersion(ctx, entity.Name, version, err); ferr != nil {
					deps.Logger.Error("failed to mark %s v%d failed: %v", entity.Name, version, ferr)
				}
				return err
			}
			return deps.Registry.CompleteVersion(ctx, entity.Name, version, result.Metrics, result.ArtifactLocation)
		})

		output := map[string]any{
			"trained": len(targets) - len(failures),
			"failed":  len(failures),
		}
		for name, err := range failures {
			deps.Logger.Error("training %s failed: %v", name, err)
		}

		// Individual forecaster failures are recoverable; the stage is only
		// fatal when nothing trained at all or the run was cancelled.
		if ctx.Err() != nil {
			return s.WithResult(StageForecast, failedResult(started, ctx.Err())), true
		}
		if len(failures) == len(targets) {
			err := fmt.Errorf("all %d forecaster trainings failed", len(targets))
			return s.WithResult(StageForecast, failedResult(started, err)), true
		}
		if len(failures) > 0 {
			result := okResult(started, output)
			result.Error = fmt.Sprintf("%d of %d trainings failed", len(failures), len(targets))
			return s.WithResult(StageForecast, result), false
		}
		return s.WithResult(StageForecast, okResult(started, output)), false
	}
}

// forecastTargets selects the non-core entities to retrain.
func forecastTargets(entities []models.Entity, stale []string) []models.Entity {
	var targets []models.Entity
	for _, entity := range entities {
		if entity.Core {
			continue
		}
		if excludedFromRun(stale, entity.Name) {
			continue
		}
		targets = append(targets, entity)
	}
	return targets
}

// excludedFromRun reports whether a non-empty stale set excludes the named
// entity. An empty set means the run retrains everything in scope.
func excludedFromRun(stale []string, name string) bool {
	if len(stale) == 0 {
		return false
	}
	for _, s := range stale {
		if s == name {
			return false
		}
	}
	return true
}

func predictStage(deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()
		result, err := deps.Collab.Predict(ctx)
		if err != nil {
			return s.WithResult(StagePredict, failedResult(started, err)), false
		}
		return s.WithResult(StagePredict, okResult(started, map[string]any{
			"forecast_id": result.ForecastID,
			"predictions": result.Predictions,
		})), false
	}
}

func compareStage(deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()
		result, err := deps.Collab.CompareForecasts(ctx)
		if err != nil {
			return s.WithResult(StageCompare, failedResult(started, err)), false
		}
		return s.WithResult(StageCompare, okResult(started, map[string]any{
			"shifts":          result.Shifts,
			"alert_triggered": result.AlertTriggered,
		})), false
	}
}

func validateStage(deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()
		result, err := deps.Collab.Validate(ctx)
		if errors.Is(err, ErrNoGroundTruth) {
			r := StageResult{Success: false, Error: err.Error(), Elapsed: time.Since(started)}
			return s.WithResult(StageValidate, r), false
		}
		if err != nil {
			return s.WithResult(StageValidate, failedResult(started, err)), false
		}
		return s.WithResult(StageValidate, okResult(started, map[string]any{
			"aggregate":    result.Aggregate,
			"sample_count": result.SampleCount,
		})), false
	}
}

// reviewStage feeds the validation aggregate to the feedback controller and
// records the retrain signal for the routing table.
func reviewStage(deps Deps) StageFunc {
	return func(ctx context.Context, s RunState) (RunState, bool) {
		started := time.Now()

		validation, ok := s.Result(StageValidate)
		if !ok || !validation.Success {
			result := okResult(started, map[string]any{"reason": "no validation metrics available"})
			return s.WithResult(StageReview, result), false
		}

		aggregate, _ := validation.Output["aggregate"].(float64)
		sampleCount, _ := validation.Output["sample_count"].(int)
		now := deps.Now()
		sample := feedback.Sample{RecordedAt: now, Aggregate: aggregate, SampleCount: sampleCount}

		var history []feedback.Sample
		if deps.History != nil {
			h, err := deps.History.Recent(ctx, now, deps.Lookback)
			if err != nil {
				// History loss degrades the decision to absolute-only.
				deps.Logger.Warn("failed to load performance history: %v", err)
			} else {
				history = h
			}
		}

		decision := deps.Feedback.Evaluate(sample, history)
		if deps.History != nil {
			if err := deps.History.Append(ctx, sample); err != nil {
				deps.Logger.Warn("failed to record performance sample: %v", err)
			}
		}

		s.RetrainRequested = decision.Retrain
		result := okResult(started, map[string]any{
			"retrain":   decision.Retrain,
			"reason":    decision.Reason,
			"aggregate": decision.Aggregate,
		})
		return s.WithResult(StageReview, result), false
	}
}

func okResult(started time.Time, output map[string]any) StageResult {
	return StageResult{Success: true, Elapsed: time.Since(started), Output: output}
}

func failedResult(started time.Time, err error) StageResult {
	return StageResult{Success: false, Error: err.Error(), Elapsed: time.Since(started)}
}
