package pipeline

import (
	"context"
	"fmt"
	"time"

	"regimecast/scheduler/internal/logging"
	"regimecast/scheduler/pkg/models"
)

// StageFunc is the stage-body contract: it receives the current run state
// and returns the updated state plus whether the failure (if any) is fatal.
type StageFunc func(ctx context.Context, s RunState) (RunState, bool)

// Recommender resolves auto-mode runs into a concrete workflow.
type Recommender interface {
	Recommend(ctx context.Context, now time.Time) (models.Recommendation, error)
}

// Observer receives execution telemetry. Implemented by the metrics
// collector; a nil Observer disables it.
type Observer interface {
	RunStarted(mode string)
	RunFinished(mode string, fatal bool)
	StageObserved(stage string, elapsed time.Duration, success bool)
}

// RunError is the run-level failure surfaced when a fatal stage aborts the
// pipeline. It carries the full progress so a partial run is never opaque.
type RunError struct {
	Stage     Stage
	Message   string
	Completed []Stage
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline aborted at stage %s: %s (completed: %v)", e.Stage, e.Message, e.Completed)
}

// Executor walks the stage graph for one run at a time. Stage bodies are
// synchronous: the executor blocks on each until it reports a terminal
// outcome.
type Executor struct {
	stages      map[Stage]StageFunc
	recommender Recommender
	logger      *logging.Logger
	observer    Observer
	now         func() time.Time
}

// NewExecutor creates an Executor over the given stage bodies.
func NewExecutor(stages map[Stage]StageFunc, recommender Recommender, logger *logging.Logger) *Executor {
	return &Executor{
		stages:      stages,
		recommender: recommender,
		logger:      logger,
		now:         time.Now,
	}
}

// WithObserver attaches execution telemetry.
func (e *Executor) WithObserver(observer Observer) *Executor {
	e.observer = observer
	return e
}

// WithClock overrides the executor clock. Test hook.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Run executes one pipeline invocation. Every stage is attempted at most
// once per pass; the completed-stages list is append-only so callers can see
// exactly how far the run progressed even when it terminates early.
func (e *Executor) Run(ctx context.Context, mode Mode) (RunState, error) {
	s := NewRunState(mode, e.now())
	e.logger.Info("pipeline run %s starting (mode=%s)", s.RunID, mode)
	if e.observer != nil {
		e.observer.RunStarted(string(mode))
	}

	if mode == ModeAuto {
		resolved, err := e.resolveAuto(ctx, &s)
		if err != nil {
			// Keep the observer balanced: a run that never resolved still
			// started and must be finished.
			if e.observer != nil {
				e.observer.RunFinished(string(s.Mode), true)
			}
			return s, err
		}
		s.Mode = resolved
	}

	current := StageStart
	for {
		next := Next(current, s)
		if next == StageEnd {
			break
		}
		if current == StageReview && next == StageFetch {
			e.logger.Info("run %s: feedback controller requested retrain, looping back to %s", s.RunID, StageFetch)
			s.Retrained = true
		}

		// Abort between stages, never mid-stage: stage bodies are opaque.
		if err := ctx.Err(); err != nil {
			s.Fatal = true
			s.FatalStage = next
			s = s.WithResult(next, StageResult{Success: false, Error: "run aborted: " + err.Error()})
			break
		}

		s = e.runStage(ctx, next, s)
		current = next
	}

	if e.observer != nil {
		e.observer.RunFinished(string(s.Mode), s.Fatal)
	}
	if s.Fatal {
		result, _ := s.Result(s.FatalStage)
		e.logger.Error("pipeline run %s aborted at %s: %s", s.RunID, s.FatalStage, result.Error)
		return s, &RunError{Stage: s.FatalStage, Message: result.Error, Completed: s.CompletedStages}
	}
	e.logger.Info("pipeline run %s finished (%d stages)", s.RunID, len(s.CompletedStages))
	return s, nil
}

func (e *Executor) runStage(ctx context.Context, stage Stage, s RunState) RunState {
	fn, ok := e.stages[stage]
	if !ok {
		s.Fatal = true
		s.FatalStage = stage
		return s.WithResult(stage, StageResult{Success: false, Error: "no stage body registered"})
	}

	started := e.now()
	s, fatal := fn(ctx, s)
	elapsed := e.now().Sub(started)

	// A body that forgot to record its own result still gets one.
	result, recorded := s.Result(stage)
	if !recorded {
		result = StageResult{Success: !fatal, Elapsed: elapsed}
		s = s.WithResult(stage, result)
	}

	s = s.withCompleted(stage)
	if fatal {
		s.Fatal = true
		s.FatalStage = stage
	}
	if e.observer != nil {
		e.observer.StageObserved(string(stage), elapsed, result.Success)
	}
	e.logger.Info("run %s: stage %s done (success=%t, %.2fs)", s.RunID, stage, result.Success, elapsed.Seconds())
	return s
}

// resolveAuto asks the recommendation engine which workflow to run and
// records the stale set into the run state.
func (e *Executor) resolveAuto(ctx context.Context, s *RunState) (Mode, error) {
	if e.recommender == nil {
		return "", fmt.Errorf("auto mode requires a recommender")
	}
	rec, err := e.recommender.Recommend(ctx, e.now())
	if err != nil {
		return "", fmt.Errorf("auto mode recommendation failed: %w", err)
	}
	s.Recommendation = &rec
	s.StaleEntities = rec.StaleEntities
	e.logger.Info("run %s: recommendation %s (%s)", s.RunID, rec.Decision, rec.Reason)

	switch rec.Decision {
	case models.DecisionInference:
		return ModeInference, nil
	case models.DecisionPartialTrain:
		return ModeTraining, nil
	case models.DecisionFullTrain:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown recommendation decision %q", rec.Decision)
}
