// Package pipeline implements the stage graph and executor that sequence the
// training and inference workflows.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"regimecast/scheduler/pkg/models"
)

// Stage names one node in the pipeline graph.
type Stage string

const (
	StageStart Stage = "start"

	// Training sub-chain.
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageSelect    Stage = "select"
	StageCluster   Stage = "cluster"
	StageClassify  Stage = "classify"
	StageForecast  Stage = "forecast"

	// Inference sub-chain.
	StagePredict  Stage = "predict"
	StageCompare  Stage = "compare"
	StageValidate Stage = "validate"
	StageReview   Stage = "review"

	StageEnd Stage = "end"
)

// TrainingStages returns the training sub-chain in execution order.
func TrainingStages() []Stage {
	return []Stage{StageFetch, StageTransform, StageSelect, StageCluster, StageClassify, StageForecast}
}

// InferenceStages returns the inference sub-chain in execution order.
func InferenceStages() []Stage {
	return []Stage{StagePredict, StageCompare, StageValidate, StageReview}
}

// Mode selects which sub-chains a run visits.
type Mode string

const (
	ModeTraining  Mode = "training"
	ModeInference Mode = "inference"
	ModeFull      Mode = "full"
	// ModeAuto asks the recommendation engine to pick one of the other
	// modes at the start of the run.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTraining, ModeInference, ModeFull, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown workflow mode %q", s)
}

// StageResult records one stage's outcome.
type StageResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Elapsed time.Duration  `json:"elapsed"`
	Output  map[string]any `json:"output,omitempty"`
}

// RunState is the context threaded through one pipeline execution. Stages
// receive it by value and return an updated copy, so concurrency inside a
// stage body never aliases run state. It is created at the start of one
// invocation and never shared across runs.
type RunState struct {
	RunID           string                `json:"run_id"`
	Mode            Mode                  `json:"workflow_mode"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedStages []Stage               `json:"completed_stages"`
	StageStatus     map[Stage]StageResult `json:"per_stage_status"`
	StaleEntities   []string              `json:"stale_entities,omitempty"`
	Fatal           bool                  `json:"fatal"`
	FatalStage      Stage                 `json:"fatal_stage,omitempty"`

	// RetrainRequested is set by the review stage when the feedback
	// controller asks for a retrain; Retrained marks that the run has
	// already looped back once, so it never loops again.
	RetrainRequested bool `json:"retrain_requested"`
	Retrained        bool `json:"retrained"`

	// Recommendation holds the decision that seeded an auto-mode run.
	Recommendation *models.Recommendation `json:"recommendation,omitempty"`
}

// NewRunState creates the initial state for one pipeline invocation.
func NewRunState(mode Mode, now time.Time) RunState {
	return RunState{
		RunID:       uuid.New().String(),
		Mode:        mode,
		StartedAt:   now,
		StageStatus: make(map[Stage]StageResult),
	}
}

// WithResult returns a copy of the state carrying the stage's result.
func (s RunState) WithResult(stage Stage, result StageResult) RunState {
	status := make(map[Stage]StageResult, len(s.StageStatus)+1)
	for k, v := range s.StageStatus {
		status[k] = v
	}
	status[stage] = result
	s.StageStatus = status
	return s
}

// Result returns the recorded result for a stage, if any.
func (s RunState) Result(stage Stage) (StageResult, bool) {
	result, ok := s.StageStatus[stage]
	return result, ok
}

// withCompleted returns a copy with the stage appended to the append-only
// completed list.
func (s RunState) withCompleted(stage Stage) RunState {
	completed := make([]Stage, len(s.CompletedStages), len(s.CompletedStages)+1)
	copy(completed, s.CompletedStages)
	s.CompletedStages = append(completed, stage)
	return s
}
