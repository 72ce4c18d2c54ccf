package pipeline

import (
	"context"
	"errors"

	"regimecast/scheduler/pkg/models"
)

// ErrNoGroundTruth signals that the validation stage has nothing to compare
// against yet. It is a recoverable condition, not a run failure.
var ErrNoGroundTruth = errors.New("no ground truth available yet")

// TrainResult is what a training collaborator reports on success.
type TrainResult struct {
	Metrics          map[string]float64
	ArtifactLocation string
}

// PredictResult is what the inference collaborator reports.
type PredictResult struct {
	ForecastID  string
	Predictions int
}

// CompareResult is the outcome of comparing consecutive forecasts.
type CompareResult struct {
	Shifts         int
	AlertTriggered bool
}

// ValidationResult is the aggregate of prediction-vs-actual comparisons.
type ValidationResult struct {
	Aggregate   float64
	SampleCount int
}

// Collaborator is the external worker a stage body delegates to. Each method
// is an opaque unit of work with a success/failure outcome; the scheduler
// never inspects what happens inside.
type Collaborator interface {
	// FetchData pulls the latest raw data from upstream providers.
	FetchData(ctx context.Context) error
	// TransformFeatures runs feature engineering over the fetched data.
	TransformFeatures(ctx context.Context) error
	// SelectFeatures runs feature selection.
	SelectFeatures(ctx context.Context) error
	// TrainCore trains the core model owned by the given stage (cluster or
	// classify).
	TrainCore(ctx context.Context, stage Stage) (TrainResult, error)
	// TrainEntity trains one feature forecaster as the given version.
	TrainEntity(ctx context.Context, entity models.Entity, version int) (TrainResult, error)
	// Predict generates fresh forecasts from the active models.
	Predict(ctx context.Context) (PredictResult, error)
	// CompareForecasts diffs the new forecast against the previous one.
	CompareForecasts(ctx context.Context) (CompareResult, error)
	// Validate compares realized values against past predictions. Returns
	// ErrNoGroundTruth when actuals are not observable yet.
	Validate(ctx context.Context) (ValidationResult, error)
}

// NoopCollaborator succeeds at everything without doing anything. Used for
// dry runs and as the fallback when no collaborator command is configured.
type NoopCollaborator struct{}

func (NoopCollaborator) FetchData(context.Context) error         { return nil }
func (NoopCollaborator) TransformFeatures(context.Context) error { return nil }
func (NoopCollaborator) SelectFeatures(context.Context) error    { return nil }

func (NoopCollaborator) TrainCore(context.Context, Stage) (TrainResult, error) {
	return TrainResult{}, nil
}

func (NoopCollaborator) TrainEntity(context.Context, models.Entity, int) (TrainResult, error) {
	return TrainResult{}, nil
}

func (NoopCollaborator) Predict(context.Context) (PredictResult, error) {
	return PredictResult{}, nil
}

func (NoopCollaborator) CompareForecasts(context.Context) (CompareResult, error) {
	return CompareResult{}, nil
}

func (NoopCollaborator) Validate(context.Context) (ValidationResult, error) {
	return ValidationResult{}, ErrNoGroundTruth
}
