package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"regimecast/scheduler/internal/logging"
	"regimecast/scheduler/pkg/models"
)

// Command keys accepted by ExecCollaborator.
const (
	cmdFetch       = "fetch"
	cmdTransform   = "transform"
	cmdSelect      = "select"
	cmdCluster     = "cluster"
	cmdClassify    = "classify"
	cmdTrainEntity = "train_entity"
	cmdPredict     = "predict"
	cmdCompare     = "compare"
	cmdValidate    = "validate"
)

// ExecCollaborator delegates each unit of work to an external command. The
// command's stdout may end with a single JSON object carrying the result
// payload; anything it prints before that is passed through untouched. A
// stage with no configured command is a no-op.
type ExecCollaborator struct {
	commands map[string]string
	logger   *logging.Logger
}

// NewExecCollaborator creates an ExecCollaborator from per-stage commands.
func NewExecCollaborator(commands map[string]string, logger *logging.Logger) *ExecCollaborator {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &ExecCollaborator{commands: commands, logger: logger}
}

// run executes the named command with extra environment and returns its
// trailing JSON payload, if any.
func (c *ExecCollaborator) run(ctx context.Context, key string, env map[string]string, payload any) error {
	command, ok := c.commands[key]
	if !ok || command == "" {
		c.logger.Debug("no %s command configured, skipping", key)
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s command failed: %w", key, err)
	}

	if payload != nil {
		if raw := lastJSONLine(stdout.Bytes()); raw != nil {
			if err := json.Unmarshal(raw, payload); err != nil {
				c.logger.Warn("%s command produced unparseable result payload: %v", key, err)
			}
		}
	}
	return nil
}

// lastJSONLine returns the last non-empty stdout line if it looks like a
// JSON object.
func lastJSONLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 {
			if line[0] == '{' {
				return line
			}
			return nil
		}
	}
	return nil
}

func (c *ExecCollaborator) FetchData(ctx context.Context) error {
	return c.run(ctx, cmdFetch, nil, nil)
}

func (c *ExecCollaborator) TransformFeatures(ctx context.Context) error {
	return c.run(ctx, cmdTransform, nil, nil)
}

func (c *ExecCollaborator) SelectFeatures(ctx context.Context) error {
	return c.run(ctx, cmdSelect, nil, nil)
}

type trainPayload struct {
	Metrics          map[string]float64 `json:"metrics"`
	ArtifactLocation string             `json:"artifact_location"`
}

func (c *ExecCollaborator) TrainCore(ctx context.Context, stage Stage) (TrainResult, error) {
	key := cmdCluster
	if stage == StageClassify {
		key = cmdClassify
	}
	var payload trainPayload
	if err := c.run(ctx, key, nil, &payload); err != nil {
		return TrainResult{}, err
	}
	return TrainResult{Metrics: payload.Metrics, ArtifactLocation: payload.ArtifactLocation}, nil
}

func (c *ExecCollaborator) TrainEntity(ctx context.Context, entity models.Entity, version int) (TrainResult, error) {
	env := map[string]string{
		"REGIMECAST_ENTITY":  entity.Name,
		"REGIMECAST_CADENCE": string(entity.Cadence),
		"REGIMECAST_VERSION": fmt.Sprintf("%d", version),
	}
	var payload trainPayload
	if err := c.run(ctx, cmdTrainEntity, env, &payload); err != nil {
		return TrainResult{}, err
	}
	return TrainResult{Metrics: payload.Metrics, ArtifactLocation: payload.ArtifactLocation}, nil
}

func (c *ExecCollaborator) Predict(ctx context.Context) (PredictResult, error) {
	var payload struct {
		ForecastID  string `json:"forecast_id"`
		Predictions int    `json:"predictions"`
	}
	if err := c.run(ctx, cmdPredict, nil, &payload); err != nil {
		return PredictResult{}, err
	}
	return PredictResult{ForecastID: payload.ForecastID, Predictions: payload.Predictions}, nil
}

func (c *ExecCollaborator) CompareForecasts(ctx context.Context) (CompareResult, error) {
	var payload struct {
		Shifts         int  `json:"shifts"`
		AlertTriggered bool `json:"alert_triggered"`
	}
	if err := c.run(ctx, cmdCompare, nil, &payload); err != nil {
		return CompareResult{}, err
	}
	return CompareResult{Shifts: payload.Shifts, AlertTriggered: payload.AlertTriggered}, nil
}

func (c *ExecCollaborator) Validate(ctx context.Context) (ValidationResult, error) {
	if command, ok := c.commands[cmdValidate]; !ok || command == "" {
		return ValidationResult{}, ErrNoGroundTruth
	}
	var payload struct {
		Aggregate   float64 `json:"aggregate"`
		SampleCount int     `json:"sample_count"`
	}
	if err := c.run(ctx, cmdValidate, nil, &payload); err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{Aggregate: payload.Aggregate, SampleCount: payload.SampleCount}, nil
}
