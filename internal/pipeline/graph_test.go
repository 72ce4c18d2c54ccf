package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextTrainingChain(t *testing.T) {
	s := RunState{Mode: ModeTraining}

	order := []Stage{StageStart, StageFetch, StageTransform, StageSelect, StageCluster, StageClassify, StageForecast}
	for i := 0; i < len(order)-1; i++ {
		assert.Equal(t, order[i+1], Next(order[i], s), "after %s", order[i])
	}
	assert.Equal(t, StageEnd, Next(StageForecast, s))
}

func TestNextInferenceChain(t *testing.T) {
	s := RunState{Mode: ModeInference}

	assert.Equal(t, StagePredict, Next(StageStart, s))
	assert.Equal(t, StageCompare, Next(StagePredict, s))
	assert.Equal(t, StageValidate, Next(StageCompare, s))
	assert.Equal(t, StageReview, Next(StageValidate, s))
	assert.Equal(t, StageEnd, Next(StageReview, s))
}

func TestNextFullModeBridgesChains(t *testing.T) {
	s := RunState{Mode: ModeFull}
	assert.Equal(t, StageFetch, Next(StageStart, s))
	assert.Equal(t, StagePredict, Next(StageForecast, s))
}

func TestNextFatalTerminatesFromAnywhere(t *testing.T) {
	s := RunState{Mode: ModeFull, Fatal: true}
	for _, stage := range append(TrainingStages(), InferenceStages()...) {
		assert.Equal(t, StageEnd, Next(stage, s), "from %s", stage)
	}
}

func TestNextFeedbackLoop(t *testing.T) {
	tests := []struct {
		name string
		s    RunState
		want Stage
	}{
		{"full mode retrain loops back", RunState{Mode: ModeFull, RetrainRequested: true}, StageFetch},
		{"already retrained ends", RunState{Mode: ModeFull, RetrainRequested: true, Retrained: true}, StageEnd},
		{"inference mode never loops", RunState{Mode: ModeInference, RetrainRequested: true}, StageEnd},
		{"no retrain requested ends", RunState{Mode: ModeFull}, StageEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(StageReview, tt.s))
		})
	}
}
