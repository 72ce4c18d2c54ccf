package pipeline

// Next returns the edge taken after current completes. The routing rule is
// one explicit table so the full state space is enumerable and testable,
// instead of branching scattered across stage bodies.
//
// A fatal run takes the terminal edge from anywhere. ModeAuto never reaches
// this table; the executor resolves it to a concrete mode at start.
func Next(current Stage, s RunState) Stage {
	if s.Fatal {
		return StageEnd
	}

	switch current {
	case StageStart:
		if s.Mode == ModeInference {
			return StagePredict
		}
		return StageFetch

	case StageFetch:
		return StageTransform
	case StageTransform:
		return StageSelect
	case StageSelect:
		return StageCluster
	case StageCluster:
		return StageClassify
	case StageClassify:
		return StageForecast

	case StageForecast:
		if s.Mode == ModeFull {
			return StagePredict
		}
		return StageEnd

	case StagePredict:
		return StageCompare
	case StageCompare:
		return StageValidate
	case StageValidate:
		return StageReview

	case StageReview:
		// Feedback loop: at most once per run.
		if s.RetrainRequested && s.Mode == ModeFull && !s.Retrained {
			return StageFetch
		}
		return StageEnd
	}

	return StageEnd
}
