package core

// Stage identifies the pipeline phase a conversion job is in.
type Stage string

// Pipeline stages. Transitions are one-directional; Cancelled and Failed are
// reachable from any non-terminal stage.
const (
	StageIdle         Stage = "idle"
	StageParsing      Stage = "parsing"
	StageCleaning     Stage = "cleaning"
	StageSynthesizing Stage = "synthesizing"
	StageEncoding     Stage = "encoding"
	StagePackaging    Stage = "packaging"
	StageComplete     Stage = "complete"
	StageCancelled    Stage = "cancelled"
	StageFailed       Stage = "failed"
)

// Terminal reports whether the stage ends the job.
func (s Stage) Terminal() bool {
	switch s {
	case StageComplete, StageCancelled, StageFailed:
		return true
	default:
		return false
	}
}

// ValidTransition enforces the allowed stage machine edges. Cleaning may be
// skipped entirely when the job has cleaning disabled.
func ValidTransition(from, to Stage) bool {
	if to == StageCancelled || to == StageFailed {
		return !from.Terminal()
	}

	switch from {
	case StageIdle:
		return to == StageParsing
	case StageParsing:
		return to == StageCleaning || to == StageSynthesizing
	case StageCleaning:
		return to == StageSynthesizing
	case StageSynthesizing:
		return to == StageEncoding
	case StageEncoding:
		return to == StagePackaging
	case StagePackaging:
		return to == StageComplete
	default:
		return false
	}
}
