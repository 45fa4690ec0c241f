package job

// Status is the job lifecycle state. Transitions are monotonic:
// queued -> processing -> (completed | failed). No regression.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidTransition enforces the allowed status edges.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Stage is one discrete transformation in the pipeline.
type Stage string

const (
	StageNone         Stage = ""
	StageNormalizing  Stage = "normalizing"
	StageTranscribing Stage = "transcribing"
	StageTranslating  Stage = "translating"
	StageSummarizing  Stage = "summarizing"
	StageDone         Stage = "done"
)

// NextStage returns the stage that follows s in the sequential pipeline.
// Whether Translating is actually entered is a conditional decision made by
// the executor; the order itself is fixed.
func NextStage(s Stage) Stage {
	switch s {
	case StageNone:
		return StageNormalizing
	case StageNormalizing:
		return StageTranscribing
	case StageTranscribing:
		return StageTranslating
	case StageTranslating:
		return StageSummarizing
	case StageSummarizing:
		return StageDone
	default:
		return StageDone
	}
}
