package job

import "time"

// SourceType distinguishes uploaded blobs from remote URLs.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// Source identifies the media to process. Immutable once set on a job.
type Source struct {
	Type  SourceType `json:"type"`
	Value string     `json:"value"`
}

// Options are the submission-time processing options.
type Options struct {
	TargetLanguage string `json:"target_language"`
	QualityTier    string `json:"quality_tier"`
}

// Job is one end-to-end request to process a single media source.
// A job is created once, mutated only by the worker executing it, and
// removed only by explicit user-initiated deletion.
type Job struct {
	ID           string      `json:"job_id" db:"job_id"`
	Owner        string      `json:"owner" db:"owner"`
	Source       Source      `json:"source"`
	Options      Options     `json:"options"`
	Status       Status      `json:"status" db:"status"`
	CurrentStage Stage       `json:"current_stage,omitempty" db:"current_stage"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	Artifacts    *Artifacts  `json:"artifacts,omitempty"`
	Result       *Result     `json:"result,omitempty"`
	Error        *StageError `json:"error,omitempty"`
}

// Name derives a display name for the history view from the source value.
func (j *Job) Name() string {
	v := j.Source.Value
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == '/' || v[i] == '\\' {
			return v[i+1:]
		}
	}
	return v
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Artifacts holds intermediate stage outputs persisted after each stage so a
// crashed or retried pipeline resumes from the last completed stage instead
// of recomputing finished work.
type Artifacts struct {
	AudioPath         string `json:"audio_path,omitempty"`
	RawTranscript     string `json:"raw_transcript,omitempty"`
	CleanedTranscript string `json:"cleaned_transcript,omitempty"`
	DetectedLanguage  string `json:"detected_language,omitempty"`
	FinalTranscript   string `json:"final_transcript,omitempty"`
	Translated        bool   `json:"translated,omitempty"`
}

// Result is the output artifact bundle of a completed job.
type Result struct {
	Transcription Transcription `json:"transcription"`
	Translation   *Translation  `json:"translation,omitempty"`
	Summary       Summary       `json:"summary"`
}

// Transcription carries the pre- and post-cleaning transcript text.
type Transcription struct {
	RawTranscript     string `json:"raw_transcript"`
	CleanedTranscript string `json:"cleaned_transcript"`
}

// Translation is present only when the detected source language differs
// from the target language.
type Translation struct {
	DetectedLanguage string `json:"detected_language"`
	Text             string `json:"text"`
}

// Summary is the structured report. FullReport is rendered once when the
// summarizing stage completes and stored verbatim, never regenerated per
// read. All fields must be populated on a completed job; an empty KeyPoints
// list is valid, a missing one is not.
type Summary struct {
	Abstract    string   `json:"abstract"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Decisions   []string `json:"decisions"`
	Sentiment   string   `json:"sentiment"`
	FullReport  string   `json:"full_report"`
}

// StageOutcome records one stage invocation for logging and failure
// attribution. It is never persisted standalone.
type StageOutcome struct {
	Stage      Stage
	Success    bool
	ErrDetail  string
	DurationMs int64
}
