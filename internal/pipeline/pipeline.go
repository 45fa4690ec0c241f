// Package pipeline sequences the stage capabilities for one job, carrying
// intermediate artifacts and producing a final result or a stage-attributed
// failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// Normalizer turns a job source into a playable, standardized audio artifact.
// Deep input validation happens here: an unreachable URL or undecodable file
// is this stage's failure, not the submitter's.
type Normalizer interface {
	Normalize(ctx context.Context, src job.Source, qualityTier string) (string, error)
}

// Transcriber produces the raw transcript text for a normalized audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Translator detects the transcript language and translates into the target
// language when they differ.
type Translator interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Summarizer produces the structured five-section report for a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (job.Summary, error)
}

// Capabilities bundles the four stage capabilities. Each is treated as a
// stateless external service; latency is seconds to minutes and calls block
// the worker until a result arrives.
type Capabilities struct {
	Normalizer  Normalizer
	Transcriber Transcriber
	Translator  Translator
	Summarizer  Summarizer
}

// StageFailure is a stage-attributed pipeline error. The wrapped error keeps
// its transient/permanent classification for the scheduler's retry decision.
type StageFailure struct {
	Stage job.Stage
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// FailingStage extracts the stage attribution from err, or StageNone.
func FailingStage(err error) job.Stage {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf.Stage
	}
	return job.StageNone
}
