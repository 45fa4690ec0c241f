package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// ProgressStore is the slice of the job store the executor needs: committing
// artifacts before the next stage begins so a crash resumes deterministically
// from the last completed stage.
type ProgressStore interface {
	SaveProgress(ctx context.Context, id string, stage job.Stage, art *job.Artifacts) error
}

// Executor drives one job through Normalizing -> Transcribing ->
// (Translating) -> Summarizing. Transitions are strictly sequential; the
// Translating stage is skipped when the detected language equals the target.
type Executor struct {
	store  ProgressStore
	caps   Capabilities
	logger *slog.Logger

	// defaultTargetLanguage applies when the submission asked for "auto".
	defaultTargetLanguage string
}

// NewExecutor creates an Executor.
func NewExecutor(store ProgressStore, caps Capabilities, defaultTargetLanguage string, logger *slog.Logger) *Executor {
	if defaultTargetLanguage == "" {
		defaultTargetLanguage = "en"
	}
	return &Executor{
		store:                 store,
		caps:                  caps,
		logger:                logger,
		defaultTargetLanguage: defaultTargetLanguage,
	}
}

// Run executes the pipeline for j, resuming from whatever j.Artifacts already
// records. On success the assembled result is returned; the caller owns the
// terminal status transition. On failure the returned error is a
// *StageFailure carrying the transient/permanent classification.
func (e *Executor) Run(ctx context.Context, j *job.Job) (*job.Result, error) {
	art := &job.Artifacts{}
	if j.Artifacts != nil {
		cp := *j.Artifacts
		art = &cp
	}

	stage := resumeStage(art)
	if stage != job.StageNormalizing {
		e.logger.Info("Resuming pipeline from persisted artifacts",
			slog.String("job_id", j.ID),
			slog.String("stage", string(stage)),
		)
	}

	for stage != job.StageDone {
		switch stage {
		case job.StageNormalizing:
			if err := e.normalize(ctx, j, art); err != nil {
				return nil, err
			}

		case job.StageTranscribing:
			if err := e.transcribe(ctx, j, art); err != nil {
				return nil, err
			}

		case job.StageTranslating:
			if err := e.translate(ctx, j, art); err != nil {
				return nil, err
			}

		case job.StageSummarizing:
			summary, err := e.summarize(ctx, j, art)
			if err != nil {
				return nil, err
			}
			return assembleResult(art, summary), nil
		}

		next := job.NextStage(stage)
		if next == job.StageDone {
			break
		}

		// Commit progress before the next stage begins. A conflict here means
		// another writer won a status race; stop, the winner is authoritative.
		// Any other commit failure is attributed to the stage whose artifacts
		// could not be persisted, not to a stage that never ran.
		if err := e.store.SaveProgress(ctx, j.ID, next, art); err != nil {
			if errors.Is(err, job.ErrConflict) {
				return nil, err
			}
			return nil, &StageFailure{Stage: stage, Err: err}
		}
		stage = next
	}

	return nil, &StageFailure{
		Stage: job.StageSummarizing,
		Err:   job.NewPermanentError(fmt.Errorf("pipeline ended without a summary")),
	}
}

// resumeStage derives the first stage with unfinished work from the
// artifacts committed so far, short-circuiting completed stages.
func resumeStage(art *job.Artifacts) job.Stage {
	switch {
	case art.FinalTranscript != "":
		return job.StageSummarizing
	case art.CleanedTranscript != "":
		return job.StageTranslating
	case art.AudioPath != "":
		return job.StageTranscribing
	default:
		return job.StageNormalizing
	}
}

func (e *Executor) normalize(ctx context.Context, j *job.Job, art *job.Artifacts) error {
	audioPath, err := e.invoke(j, job.StageNormalizing, func() (string, error) {
		return e.caps.Normalizer.Normalize(ctx, j.Source, j.Options.QualityTier)
	})
	if err != nil {
		return err
	}

	if audioPath == "" {
		return &StageFailure{
			Stage: job.StageNormalizing,
			Err:   job.NewPermanentError(fmt.Errorf("normalizer produced no audio artifact")),
		}
	}

	art.AudioPath = audioPath
	return nil
}

func (e *Executor) transcribe(ctx context.Context, j *job.Job, art *job.Artifacts) error {
	raw, err := e.invoke(j, job.StageTranscribing, func() (string, error) {
		return e.caps.Transcriber.Transcribe(ctx, art.AudioPath)
	})
	if err != nil {
		return err
	}

	cleaned := CleanTranscript(raw)
	if strings.TrimSpace(cleaned) == "" {
		return &StageFailure{
			Stage: job.StageTranscribing,
			Err:   job.NewPermanentError(fmt.Errorf("audio contains no discernible speech")),
		}
	}

	art.RawTranscript = raw
	art.CleanedTranscript = cleaned
	return nil
}

func (e *Executor) translate(ctx context.Context, j *job.Job, art *job.Artifacts) error {
	target := e.targetLanguage(j)

	detected, err := e.invoke(j, job.StageTranslating, func() (string, error) {
		return e.caps.Translator.DetectLanguage(ctx, art.CleanedTranscript)
	})
	if err != nil {
		return err
	}
	art.DetectedLanguage = detected

	if strings.EqualFold(detected, target) {
		// Conditional transition: same language, nothing to translate.
		art.FinalTranscript = art.CleanedTranscript
		art.Translated = false
		e.logger.Info("Translation skipped - source matches target language",
			slog.String("job_id", j.ID),
			slog.String("language", detected),
		)
		return nil
	}

	translated, err := e.invoke(j, job.StageTranslating, func() (string, error) {
		return e.caps.Translator.Translate(ctx, art.CleanedTranscript, target)
	})
	if err != nil {
		return err
	}

	art.FinalTranscript = translated
	art.Translated = true
	return nil
}

func (e *Executor) summarize(ctx context.Context, j *job.Job, art *job.Artifacts) (*job.Summary, error) {
	var summary job.Summary
	_, err := e.invoke(j, job.StageSummarizing, func() (string, error) {
		var stageErr error
		summary, stageErr = e.caps.Summarizer.Summarize(ctx, art.FinalTranscript)
		return "", stageErr
	})
	if err != nil {
		return nil, err
	}

	if err := ValidateSummary(&summary); err != nil {
		return nil, &StageFailure{
			Stage: job.StageSummarizing,
			Err:   job.NewPermanentError(err),
		}
	}

	return &summary, nil
}

func (e *Executor) targetLanguage(j *job.Job) string {
	target := strings.ToLower(strings.TrimSpace(j.Options.TargetLanguage))
	if target == "" || target == "auto" {
		return e.defaultTargetLanguage
	}
	return target
}

// invoke runs one capability call with timing, logging, and panic
// containment. An uncaught panic inside a stage surfaces as a permanent
// failure with the raw message preserved for diagnostics.
func (e *Executor) invoke(j *job.Job, stage job.Stage, fn func() (string, error)) (out string, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &StageFailure{
				Stage: stage,
				Err:   job.NewPermanentError(fmt.Errorf("stage panicked: %v", r)),
			}
		}

		outcome := job.StageOutcome{
			Stage:      stage,
			Success:    err == nil,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			outcome.ErrDetail = err.Error()
		}
		e.logOutcome(j.ID, outcome)
	}()

	out, err = fn()
	if err != nil {
		var sf *StageFailure
		if !errors.As(err, &sf) {
			err = &StageFailure{Stage: stage, Err: err}
		}
	}
	return out, err
}

func (e *Executor) logOutcome(jobID string, o job.StageOutcome) {
	if o.Success {
		e.logger.Info("Stage completed",
			slog.String("job_id", jobID),
			slog.String("stage", string(o.Stage)),
			slog.Int64("duration_ms", o.DurationMs),
		)
		return
	}

	e.logger.Error("Stage failed",
		slog.String("job_id", jobID),
		slog.String("stage", string(o.Stage)),
		slog.Int64("duration_ms", o.DurationMs),
		slog.String("error", o.ErrDetail),
	)
}

// assembleResult builds the final bundle from the committed artifacts.
func assembleResult(art *job.Artifacts, summary *job.Summary) *job.Result {
	res := &job.Result{
		Transcription: job.Transcription{
			RawTranscript:     art.RawTranscript,
			CleanedTranscript: art.CleanedTranscript,
		},
		Summary: *summary,
	}

	if art.Translated {
		res.Translation = &job.Translation{
			DetectedLanguage: art.DetectedLanguage,
			Text:             art.FinalTranscript,
		}
	}

	return res
}

// ValidateSummary enforces the strict output contract of the summarizing
// stage: all five fields populated, empty-but-present lists allowed, a
// missing field treated as a stage failure.
func ValidateSummary(s *job.Summary) error {
	if strings.TrimSpace(s.Abstract) == "" {
		return fmt.Errorf("summary is missing the abstract section")
	}
	if s.KeyPoints == nil {
		return fmt.Errorf("summary is missing the key points section")
	}
	if s.ActionItems == nil {
		return fmt.Errorf("summary is missing the action items section")
	}
	if s.Decisions == nil {
		return fmt.Errorf("summary is missing the decisions section")
	}
	if strings.TrimSpace(s.Sentiment) == "" {
		return fmt.Errorf("summary is missing the sentiment section")
	}
	if strings.TrimSpace(s.FullReport) == "" {
		return fmt.Errorf("summary is missing the rendered report")
	}
	return nil
}
