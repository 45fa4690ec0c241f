package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talktotext/talktotext-pro/internal/job"
)

type fakeNormalizer struct {
	calls int
	fn    func(src job.Source, qualityTier string) (string, error)
}

func (f *fakeNormalizer) Normalize(ctx context.Context, src job.Source, qualityTier string) (string, error) {
	f.calls++
	return f.fn(src, qualityTier)
}

type fakeTranscriber struct {
	calls int
	fn    func(audioPath string) (string, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	return f.fn(audioPath)
}

type fakeTranslator struct {
	detectCalls    int
	translateCalls int
	detectFn       func(text string) (string, error)
	translateFn    func(text, target string) (string, error)
}

func (f *fakeTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	f.detectCalls++
	return f.detectFn(text)
}

func (f *fakeTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	f.translateCalls++
	return f.translateFn(text, target)
}

type fakeSummarizer struct {
	calls int
	fn    func(transcript string) (job.Summary, error)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (job.Summary, error) {
	f.calls++
	return f.fn(transcript)
}

type progressRecord struct {
	stage job.Stage
	art   job.Artifacts
}

type fakeProgress struct {
	records []progressRecord
	err     error
}

func (f *fakeProgress) SaveProgress(ctx context.Context, id string, stage job.Stage, art *job.Artifacts) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, progressRecord{stage: stage, art: *art})
	return nil
}

func goodSummary() job.Summary {
	return job.Summary{
		Abstract:    "A short meeting about the roadmap.",
		KeyPoints:   []string{"roadmap agreed"},
		ActionItems: []string{},
		Decisions:   []string{},
		Sentiment:   "positive",
		FullReport:  "## Abstract Summary\n...",
	}
}

type fixture struct {
	normalizer  *fakeNormalizer
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	summarizer  *fakeSummarizer
	progress    *fakeProgress
	executor    *Executor
}

// happyFixture wires fakes for a run that succeeds end to end with the
// detected language matching the target.
func happyFixture() *fixture {
	f := &fixture{
		normalizer: &fakeNormalizer{fn: func(job.Source, string) (string, error) {
			return "/work/audio.mp3", nil
		}},
		transcriber: &fakeTranscriber{fn: func(string) (string, error) {
			return "um hello   everyone, welcome", nil
		}},
		translator: &fakeTranslator{
			detectFn:    func(string) (string, error) { return "en", nil },
			translateFn: func(string, string) (string, error) { return "translated text", nil },
		},
		summarizer: &fakeSummarizer{fn: func(string) (job.Summary, error) {
			return goodSummary(), nil
		}},
		progress: &fakeProgress{},
	}

	f.executor = NewExecutor(f.progress, Capabilities{
		Normalizer:  f.normalizer,
		Transcriber: f.transcriber,
		Translator:  f.translator,
		Summarizer:  f.summarizer,
	}, "en", slog.New(slog.NewTextHandler(io.Discard, nil)))

	return f
}

func testJob() *job.Job {
	return &job.Job{
		ID:    "job-1",
		Owner: "alice",
		Source: job.Source{
			Type:  job.SourceUpload,
			Value: "uploads/meeting.mp3",
		},
		Status: job.StatusProcessing,
	}
}

func TestExecutor_RunHappyPath(t *testing.T) {
	f := happyFixture()

	res, err := f.executor.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "um hello   everyone, welcome", res.Transcription.RawTranscript)
	assert.NotEmpty(t, res.Transcription.CleanedTranscript)
	assert.NotContains(t, res.Transcription.CleanedTranscript, "um ")

	// same language: no translation bundle, summary still produced
	assert.Nil(t, res.Translation)
	assert.Equal(t, goodSummary(), res.Summary)
	assert.Equal(t, 0, f.translator.translateCalls)
	assert.Equal(t, 1, f.translator.detectCalls)

	// every stage ran exactly once
	assert.Equal(t, 1, f.normalizer.calls)
	assert.Equal(t, 1, f.transcriber.calls)
	assert.Equal(t, 1, f.summarizer.calls)

	// artifacts committed before each following stage
	require.Len(t, f.progress.records, 3)
	assert.Equal(t, job.StageTranscribing, f.progress.records[0].stage)
	assert.Equal(t, "/work/audio.mp3", f.progress.records[0].art.AudioPath)
	assert.Equal(t, job.StageTranslating, f.progress.records[1].stage)
	assert.NotEmpty(t, f.progress.records[1].art.CleanedTranscript)
	assert.Equal(t, job.StageSummarizing, f.progress.records[2].stage)
	assert.NotEmpty(t, f.progress.records[2].art.FinalTranscript)
}

func TestExecutor_RunWithTranslation(t *testing.T) {
	f := happyFixture()
	f.translator.detectFn = func(string) (string, error) { return "es", nil }

	j := testJob()
	j.Options.TargetLanguage = "en"

	res, err := f.executor.Run(context.Background(), j)
	require.NoError(t, err)

	require.NotNil(t, res.Translation)
	assert.Equal(t, "es", res.Translation.DetectedLanguage)
	assert.Equal(t, "translated text", res.Translation.Text)
	assert.Equal(t, 1, f.translator.translateCalls)
}

func TestExecutor_TargetLanguageDefaults(t *testing.T) {
	for _, target := range []string{"", "auto", "AUTO"} {
		t.Run("target "+target, func(t *testing.T) {
			f := happyFixture()
			f.translator.detectFn = func(string) (string, error) { return "en", nil }

			j := testJob()
			j.Options.TargetLanguage = target

			res, err := f.executor.Run(context.Background(), j)
			require.NoError(t, err)

			// default target is en, detection says en, so no translation
			assert.Nil(t, res.Translation)
		})
	}
}

func TestExecutor_StageFailureAttribution(t *testing.T) {
	t.Run("transient failure keeps classification", func(t *testing.T) {
		f := happyFixture()
		f.transcriber.fn = func(string) (string, error) {
			return "", job.NewTransientError(fmt.Errorf("upstream 503"))
		}

		_, err := f.executor.Run(context.Background(), testJob())
		require.Error(t, err)
		assert.Equal(t, job.StageTranscribing, FailingStage(err))
		assert.True(t, job.IsTransient(err))
	})

	t.Run("permanent failure", func(t *testing.T) {
		f := happyFixture()
		f.normalizer.fn = func(job.Source, string) (string, error) {
			return "", job.NewPermanentError(fmt.Errorf("unsupported codec"))
		}

		_, err := f.executor.Run(context.Background(), testJob())
		require.Error(t, err)
		assert.Equal(t, job.StageNormalizing, FailingStage(err))
		assert.False(t, job.IsTransient(err))
	})

	t.Run("unclassified errors default to permanent", func(t *testing.T) {
		f := happyFixture()
		f.summarizer.fn = func(string) (job.Summary, error) {
			return job.Summary{}, fmt.Errorf("something odd")
		}

		_, err := f.executor.Run(context.Background(), testJob())
		require.Error(t, err)
		assert.Equal(t, job.StageSummarizing, FailingStage(err))
		assert.False(t, job.IsTransient(err))
	})
}

func TestExecutor_EmptyTranscriptIsPermanent(t *testing.T) {
	f := happyFixture()
	f.transcriber.fn = func(string) (string, error) {
		return "   \n ", nil
	}

	_, err := f.executor.Run(context.Background(), testJob())
	require.Error(t, err)
	assert.Equal(t, job.StageTranscribing, FailingStage(err))
	assert.False(t, job.IsTransient(err))
	assert.Contains(t, err.Error(), "no discernible speech")
}

func TestExecutor_PanicContainment(t *testing.T) {
	f := happyFixture()
	f.summarizer.fn = func(string) (job.Summary, error) {
		panic("index out of range in section parser")
	}

	res, err := f.executor.Run(context.Background(), testJob())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, job.StageSummarizing, FailingStage(err))
	assert.False(t, job.IsTransient(err))
	assert.Contains(t, err.Error(), "index out of range in section parser")
}

func TestExecutor_ResumeSkipsCompletedStages(t *testing.T) {
	t.Run("resume after normalizing", func(t *testing.T) {
		f := happyFixture()

		j := testJob()
		j.Artifacts = &job.Artifacts{AudioPath: "/work/audio.mp3"}

		_, err := f.executor.Run(context.Background(), j)
		require.NoError(t, err)

		// normalizer must not run again
		assert.Equal(t, 0, f.normalizer.calls)
		assert.Equal(t, 1, f.transcriber.calls)
	})

	t.Run("resume straight into summarizing", func(t *testing.T) {
		f := happyFixture()

		j := testJob()
		j.Artifacts = &job.Artifacts{
			AudioPath:         "/work/audio.mp3",
			RawTranscript:     "raw",
			CleanedTranscript: "clean",
			DetectedLanguage:  "en",
			FinalTranscript:   "clean",
		}

		res, err := f.executor.Run(context.Background(), j)
		require.NoError(t, err)
		require.NotNil(t, res)

		assert.Equal(t, 0, f.normalizer.calls)
		assert.Equal(t, 0, f.transcriber.calls)
		assert.Equal(t, 0, f.translator.detectCalls)
		assert.Equal(t, 1, f.summarizer.calls)
	})
}

func TestExecutor_ProgressConflictStopsRun(t *testing.T) {
	f := happyFixture()
	f.progress.err = job.ErrConflict

	_, err := f.executor.Run(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrConflict)
	// the pipeline stopped before later stages
	assert.Equal(t, 0, f.summarizer.calls)

	// the conflict surfaces bare, not dressed up as a stage failure
	var sf *StageFailure
	assert.False(t, errors.As(err, &sf))
}

func TestExecutor_ProgressFailureNamesCompletedStage(t *testing.T) {
	f := happyFixture()
	f.progress.err = fmt.Errorf("connection reset by peer")

	_, err := f.executor.Run(context.Background(), testJob())
	require.Error(t, err)

	// normalizing finished; its artifacts failed to commit, so the failure
	// belongs to normalizing, not to a stage that never ran
	assert.Equal(t, job.StageNormalizing, FailingStage(err))

	var sf *StageFailure
	require.ErrorAs(t, err, &sf)
	assert.EqualError(t, sf.Err, "connection reset by peer")
}

func TestValidateSummary(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*job.Summary)
		wantErr string
	}{
		{
			name:   "complete summary",
			mutate: func(s *job.Summary) {},
		},
		{
			name:   "empty lists are valid",
			mutate: func(s *job.Summary) { s.KeyPoints = []string{} },
		},
		{
			name:    "missing abstract",
			mutate:  func(s *job.Summary) { s.Abstract = "  " },
			wantErr: "abstract",
		},
		{
			name:    "missing key points",
			mutate:  func(s *job.Summary) { s.KeyPoints = nil },
			wantErr: "key points",
		},
		{
			name:    "missing action items",
			mutate:  func(s *job.Summary) { s.ActionItems = nil },
			wantErr: "action items",
		},
		{
			name:    "missing decisions",
			mutate:  func(s *job.Summary) { s.Decisions = nil },
			wantErr: "decisions",
		},
		{
			name:    "missing sentiment",
			mutate:  func(s *job.Summary) { s.Sentiment = "" },
			wantErr: "sentiment",
		},
		{
			name:    "missing full report",
			mutate:  func(s *job.Summary) { s.FullReport = "" },
			wantErr: "report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := goodSummary()
			tt.mutate(&s)

			err := ValidateSummary(&s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
