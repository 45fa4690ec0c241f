package capability

import (
	"context"
	"log/slog"
	"strings"
)

// Transcription uploads above this size are split into segments first.
const maxTranscribeChunkBytes = 25 << 20

// WhisperTranscriber implements pipeline.Transcriber against the OpenAI
// transcription endpoint, splitting oversized audio into segments and merging
// the per-segment transcripts in order.
type WhisperTranscriber struct {
	client   *OpenAIClient
	splitter *FFmpegNormalizer
	logger   *slog.Logger
}

// NewWhisperTranscriber creates a WhisperTranscriber. The normalizer is
// reused for size-based segmentation since it owns the ffmpeg invocation.
func NewWhisperTranscriber(client *OpenAIClient, splitter *FFmpegNormalizer, logger *slog.Logger) *WhisperTranscriber {
	return &WhisperTranscriber{
		client:   client,
		splitter: splitter,
		logger:   logger,
	}
}

// Transcribe produces the raw transcript for the normalized audio artifact.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	chunks, err := t.splitter.SplitBySize(ctx, audioPath, maxTranscribeChunkBytes)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		t.logger.Info("Transcribing audio chunk",
			slog.Int("chunk", i+1),
			slog.Int("total", len(chunks)),
		)

		text, err := t.client.TranscribeFile(ctx, chunk)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}

	return strings.Join(parts, "\n"), nil
}
