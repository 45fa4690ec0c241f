package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/talktotext/talktotext-pro/internal/blob"
	"github.com/talktotext/talktotext-pro/internal/job"
)

// Bitrate presets balancing file size against transcription clarity.
var defaultQualityPresets = map[string]string{
	"low":    "64k",
	"medium": "128k",
	"high":   "192k",
}

const (
	audioChannels   = 1
	audioSampleRate = 16000
)

// Standardization boosts speech frequencies; cleaning strips long silences
// and gates background noise.
var (
	defaultEnhanceFilters = []string{"loudnorm", "highpass=f=200", "lowpass=f=3000"}
	defaultCleanFilters = []string{
		"silenceremove=stop_periods=-1:stop_duration=2.0:stop_threshold=-30dB",
		"agate=threshold=0.08:ratio=4:attack=20:release=250",
	}
)

// NormalizerConfig configures the ffmpeg-backed audio normalizer.
type NormalizerConfig struct {
	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string
	WorkDir     string
}

// FFmpegNormalizer implements pipeline.Normalizer: it resolves the job source
// (blob or URL download), converts to standardized mono 16kHz mp3, and
// applies cleaning filters. The output must be a playable artifact; an empty
// or undecodable result is a permanent stage failure.
type FFmpegNormalizer struct {
	cfg    NormalizerConfig
	blobs  blob.Store
	runner commandRunner
	logger *slog.Logger
}

// NewFFmpegNormalizer creates a normalizer shelling out to ffmpeg and yt-dlp.
func NewFFmpegNormalizer(cfg NormalizerConfig, blobs blob.Store, logger *slog.Logger) *FFmpegNormalizer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &FFmpegNormalizer{
		cfg:    cfg,
		blobs:  blobs,
		runner: &execRunner{},
		logger: logger,
	}
}

// Normalize produces the standardized, cleaned audio artifact for src.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, src job.Source, qualityTier string) (string, error) {
	bitrate, ok := defaultQualityPresets[strings.ToLower(qualityTier)]
	if !ok {
		bitrate = defaultQualityPresets["medium"]
	}

	workDir := filepath.Join(n.cfg.WorkDir, "normalize-"+uuid.New().String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", job.NewTransientError(fmt.Errorf("failed to create work directory: %w", err))
	}

	inputPath, err := n.resolveInput(ctx, src, workDir)
	if err != nil {
		return "", err
	}

	standardized := filepath.Join(workDir, "standardized.mp3")
	args := []string{
		"-y", "-i", inputPath,
		"-vn", "-acodec", "libmp3lame",
		"-ac", strconv.Itoa(audioChannels),
		"-ar", strconv.Itoa(audioSampleRate),
		"-b:a", bitrate,
		"-af", strings.Join(defaultEnhanceFilters, ","),
		standardized,
	}
	if err := n.runFFmpeg(ctx, "audio standardization failed", args...); err != nil {
		return "", err
	}

	cleaned := filepath.Join(workDir, "cleaned.mp3")
	args = []string{
		"-y", "-i", standardized,
		"-af", strings.Join(defaultCleanFilters, ","),
		cleaned,
	}
	if err := n.runFFmpeg(ctx, "audio cleaning failed", args...); err != nil {
		return "", err
	}

	info, err := os.Stat(cleaned)
	if err != nil || info.Size() == 0 {
		return "", job.NewPermanentError(fmt.Errorf("normalization produced no playable audio"))
	}

	n.logger.Info("Audio normalized",
		slog.String("source", src.Value),
		slog.String("bitrate", bitrate),
		slog.Int64("bytes", info.Size()),
	)

	return cleaned, nil
}

// resolveInput fetches the raw media: a local blob path for uploads, a
// yt-dlp download for URLs.
func (n *FFmpegNormalizer) resolveInput(ctx context.Context, src job.Source, workDir string) (string, error) {
	switch src.Type {
	case job.SourceUpload:
		path, err := n.blobs.Path(src.Value)
		if err != nil {
			return "", job.NewPermanentError(fmt.Errorf("uploaded blob not found: %w", err))
		}
		return path, nil

	case job.SourceURL:
		template := filepath.Join(workDir, "downloaded.%(ext)s")
		args := []string{
			"--ffmpeg-location", n.cfg.FFmpegPath,
			"--paths", workDir,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3",
			"--no-playlist",
			"-o", template,
			src.Value,
		}
		if _, err := n.runner.Run(ctx, n.cfg.YTDLPPath, args...); err != nil {
			return "", classifyCommandError(err, fmt.Errorf("audio download failed: %w", err))
		}

		entries, err := os.ReadDir(workDir)
		if err != nil {
			return "", job.NewTransientError(fmt.Errorf("failed to read download directory: %w", err))
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), "downloaded") {
				return filepath.Join(workDir, entry.Name()), nil
			}
		}
		return "", job.NewPermanentError(fmt.Errorf("no audio file produced for url"))

	default:
		return "", job.NewPermanentError(fmt.Errorf("unsupported source type %q", src.Type))
	}
}

func (n *FFmpegNormalizer) runFFmpeg(ctx context.Context, msg string, args ...string) error {
	result, err := n.runner.Run(ctx, n.cfg.FFmpegPath, args...)
	if err != nil {
		return classifyCommandError(err, fmt.Errorf("%s: %s", msg, strings.TrimSpace(result.Stderr)))
	}
	return nil
}

// SplitBySize segments audio into parts below maxBytes so each fits the
// transcription service's upload limit. Returns the input unchanged when it
// already fits.
func (n *FFmpegNormalizer) SplitBySize(ctx context.Context, inputPath string, maxBytes int64) ([]string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, job.NewPermanentError(fmt.Errorf("audio artifact missing: %w", err))
	}
	if info.Size() <= maxBytes {
		return []string{inputPath}, nil
	}

	duration, err := n.probeDuration(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	parts := (info.Size() + maxBytes - 1) / maxBytes
	segmentTime := duration / float64(parts)

	chunkDir := filepath.Join(filepath.Dir(inputPath), "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to create chunk directory: %w", err))
	}

	pattern := filepath.Join(chunkDir, "part_%03d.mp3")
	args := []string{
		"-y", "-i", inputPath,
		"-f", "segment", "-segment_time", strconv.FormatFloat(segmentTime, 'f', 2, 64),
		"-c", "copy", pattern,
	}
	if err := n.runFFmpeg(ctx, "audio chunking failed", args...); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to read chunk directory: %w", err))
	}

	var chunks []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "part_") {
			chunks = append(chunks, filepath.Join(chunkDir, entry.Name()))
		}
	}
	if len(chunks) == 0 {
		return nil, job.NewPermanentError(fmt.Errorf("no audio chunks were created"))
	}

	return chunks, nil
}

func (n *FFmpegNormalizer) probeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	result, err := n.runner.Run(ctx, n.cfg.FFprobePath, args...)
	if err != nil {
		return 0, classifyCommandError(err, fmt.Errorf("failed to probe duration: %w", err))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, job.NewPermanentError(fmt.Errorf("unparsable duration for %s: %w", path, err))
	}
	return duration, nil
}

// classifyCommandError treats a missing binary or interrupted call as
// transient (environment hiccup) and a non-zero exit as permanent (the input
// could not be decoded).
func classifyCommandError(err error, wrapped error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return job.NewTransientError(wrapped)
	}
	return job.NewPermanentError(wrapped)
}
