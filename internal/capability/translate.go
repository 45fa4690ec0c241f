package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/pipeline"
)

const translationPrompt = `You are an expert translator. Your sole task is to translate the following text accurately to %s.
Provide ONLY the translated text as output. Do not add any comments, explanations, or apologies.`

// Detection uses a bounded sample; a longer one adds latency without
// accuracy.
const detectSampleChars = 500

// ChatTranslator implements pipeline.Translator: language detection runs
// locally, translation goes through the chat completions endpoint with
// chunking to respect context limits.
type ChatTranslator struct {
	client *OpenAIClient
	logger *slog.Logger
}

// NewChatTranslator creates a ChatTranslator.
func NewChatTranslator(client *OpenAIClient, logger *slog.Logger) *ChatTranslator {
	return &ChatTranslator{
		client: client,
		logger: logger,
	}
}

// DetectLanguage returns the ISO 639-1 code of the transcript language.
func (t *ChatTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	sample := text
	if len(sample) > detectSampleChars {
		sample = sample[:detectSampleChars]
	}
	if strings.TrimSpace(sample) == "" {
		return "", job.NewPermanentError(fmt.Errorf("could not determine the transcript language"))
	}

	info := whatlanggo.Detect(sample)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", job.NewPermanentError(fmt.Errorf("could not determine the transcript language"))
	}

	t.logger.Info("Language detected",
		slog.String("language", code),
		slog.Bool("reliable", info.IsReliable()),
	)

	return code, nil
}

// Translate translates text into targetLanguage, chunk by chunk.
func (t *ChatTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	chunks := pipeline.SplitChunks(text, pipeline.DefaultChunkSize)
	if len(chunks) == 0 {
		return "", nil
	}

	system := fmt.Sprintf(translationPrompt, languageName(targetLanguage))

	translated := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			t.logger.Info("Translating transcript chunk",
				slog.Int("chunk", i+1),
				slog.Int("total", len(chunks)),
			)
		}

		out, err := t.client.ChatComplete(ctx, t.client.cfg.TranslationModel, []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: chunk},
		})
		if err != nil {
			return "", err
		}
		translated = append(translated, out)
	}

	return strings.Join(translated, " "), nil
}

// languageName maps common ISO codes to the names the prompt expects; an
// unknown code passes through unchanged.
func languageName(code string) string {
	names := map[string]string{
		"en": "English",
		"ar": "Arabic",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"pt": "Portuguese",
		"ru": "Russian",
		"zh": "Chinese",
		"ja": "Japanese",
		"ko": "Korean",
		"tr": "Turkish",
		"it": "Italian",
	}
	if name, ok := names[strings.ToLower(code)]; ok {
		return name
	}
	return code
}
