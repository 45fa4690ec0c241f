package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// OpenAIConfig configures the OpenAI-backed capabilities.
type OpenAIConfig struct {
	BaseURL            string
	APIKey             string
	WhisperModel       string
	TranslationModel   string
	SummarizationModel string
	RequestTimeout     time.Duration
}

// OpenAIClient is a thin client for the chat completions and audio
// transcription endpoints. Rate limiting and 5xx responses classify as
// transient; other API rejections are permanent.
type OpenAIClient struct {
	cfg    OpenAIConfig
	httpc  *http.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = "whisper-1"
	}
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = "gpt-4o-mini"
	}
	if cfg.SummarizationModel == "" {
		cfg.SummarizationModel = "gpt-4o"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	return &OpenAIClient{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// ChatMessage is one chat completion message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatComplete sends messages to model and returns the first choice content.
func (c *OpenAIClient) ChatComplete(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", job.NewPermanentError(fmt.Errorf("failed to encode chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", job.NewPermanentError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", job.NewTransientError(fmt.Errorf("unparsable chat response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", job.NewTransientError(fmt.Errorf("chat response contained no choices"))
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// TranscribeFile uploads one audio file to the transcription endpoint.
func (c *OpenAIClient) TranscribeFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", job.NewPermanentError(fmt.Errorf("audio chunk missing: %w", err))
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", job.NewPermanentError(err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", job.NewTransientError(fmt.Errorf("failed to read audio chunk: %w", err))
	}
	if err := writer.WriteField("model", c.cfg.WhisperModel); err != nil {
		return "", job.NewPermanentError(err)
	}
	if err := writer.Close(); err != nil {
		return "", job.NewPermanentError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", job.NewPermanentError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", job.NewTransientError(fmt.Errorf("unparsable transcription response: %w", err))
	}

	return strings.TrimSpace(parsed.Text), nil
}

// do executes the request and classifies HTTP-level failures.
func (c *OpenAIClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		// Network errors and timeouts are environment hiccups.
		return nil, job.NewTransientError(fmt.Errorf("api request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to read api response: %w", err))
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	apiErr := fmt.Errorf("api returned %d: %s", resp.StatusCode, compactBody(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, job.NewTransientError(apiErr)
	}
	return nil, job.NewPermanentError(apiErr)
}

func compactBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
