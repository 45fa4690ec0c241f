package capability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talktotext/talktotext-pro/internal/job"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIClient(OpenAIConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChatComplete(t *testing.T) {
	t.Run("returns first choice content", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.Write([]byte(`{"choices":[{"message":{"content":"  hello there \n"}}]}`))
		})

		out, err := client.ChatComplete(context.Background(), "gpt-4o-mini", []ChatMessage{
			{Role: "user", Content: "hi"},
		})
		require.NoError(t, err)
		assert.Equal(t, "hello there", out)
	})

	t.Run("empty choices is transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		})

		_, err := client.ChatComplete(context.Background(), "gpt-4o-mini", nil)
		require.Error(t, err)
		assert.True(t, job.IsTransient(err))
	})
}

func TestOpenAIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"payload too large", http.StatusRequestEntityTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})

			_, err := client.ChatComplete(context.Background(), "gpt-4o-mini", nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, job.IsTransient(err))
		})
	}

	t.Run("unreachable host is transient", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			BaseURL:        "http://127.0.0.1:1",
			RequestTimeout: time.Second,
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))

		_, err := client.ChatComplete(context.Background(), "gpt-4o-mini", nil)
		require.Error(t, err)
		assert.True(t, job.IsTransient(err))
	})
}
