package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talktotext/talktotext-pro/internal/api/dto"
	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/store"
)

type fakeBlobs struct {
	existing map[string]bool
}

func (f *fakeBlobs) Stat(ref string) error {
	if f.existing[ref] {
		return nil
	}
	return fmt.Errorf("blob %q not found", ref)
}

func (f *fakeBlobs) Path(ref string) (string, error) {
	if f.existing[ref] {
		return "/blobs/" + ref, nil
	}
	return "", fmt.Errorf("blob %q not found", ref)
}

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

type handlerFixture struct {
	store     *store.MemoryStore
	blobs     *fakeBlobs
	publisher *fakePublisher
	router    *gin.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		store:     store.NewMemoryStore(),
		blobs:     &fakeBlobs{existing: map[string]bool{"uploads/meeting.mp3": true}},
		publisher: &fakePublisher{},
	}

	h := NewJobHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     f.store,
		Blobs:     f.blobs,
		Publisher: f.publisher,
	})

	r := gin.New()
	r.POST("/api/v1/jobs", h.SubmitJob)
	r.GET("/api/v1/jobs/:job_id/status", h.GetJobStatus)
	r.GET("/api/v1/history", h.ListHistory)
	r.DELETE("/api/v1/history/:job_id", h.DeleteJob)
	r.POST("/api/v1/history/clear_all", h.ClearAll)
	f.router = r

	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func submitBody(sourceType, sourceValue string) dto.SubmitJobRequest {
	return dto.SubmitJobRequest{
		Owner: "alice",
		Source: dto.SourceRequest{
			Type:  sourceType,
			Value: sourceValue,
		},
		Options: dto.OptionsRequest{
			TargetLanguage: "en",
			QualityTier:    "medium",
		},
	}
}

func TestSubmitJob(t *testing.T) {
	t.Run("accepts upload pointing at an existing blob", func(t *testing.T) {
		f := newHandlerFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/jobs", submitBody("upload", "uploads/meeting.mp3"))
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp dto.SubmitJobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.Equal(t, "queued", resp.Status)

		stored, err := f.store.Get(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusQueued, stored.Status)
		assert.Equal(t, "alice", stored.Owner)

		require.Len(t, f.publisher.bodies, 1)
		assert.Contains(t, string(f.publisher.bodies[0]), resp.JobID)
	})

	t.Run("accepts http url", func(t *testing.T) {
		f := newHandlerFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/jobs", submitBody("url", "https://example.com/talk.mp4"))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	rejections := []struct {
		name string
		body dto.SubmitJobRequest
	}{
		{"unknown source type", submitBody("ftp", "ftp://example.com/a.mp3")},
		{"url with bad scheme", submitBody("url", "file:///etc/passwd")},
		{"url with no host", submitBody("url", "https://")},
		{"upload pointing at missing blob", submitBody("upload", "uploads/nope.mp3")},
	}
	for _, tt := range rejections {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			w := f.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			// a rejected submission creates nothing and publishes nothing
			jobs, err := f.store.ListByOwner(context.Background(), "alice", store.ListFilter{PageSize: 10})
			require.NoError(t, err)
			assert.Empty(t, jobs)
			assert.Empty(t, f.publisher.bodies)
		})
	}

	t.Run("rejects bad quality tier", func(t *testing.T) {
		f := newHandlerFixture(t)
		body := submitBody("upload", "uploads/meeting.mp3")
		body.Options.QualityTier = "ultra"

		w := f.do(t, http.MethodPost, "/api/v1/jobs", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("publish failure, surfaces error", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.publisher.err = fmt.Errorf("broker down")

		w := f.do(t, http.MethodPost, "/api/v1/jobs", submitBody("upload", "uploads/meeting.mp3"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetJobStatus(t *testing.T) {
	t.Run("rejects malformed id", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid/status", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.New().String()+"/status", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("polling is idempotent", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:     id,
			Owner:  "alice",
			Source: job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status: job.StatusQueued,
		}))

		first := f.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/status", nil)
		second := f.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/status", nil)

		require.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, first.Body.String(), second.Body.String())
	})

	t.Run("failed job exposes stage and message", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:     id,
			Owner:  "alice",
			Source: job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status: job.StatusQueued,
		}))
		_, err := f.store.Claim(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, f.store.Fail(context.Background(), id, &job.StageError{
			Stage:   job.StageTranscribing,
			Message: "audio contains no discernible speech",
		}))

		w := f.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/status", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "failed", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, job.StageTranscribing, resp.Error.Stage)
		assert.Equal(t, "audio contains no discernible speech", resp.Error.Message)
		assert.Nil(t, resp.Result)
	})
}

func completeWithTranscript(t *testing.T, s *store.MemoryStore, id, transcript string) {
	t.Helper()
	_, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.Complete(context.Background(), id, &job.Result{
		Transcription: job.Transcription{RawTranscript: transcript, CleanedTranscript: transcript},
		Summary: job.Summary{
			Abstract: "a", KeyPoints: []string{}, ActionItems: []string{},
			Decisions: []string{}, Sentiment: "neutral", FullReport: "r",
		},
	}))
}

func TestListHistory(t *testing.T) {
	t.Run("owner is required", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodGet, "/api/v1/history", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("preview truncates the cleaned transcript", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New().String()
		long := strings.Repeat("abcde ", 30)
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        id,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))
		completeWithTranscript(t, f.store, id, long)

		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 1)

		item := resp.Jobs[0]
		assert.Equal(t, "meeting.mp3", item.Name)
		assert.Equal(t, "completed", item.Status)
		assert.True(t, strings.HasSuffix(item.Preview, "..."))
		assert.Equal(t, long[:75]+"...", item.Preview)
		assert.Equal(t, []string{"txt", "json", "md"}, item.Formats)
	})

	t.Run("short transcript is not padded", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        id,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))
		completeWithTranscript(t, f.store, id, "short note")

		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, "short note", resp.Jobs[0].Preview)
	})

	t.Run("in-flight jobs show a placeholder preview", func(t *testing.T) {
		f := newHandlerFixture(t)
		queued := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        queued,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))

		processing := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        processing,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/standup.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC().Add(time.Second),
		}))
		_, err := f.store.Claim(context.Background(), processing)
		require.NoError(t, err)

		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 2)
		for _, item := range resp.Jobs {
			assert.Equal(t, "Processing...", item.Preview)
			assert.Equal(t, []string{}, item.Formats)
		}
	})

	t.Run("failed jobs list with an empty preview", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        id,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))
		_, err := f.store.Claim(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, f.store.Fail(context.Background(), id, &job.StageError{
			Stage:   job.StageTranscribing,
			Message: "audio contains no discernible speech",
		}))

		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, "failed", resp.Jobs[0].Status)
		assert.Equal(t, "", resp.Jobs[0].Preview)
	})

	t.Run("paginates newest first", func(t *testing.T) {
		f := newHandlerFixture(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			require.NoError(t, f.store.Create(context.Background(), &job.Job{
				ID:        fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
				Owner:     "alice",
				Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
				Status:    job.StatusQueued,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice&page_size=2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page1 dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page1))
		require.Len(t, page1.Jobs, 2)
		assert.NotEmpty(t, page1.NextCursor)
		assert.Equal(t, "00000000-0000-0000-0000-000000000004", page1.Jobs[0].JobID)

		w = f.do(t, http.MethodGet, "/api/v1/history?owner=alice&page_size=2&cursor="+page1.NextCursor, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page2 dto.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page2))
		require.Len(t, page2.Jobs, 2)
		assert.Equal(t, "00000000-0000-0000-0000-000000000002", page2.Jobs[0].JobID)
	})

	t.Run("rejects garbage cursor", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodGet, "/api/v1/history?owner=alice&cursor=%21%21%21", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteJob(t *testing.T) {
	seed := func(t *testing.T, f *handlerFixture, terminal bool) string {
		t.Helper()
		id := uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        id,
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))
		if terminal {
			completeWithTranscript(t, f.store, id, "done")
		}
		return id
	}

	t.Run("deletes terminal job", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := seed(t, f, true)

		w := f.do(t, http.MethodDelete, "/api/v1/history/"+id+"?owner=alice", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		_, err := f.store.Get(context.Background(), id)
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodDelete, "/api/v1/history/"+uuid.New().String()+"?owner=alice", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("wrong owner", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := seed(t, f, true)

		w := f.do(t, http.MethodDelete, "/api/v1/history/"+id+"?owner=mallory", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("processing job is deferred with 409", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := seed(t, f, false)
		_, err := f.store.Claim(context.Background(), id)
		require.NoError(t, err)

		w := f.do(t, http.MethodDelete, "/api/v1/history/"+id+"?owner=alice", nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		// row untouched
		got, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, got.Status)
	})

	t.Run("owner is required", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := seed(t, f, true)

		w := f.do(t, http.MethodDelete, "/api/v1/history/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestClearAll(t *testing.T) {
	f := newHandlerFixture(t)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.New().String()
		require.NoError(t, f.store.Create(context.Background(), &job.Job{
			ID:        ids[i],
			Owner:     "alice",
			Source:    job.Source{Type: job.SourceUpload, Value: "uploads/meeting.mp3"},
			Status:    job.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}))
	}
	completeWithTranscript(t, f.store, ids[0], "one")
	completeWithTranscript(t, f.store, ids[1], "two")
	_, err := f.store.Claim(context.Background(), ids[2])
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/history/clear_all", dto.ClearAllRequest{Owner: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ClearAllResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Deleted)

	// the in-flight job survives
	got, err := f.store.Get(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
}
