package router

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLoggedRouter(level slog.Level) (*gin.Engine, *bytes.Buffer) {
	gin.SetMode(gin.TestMode)

	output := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))

	r := gin.New()
	r.Use(LoggerMiddleware(logger))
	r.GET("/api/v1/jobs/:job_id/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "processing"})
	})
	r.POST("/api/v1/jobs", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})
	r.GET("/boom", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})
	return r, output
}

func TestLoggerMiddleware_StatusPollsLogAtDebug(t *testing.T) {
	r, output := newLoggedRouter(slog.LevelInfo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/aaaaaaaa-0000-0000-0000-000000000000/status", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, output.String())
}

func TestLoggerMiddleware_SubmissionsLogAtInfo(t *testing.T) {
	r, output := newLoggedRouter(slog.LevelInfo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	r.ServeHTTP(w, req)

	assert.Contains(t, output.String(), `"level":"INFO"`)
	assert.Contains(t, output.String(), `"path":"/api/v1/jobs"`)
	assert.Contains(t, output.String(), `"status":202`)
}

func TestLoggerMiddleware_ServerErrorsLogAtError(t *testing.T) {
	r, output := newLoggedRouter(slog.LevelInfo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	assert.Contains(t, output.String(), `"level":"ERROR"`)
	assert.Contains(t, output.String(), `"status":500`)
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORSMiddleware())
	r.POST("/api/v1/jobs", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
