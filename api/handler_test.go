package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"talkpip/config"
	"talkpip/talk"
	"talkpip/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProcessor is a mock implementation of the task.Processor interface for testing.
type mockProcessor struct{}

func (m *mockProcessor) Process(ctx context.Context, t *talk.Talk, tr task.Tracker) error {
	for _, s := range []task.Status{task.StatusDownloading, task.StatusExtractingSlides, task.StatusBuildingTimeline, task.StatusRendering, task.StatusCompositing} {
		if err := tr.Advance(s); err != nil {
			return err
		}
	}
	return os.WriteFile(t.OutputPath, []byte("composite of "+t.URL), 0o644)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *task.Manager) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxConcurrency: 1,
		AuthEnable:     false,
		OutputDir:      t.TempDir(),
	}
	tm, err := task.NewManager(cfg, &mockProcessor{}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tm.Start(ctx)

	router := SetupRouter(tm, cfg)
	return router, cfg, tm
}

func waitDone(t *testing.T, tm *task.Manager, batchID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tm.Wait(ctx, batchID)
	require.NoError(t, err)
}

func TestHandleCreateBatch(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	w := httptest.NewRecorder()
	reqBody := `{"urls": ["https://example.org/talks/keynote", "not a url"]}`
	req, _ := http.NewRequest("POST", "/api/v1/batches", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		BatchID string         `json:"batchId"`
		Talks   int            `json:"talks"`
		Skipped []talk.Skipped `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 1, resp.Talks)
	assert.Len(t, resp.Skipped, 1)

	_, found := tm.Get(resp.BatchID)
	assert.True(t, found)
}

func TestHandleCreateBatch_Rejects(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	for _, body := range []string{`{}`, `{"urls": []}`, `{"urls": ["ftp://x/y"]}`, `not json`} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/batches", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandleGetBatch(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	b, err := tm.Submit([]talk.Entry{{Line: 1, URL: "https://example.org/talks/keynote"}})
	require.NoError(t, err)
	waitDone(t, tm, b.ID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/batches/"+b.ID, nil)
	req.Host = "pip.example"

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var snap task.BatchSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, b.ID, snap.ID)
	assert.True(t, snap.Done)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, task.StatusDone, snap.Results[0].Status)
	assert.Equal(t, "http://pip.example/api/v1/files/"+talk.DirName("https://example.org/talks/keynote"), snap.Results[0].DownloadURL)

	// Test Not Found
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/batches/nonexistent", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListBatches(t *testing.T) {
	router, cfg, tm := setupTestRouter(t)
	cfg.BaseURL = "https://pip.example/"

	b, err := tm.Submit([]talk.Entry{{Line: 1, URL: "https://example.org/talks/keynote"}})
	require.NoError(t, err)
	waitDone(t, tm, b.ID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/batches", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list []task.BatchSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "https://pip.example/api/v1/files/"+talk.DirName("https://example.org/talks/keynote"), list[0].Results[0].DownloadURL)
}

func TestHandleGetFile(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	urls := []string{"https://a.example.org/conf1/keynote", "https://b.example.org/conf2/keynote"}
	b, err := tm.Submit([]talk.Entry{{Line: 1, URL: urls[0]}, {Line: 2, URL: urls[1]}})
	require.NoError(t, err)
	waitDone(t, tm, b.ID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/batches/"+b.ID, nil)
	req.Host = "pip.example"
	router.ServeHTTP(w, req)
	var snap task.BatchSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Results, 2)
	assert.NotEqual(t, snap.Results[0].DownloadURL, snap.Results[1].DownloadURL)

	for i, r := range snap.Results {
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("GET", "/api/v1/files/"+r.Key, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "composite of "+urls[i], w.Body.String())
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/files/keynote", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/files/..%2Fsecret", nil)
	router.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	router, cfg, _ := setupTestRouter(t)
	cfg.AuthEnable = true
	cfg.AuthKey = "secret"

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/batches", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/batches", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/batches", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/batches", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
