package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-aigateway/internal/cache"
	"go-aigateway/internal/classifier"
	"go-aigateway/internal/config"
	"go-aigateway/internal/feedback"
	"go-aigateway/internal/fusion"
	"go-aigateway/internal/metrics"
	"go-aigateway/internal/orchestrator"
	"go-aigateway/internal/rerank"
	"go-aigateway/internal/security"
	"go-aigateway/internal/server"
	"go-aigateway/internal/throttle"
	"go-aigateway/pkg/searchtypes"
)

// fakeBackend returns one canned result per requested backend so the full
// HTTP surface can be exercised without a live metasearch instance.
type fakeBackend struct{}

func (fakeBackend) Search(_ context.Context, q orchestrator.BackendQuery) ([]searchtypes.RawResult, error) {
	b := q.Backends[0]
	return []searchtypes.RawResult{
		{URL: "https://fanuc.com/alarm", Title: "FANUC SRVO-063 alarm guide", Backend: b, Score: 0.8, HasScore: true},
	}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cls := classifier.New(0.3, 3)
	thr := throttle.New(throttle.DefaultConfig())
	ch := cache.New(cache.DefaultConfig(), redisClient, nil)
	fu := fusion.New(fusion.DefaultConfig())
	rr := rerank.New(rerank.DefaultConfig(), nil)
	mt := metrics.New(100)
	fb := feedback.New(feedback.DefaultConfig())

	orch := orchestrator.New(orchestrator.DefaultConfig(), cls, thr, fakeBackend{}, ch, nil, fu, rr, mt, fb)

	cfg := &config.Config{
		Server:   config.ServerConfig{GinMode: "test"},
		Security: config.SecurityConfig{MaxRequestSize: 1 << 20},
	}
	localAuth := security.NewLocalAuthenticator(&config.SecurityConfig{APIKeyPrefix: "sgw_", MaxAPIKeys: 10})

	return server.New(cfg, orch, localAuth)
}

func TestHealthzEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestSearchEndpointReturnsFusedResults(t *testing.T) {
	router := newTestRouter(t)

	reqBody, err := json.Marshal(map[string]interface{}{
		"query":    "fanuc srvo-063 alarm",
		"backends": []string{"brave"},
		"top_k":    5,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
}

func TestSearchEndpointRejectsMissingQuery(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedbackClickEndpointRecordsEvent(t *testing.T) {
	router := newTestRouter(t)

	reqBody, err := json.Marshal(map[string]interface{}{
		"query":    "fanuc srvo-063 alarm",
		"category": "industrial",
		"backend":  "brave",
		"url":      "https://fanuc.com/alarm",
		"position": 1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/feedback/click", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}
