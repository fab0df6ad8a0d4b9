package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchParsesResultsAndPreservesExtraMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "q-value", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{
					"url":     "https://example.com",
					"title":   "Example",
					"content": "snippet",
					"engine":  "brave",
					"score":   0.8,
					"img_src": "https://example.com/thumb.png",
				},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	results, err := c.Search(context.Background(), QueryParams{Text: "q-value"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com", results[0].URL)
	assert.Equal(t, searchtypes.BackendID("brave"), results[0].Backend)
	assert.True(t, results[0].HasScore)
	assert.Equal(t, 0.8, results[0].Score)
	assert.Equal(t, "https://example.com/thumb.png", results[0].Metadata["img_src"])
}

func TestSearchRateLimitedReturnsBackendRateLimitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Search(context.Background(), QueryParams{Text: "x"})

	require.Error(t, err)
	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeBackendRateLimit, code)
}

func TestSearchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Search(context.Background(), QueryParams{Text: "x"})

	require.Error(t, err)
	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeBackendTransient, code)
}

func TestBuildURLIncludesEnginesAndCategories(t *testing.T) {
	c := New(Config{BaseURL: "https://backend.test"})
	u, err := c.buildURL(QueryParams{
		Text:       "hello",
		Backends:   []searchtypes.BackendID{"brave", "bing"},
		Categories: []searchtypes.Category{searchtypes.CategoryCode},
		TimeRange:  searchtypes.TimeWindowWeek,
		Page:       2,
		Safesearch: searchtypes.SafetyStrict,
	})
	require.NoError(t, err)
	assert.Contains(t, u, "engines=brave%2Cbing")
	assert.Contains(t, u, "categories=code")
	assert.Contains(t, u, "time_range=week")
	assert.Contains(t, u, "pageno=2")
	assert.Contains(t, u, "safesearch=2")
}

func TestPickIdentityRespectsWeightedDistribution(t *testing.T) {
	counts := make(map[string]int)
	rng := newIdentityRotator(0).rng
	for i := 0; i < 1000; i++ {
		id := pickIdentity(rng)
		counts[id.name]++
	}
	assert.Greater(t, counts["chrome-windows"], counts["firefox-windows"])
}

func TestIdentityRotatorRotatesAfterTTL(t *testing.T) {
	r := newIdentityRotator(0)
	first := r.Current()
	second := r.Current()
	_ = first
	_ = second // with ttl=0 every call rotates; just assert no panic and a valid identity name
	assert.NotEmpty(t, second.name)
}
