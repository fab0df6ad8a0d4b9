package fusion

import (
	"testing"

	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() map[searchtypes.BackendID][]searchtypes.RawResult {
	return map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {
			{URL: "https://example.com/a", Title: "A", Snippet: "short", Backend: "brave"},
			{URL: "https://example.com/b", Title: "B", Snippet: "short", Backend: "brave"},
		},
		"bing": {
			{URL: "https://example.com/a/", Title: "A longer title", Snippet: "a much longer snippet here", Backend: "bing"},
			{URL: "https://example.com/c", Title: "C", Snippet: "short", Backend: "bing"},
		},
	}
}

func TestFuseDedupesByNormalizedURL(t *testing.T) {
	f := New(DefaultConfig())
	results := f.Fuse(sampleResults(), Weights{}, searchtypes.FusionRRF)

	urls := make(map[string]bool)
	for _, r := range results {
		urls[r.URL] = true
	}
	assert.Len(t, results, 3)

	var a *searchtypes.FusedResult
	for i := range results {
		if results[i].URL == "https://example.com/a" || results[i].URL == "https://example.com/a/" {
			a = &results[i]
		}
	}
	require.NotNil(t, a)
	assert.Len(t, a.Engines, 2)
	assert.Equal(t, "A longer title", a.Title)
}

func TestFuseAppearsInBothRanksHigher(t *testing.T) {
	f := New(DefaultConfig())
	results := f.Fuse(sampleResults(), Weights{}, searchtypes.FusionRRF)

	require.NotEmpty(t, results)
	assert.Len(t, results[0].Engines, 2, "the doc appearing in both backends should rank first")
}

func TestFuseRRFScoreFormula(t *testing.T) {
	f := New(Config{RRFConstant: 60, BordaRMax: 100, HybridRRFWeight: 0.6, Normalizer: searchtypes.NormalizeURL})
	byBackend := map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {{URL: "https://x.com/1", Backend: "brave"}},
	}
	results := f.Fuse(byBackend, Weights{"brave": 1.0}, searchtypes.FusionRRF)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61.0, results[0].RRF, 1e-9)
}

func TestFuseHybridCombinesRRFAndWeighted(t *testing.T) {
	f := New(DefaultConfig())
	results := f.Fuse(sampleResults(), Weights{}, searchtypes.FusionHybrid)

	for _, r := range results {
		expected := 0.6*r.RRF + 0.4*r.Weighted
		assert.InDelta(t, expected, r.Final, 1e-9)
	}
}

func TestFuseDeterministicTieBreakByURL(t *testing.T) {
	f := New(DefaultConfig())
	byBackend := map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {
			{URL: "https://z.com", Backend: "brave"},
			{URL: "https://a.com", Backend: "brave"},
		},
	}
	results := f.Fuse(byBackend, Weights{}, searchtypes.FusionRRF)
	require.Len(t, results, 2)
	// z.com ranked 1st (higher RRF) should come before a.com ranked 2nd.
	assert.Equal(t, "https://z.com", results[0].URL)

	// Equal RRF and engine count: the normalized URL decides, ascending.
	tied := map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {{URL: "https://b.com", Backend: "brave"}},
		"bing":  {{URL: "https://a.com", Backend: "bing"}},
	}
	tiedResults := f.Fuse(tied, Weights{}, searchtypes.FusionRRF)
	require.Len(t, tiedResults, 2)
	assert.Equal(t, "https://a.com", tiedResults[0].URL)
}

func TestFuseEmptyInputReturnsEmptySlice(t *testing.T) {
	f := New(DefaultConfig())
	results := f.Fuse(map[searchtypes.BackendID][]searchtypes.RawResult{}, Weights{}, searchtypes.FusionRRF)
	assert.Empty(t, results)
}

func TestFuseBordaScoreWithinBounds(t *testing.T) {
	f := New(DefaultConfig())
	results := f.Fuse(sampleResults(), Weights{}, searchtypes.FusionBorda)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Borda, 0.0)
		assert.LessOrEqual(t, r.Borda, 1.0)
	}
}
