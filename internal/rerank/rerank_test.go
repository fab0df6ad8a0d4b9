package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	scores []float64
	err    error
}

func (f *fakeScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func docs(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{Index: i, Text: "doc"}
	}
	return out
}

func TestRerankAppliedSortsByFinalScoreDescending(t *testing.T) {
	g := New(DefaultConfig(), &fakeScorer{scores: []float64{0.2, 0.9, 0.5}})

	results, applied := g.Rerank(context.Background(), "q", docs(3))

	require.True(t, applied)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].FinalScore, results[i].FinalScore)
	}
}

func TestRerankFallsBackOnScorerError(t *testing.T) {
	g := New(DefaultConfig(), &fakeScorer{err: errors.New("unavailable")})

	results, applied := g.Rerank(context.Background(), "q", docs(3))

	assert.False(t, applied)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, 2, results[2].Index)
}

func TestRerankNilScorerFallsBack(t *testing.T) {
	g := New(DefaultConfig(), nil)

	results, applied := g.Rerank(context.Background(), "q", docs(2))

	assert.False(t, applied)
	assert.Len(t, results, 2)
}

func TestRerankTruncatesToTopK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 2
	g := New(cfg, &fakeScorer{scores: []float64{0.1, 0.2, 0.3, 0.4, 0.5}})

	results, applied := g.Rerank(context.Background(), "q", docs(5))

	require.True(t, applied)
	assert.Len(t, results, 2)
}

func TestMinMaxNormalizeZeroRange(t *testing.T) {
	out := minMaxNormalize([]float64{0.5, 0.5, 0.5})
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestMinMaxNormalizeSpreadsToUnitRange(t *testing.T) {
	out := minMaxNormalize([]float64{1, 2, 3})
	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 1.0, out[2])
	assert.InDelta(t, 0.5, out[1], 1e-9)
}
