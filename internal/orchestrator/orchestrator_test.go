package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-aigateway/internal/cache"
	"go-aigateway/internal/classifier"
	"go-aigateway/internal/feedback"
	"go-aigateway/internal/fusion"
	"go-aigateway/internal/metrics"
	"go-aigateway/internal/rerank"
	"go-aigateway/internal/throttle"
	"go-aigateway/pkg/searchtypes"
)

// fakeBackend returns canned results per backend, or an error when listed
// in failBackends, so dispatch/throttle interaction can be exercised
// without a network call.
type fakeBackend struct {
	results      map[searchtypes.BackendID][]searchtypes.RawResult
	failBackends map[searchtypes.BackendID]error
}

func (f *fakeBackend) Search(_ context.Context, p BackendQuery) ([]searchtypes.RawResult, error) {
	b := p.Backends[0]
	if err, ok := f.failBackends[b]; ok {
		return nil, err
	}
	return f.results[b], nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestOrchestrator(t *testing.T, be Backend) *Orchestrator {
	t.Helper()
	cls := classifier.New(0.3, 3)
	thr := throttle.New(throttle.DefaultConfig())
	ch := cache.New(cache.DefaultConfig(), newTestRedis(t), nil)
	fu := fusion.New(fusion.DefaultConfig())
	rr := rerank.New(rerank.DefaultConfig(), nil)
	mt := metrics.New(100)
	fb := feedback.New(feedback.DefaultConfig())
	return New(DefaultConfig(), cls, thr, be, ch, nil, fu, rr, mt, fb)
}

func TestSearchReturnsFusedResultsOnCacheMiss(t *testing.T) {
	be := &fakeBackend{results: map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {{URL: "https://fanuc.com/a", Title: "FANUC alarm guide", Backend: "brave", Score: 0.9, HasScore: true}},
		"bing":  {{URL: "https://fanuc.com/a", Title: "FANUC alarm guide", Backend: "bing", Score: 0.8, HasScore: true}},
	}}
	o := newTestOrchestrator(t, be)

	resp, err := o.Search(context.Background(), searchtypes.Query{
		Text:             "fanuc srvo-063 alarm",
		BackendOverrides: []searchtypes.BackendID{"brave", "bing"},
		TopK:             5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.Equal(t, cache.LevelMiss, resp.Diagnostics.CacheLevel)
	require.ElementsMatch(t, []searchtypes.BackendID{"brave", "bing"}, resp.Backends)
}

func TestSearchSecondCallIsCacheHit(t *testing.T) {
	be := &fakeBackend{results: map[searchtypes.BackendID][]searchtypes.RawResult{
		"brave": {{URL: "https://fanuc.com/a", Title: "FANUC alarm guide", Backend: "brave", Score: 0.9, HasScore: true}},
	}}
	o := newTestOrchestrator(t, be)
	ctx := context.Background()
	q := searchtypes.Query{Text: "fanuc srvo-063 alarm", BackendOverrides: []searchtypes.BackendID{"brave"}, TopK: 5}

	_, err := o.Search(ctx, q)
	require.NoError(t, err)

	resp, err := o.Search(ctx, q)
	require.NoError(t, err)
	require.NotEqual(t, cache.LevelMiss, resp.Diagnostics.CacheLevel)
}

func TestSearchSkipsFailingBackendWithoutError(t *testing.T) {
	be := &fakeBackend{
		results: map[searchtypes.BackendID][]searchtypes.RawResult{
			"bing": {{URL: "https://fanuc.com/b", Title: "Servo codes", Backend: "bing", Score: 0.7, HasScore: true}},
		},
		failBackends: map[searchtypes.BackendID]error{
			"brave": context.DeadlineExceeded,
		},
	}
	o := newTestOrchestrator(t, be)

	resp, err := o.Search(context.Background(), searchtypes.Query{
		Text:             "servo codes",
		BackendOverrides: []searchtypes.BackendID{"brave", "bing"},
		TopK:             5,
	})
	require.NoError(t, err)
	require.Equal(t, []searchtypes.BackendID{"bing"}, resp.Backends)
	require.NotEmpty(t, resp.Results)
}

func TestSearchReturnsFatalWhenAllBackendsFailAndNoCacheOrLocal(t *testing.T) {
	be := &fakeBackend{failBackends: map[searchtypes.BackendID]error{
		"brave": context.DeadlineExceeded,
	}}
	o := newTestOrchestrator(t, be)

	resp, err := o.Search(context.Background(), searchtypes.Query{
		Text:             "unreachable query",
		BackendOverrides: []searchtypes.BackendID{"brave"},
		TopK:             5,
	})
	require.Error(t, err)
	require.Empty(t, resp.Results)
}

func TestRecordClickForwardsToFeedback(t *testing.T) {
	be := &fakeBackend{}
	o := newTestOrchestrator(t, be)

	o.RecordClick("fanuc alarm", searchtypes.CategoryIndustrial, "brave", "https://fanuc.com/a", 1)

	events := o.feedback.Events(searchtypes.CategoryIndustrial)
	require.Len(t, events, 1)
	require.Equal(t, searchtypes.SignalClick, events[0].Signal)
}
