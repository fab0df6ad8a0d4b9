package metrics

import (
	"testing"

	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
)

func TestRecordBackendAccumulatesCounts(t *testing.T) {
	r := New(100)
	backend := searchtypes.BackendID("brave")

	r.RecordBackend(backend, true, 0.1, 5)
	r.RecordBackend(backend, false, 0.2, 0)

	snap := r.BackendSnapshot(backend)
	assert.Equal(t, 2, snap.TotalRequests)
	assert.Equal(t, 1, snap.SuccessfulCount)
	assert.Equal(t, 1, snap.FailedCount)
	assert.Equal(t, 5, snap.TotalResults)
}

func TestBackendSnapshotComputesMedianAndP95(t *testing.T) {
	r := New(100)
	backend := searchtypes.BackendID("bing")

	for i := 1; i <= 10; i++ {
		r.RecordBackend(backend, true, float64(i)/10.0, 1)
	}

	snap := r.BackendSnapshot(backend)
	assert.Greater(t, snap.MedianLatency, 0.0)
	assert.GreaterOrEqual(t, snap.P95Latency, snap.MedianLatency)
}

func TestRingWindowBoundedToSize(t *testing.T) {
	r := New(3)
	backend := searchtypes.BackendID("x")

	for i := 0; i < 10; i++ {
		r.RecordBackend(backend, true, float64(i), 0)
	}

	c := r.counters(backend)
	samples := c.latency.snapshot()
	assert.Len(t, samples, 3)
}

func TestRecordQueryZeroResultRate(t *testing.T) {
	r := New(100)

	r.RecordQuery(searchtypes.CategoryGeneral, 0, 0, 0)
	r.RecordQuery(searchtypes.CategoryGeneral, 5, 3, 2)

	zeroRate, meanResults, meanDomains, mrr := r.QuerySnapshot()
	assert.Equal(t, 0.5, zeroRate)
	assert.Equal(t, 2.5, meanResults)
	assert.Equal(t, 1.5, meanDomains)
	assert.Equal(t, 1.0, mrr)
}

func TestQuerySnapshotEmptyIsZero(t *testing.T) {
	r := New(100)
	zeroRate, meanResults, meanDomains, mrr := r.QuerySnapshot()
	assert.Equal(t, 0.0, zeroRate)
	assert.Equal(t, 0.0, meanResults)
	assert.Equal(t, 0.0, meanDomains)
	assert.Equal(t, 0.0, mrr)
}
