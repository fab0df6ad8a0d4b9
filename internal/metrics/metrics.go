// Package metrics implements the per-backend and per-query recorder
// (C7). Prometheus vectors follow the teacher's
// internal/middleware/metrics.go promauto layout; the bounded
// rolling-sample window is ported from that file's Redis
// RPush+LTrim(-100,-1) "keep the last 100 samples" idiom, reimplemented
// as an in-process ring since these statistics are process-local.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-aigateway/pkg/searchtypes"
)

var (
	backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchgw_backend_requests_total",
			Help: "Total dispatches per backend",
		},
		[]string{"backend", "outcome"},
	)

	backendLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searchgw_backend_latency_seconds",
			Help:    "Per-backend response latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend"},
	)

	queryResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchgw_query_results_total",
			Help: "Total results returned per query",
		},
		[]string{"category"},
	)

	zeroResultQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchgw_zero_result_queries_total",
			Help: "Queries that returned no results",
		},
		[]string{"category"},
	)

	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchgw_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"},
	)
)

// ring holds a bounded FIFO of float64 samples (response times in
// seconds), matching the teacher's last-100-samples windowing.
type ring struct {
	mu      sync.Mutex
	samples []float64
	size    int
	next    int
	full    bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 100
	}
	return &ring{samples: make([]float64, size), size: size}
}

func (r *ring) add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = v
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	if r.full {
		n = r.size
	} else {
		n = r.next
	}
	out := make([]float64, n)
	copy(out, r.samples[:n])
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// BackendStats is the computed view of a backend's rolling window.
type BackendStats struct {
	TotalRequests   int
	SuccessfulCount int
	FailedCount     int
	TotalResults    int
	MedianLatency   float64
	P95Latency      float64
}

type backendCounters struct {
	mu           sync.Mutex
	total        int
	successful   int
	failed       int
	totalResults int
	latency      *ring
}

// QueryStats is an aggregate over recorded query outcomes.
type QueryStats struct {
	TotalQueries       int
	ZeroResultQueries  int
	TotalResults       int
	UniqueDomainsSum   int
	AgreementCountSum  int
}

// Recorder tracks per-backend and per-query metrics for C7.
type Recorder struct {
	ringSize int

	mu       sync.Mutex
	backends map[searchtypes.BackendID]*backendCounters

	qmu     sync.Mutex
	queries QueryStats
}

// New builds a Recorder whose rolling windows hold ringSize samples
// (default 100).
func New(ringSize int) *Recorder {
	if ringSize <= 0 {
		ringSize = 100
	}
	return &Recorder{
		ringSize: ringSize,
		backends: make(map[searchtypes.BackendID]*backendCounters),
	}
}

func (r *Recorder) counters(backend searchtypes.BackendID) *backendCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.backends[backend]
	if !ok {
		c = &backendCounters{latency: newRing(r.ringSize)}
		r.backends[backend] = c
	}
	return c
}

// RecordBackend records the outcome of one dispatch to backend.
func (r *Recorder) RecordBackend(backend searchtypes.BackendID, success bool, latencySeconds float64, resultCount int) {
	c := r.counters(backend)
	c.mu.Lock()
	c.total++
	if success {
		c.successful++
	} else {
		c.failed++
	}
	c.totalResults += resultCount
	c.mu.Unlock()
	c.latency.add(latencySeconds)

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	backendRequestsTotal.WithLabelValues(string(backend), outcome).Inc()
	backendLatencySeconds.WithLabelValues(string(backend)).Observe(latencySeconds)
}

// BackendSnapshot returns the computed stats for backend.
func (r *Recorder) BackendSnapshot(backend searchtypes.BackendID) BackendStats {
	c := r.counters(backend)
	c.mu.Lock()
	stats := BackendStats{
		TotalRequests:   c.total,
		SuccessfulCount: c.successful,
		FailedCount:     c.failed,
		TotalResults:    c.totalResults,
	}
	c.mu.Unlock()

	samples := c.latency.snapshot()
	sort.Float64s(samples)
	stats.MedianLatency = percentile(samples, 0.5)
	stats.P95Latency = percentile(samples, 0.95)
	return stats
}

// RecordQuery records one completed query's aggregate outcome: result
// count, number of distinct domains represented, and the number of
// backends that agreed (returned an overlapping result), used for the
// simplified MRR estimate.
func (r *Recorder) RecordQuery(category searchtypes.Category, resultCount, uniqueDomains, agreementCount int) {
	r.qmu.Lock()
	r.queries.TotalQueries++
	r.queries.TotalResults += resultCount
	r.queries.UniqueDomainsSum += uniqueDomains
	r.queries.AgreementCountSum += agreementCount
	if resultCount == 0 {
		r.queries.ZeroResultQueries++
	}
	r.qmu.Unlock()

	queryResultsTotal.WithLabelValues(string(category)).Add(float64(resultCount))
	if resultCount == 0 {
		zeroResultQueries.WithLabelValues(string(category)).Inc()
	}
}

// RecordCacheHit increments the hit counter for the given cache tier
// ("l1", "l2", or "miss").
func (r *Recorder) RecordCacheHit(tier string) {
	cacheHitsTotal.WithLabelValues(tier).Inc()
}

// QuerySnapshot returns zero-result rate, mean results/query, mean
// unique-domain count/query, and a simplified MRR estimate (the mean
// per-query backend-agreement count; it is not normalized and can exceed 1).
func (r *Recorder) QuerySnapshot() (zeroResultRate, meanResults, meanUniqueDomains, mrrEstimate float64) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if r.queries.TotalQueries == 0 {
		return 0, 0, 0, 0
	}
	n := float64(r.queries.TotalQueries)
	zeroResultRate = float64(r.queries.ZeroResultQueries) / n
	meanResults = float64(r.queries.TotalResults) / n
	meanUniqueDomains = float64(r.queries.UniqueDomainsSum) / n
	mrrEstimate = float64(r.queries.AgreementCountSum) / n
	return
}
