// Package orchestrator composes C1-C8 and C10 into the single request
// pipeline (C9): classify, cache get, concurrent throttled dispatch, fuse,
// local-index join, rerank, cache put, and metrics/feedback recording.
package orchestrator

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go-aigateway/internal/cache"
	"go-aigateway/internal/classifier"
	apperrors "go-aigateway/internal/errors"
	"go-aigateway/internal/feedback"
	"go-aigateway/internal/fusion"
	"go-aigateway/internal/localindex"
	"go-aigateway/internal/metrics"
	"go-aigateway/internal/rerank"
	"go-aigateway/internal/throttle"
	"go-aigateway/pkg/searchtypes"
)

// Config configures the orchestrator's own knobs; its collaborators carry
// their own Config structs, constructed and injected by the caller
// (cmd/searchgw's wiring).
type Config struct {
	TopK                int // final result count, default 10
	LocalTopN           int // bounded local-index contribution, default 5
	LocalScoreBoost     float64
	DefaultMethod       searchtypes.FusionMethod
	CandidateMultiplier int // fuse to ~CandidateMultiplier*TopK before local join+rerank
}

// DefaultConfig returns spec.md §4.8's literal defaults.
func DefaultConfig() Config {
	return Config{
		TopK:                10,
		LocalTopN:           5,
		LocalScoreBoost:     0.5,
		DefaultMethod:       searchtypes.FusionRRF,
		CandidateMultiplier: 2,
	}
}

// Backend is the subset of internal/backend.Client the orchestrator
// dispatches through; a narrow local interface so this package need not
// import internal/backend directly and tests can fake it.
type Backend interface {
	Search(ctx context.Context, p BackendQuery) ([]searchtypes.RawResult, error)
}

// BackendQuery mirrors internal/backend.QueryParams without the circular
// import; the caller's Backend implementation adapts between the two.
type BackendQuery struct {
	Text       string
	Backends   []searchtypes.BackendID
	Categories []searchtypes.Category
	Language   string
	TimeRange  searchtypes.TimeWindow
	Page       int
	Safesearch searchtypes.SafetyLevel
}

// Diagnostics reports the per-stage decisions that produced a response.
type Diagnostics struct {
	Category      searchtypes.Category
	Confidence    float64
	CacheLevel    cache.Level
	FusionMethod  searchtypes.FusionMethod
	RerankApplied bool
}

// Response is the structured result of one orchestrated search, per
// spec.md §4.8.
type Response struct {
	Results     []searchtypes.FusedResult
	Diagnostics Diagnostics
	Backends    []searchtypes.BackendID
	WallTime    time.Duration
}

// Orchestrator wires together every pipeline component for one request.
type Orchestrator struct {
	cfg        Config
	classifier *classifier.Classifier
	throttler  *throttle.Throttler
	backend    Backend
	cache      *cache.Cache
	localIndex *localindex.Index // nil disables the local-index join
	fuser      *fusion.Fuser
	reranker   *rerank.Gateway
	metrics    *metrics.Recorder
	feedback   *feedback.Learner
	now        func() time.Time
}

// New builds an Orchestrator. localIndex may be nil, in which case step 5
// (local-index join) is skipped.
func New(
	cfg Config,
	cls *classifier.Classifier,
	thr *throttle.Throttler,
	be Backend,
	ch *cache.Cache,
	li *localindex.Index,
	fu *fusion.Fuser,
	rr *rerank.Gateway,
	mt *metrics.Recorder,
	fb *feedback.Learner,
) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.LocalTopN <= 0 {
		cfg.LocalTopN = 5
	}
	if cfg.LocalScoreBoost == 0 {
		cfg.LocalScoreBoost = 0.5
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = searchtypes.FusionRRF
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 2
	}
	return &Orchestrator{
		cfg: cfg, classifier: cls, throttler: thr, backend: be, cache: ch,
		localIndex: li, fuser: fu, reranker: rr, metrics: mt, feedback: fb,
		now: time.Now,
	}
}

// Search runs the full pipeline for one query, per spec.md §4.8's 8-step
// control flow. There is a single code path: every request — cache hit
// or miss — flows through this function (see DESIGN.md's Open Question
// decision resolving the source's two divergent search variants).
func (o *Orchestrator) Search(ctx context.Context, q searchtypes.Query) (*Response, error) {
	start := o.now()
	normalized := q.NormalizedText()
	topK := o.cfg.TopK
	if q.TopK > 0 {
		topK = q.TopK
	}
	method := o.cfg.DefaultMethod
	if q.Method != "" {
		method = q.Method
	}

	category, confidence, backends := o.route(q, normalized)

	weights := o.learnedWeights(category, backends)

	// Step 2: cache get.
	if entry, level := o.cache.Get(ctx, normalized, backends); level != cache.LevelMiss {
		o.metrics.RecordCacheHit(string(level))
		results := entry.Results
		if len(results) > topK {
			results = results[:topK]
		}
		o.recordImpressions(q, category, results)
		o.recordQueryMetrics(category, results)
		return &Response{
			Results:  results,
			Backends: backends,
			Diagnostics: Diagnostics{
				Category: category, Confidence: confidence, CacheLevel: level,
				FusionMethod: method, RerankApplied: false,
			},
			WallTime: o.now().Sub(start),
		}, nil
	}
	o.metrics.RecordCacheHit(string(cache.LevelMiss))

	// Step 3: concurrent throttled dispatch.
	byBackend, usedBackends := o.dispatch(ctx, backends, BackendQuery{
		Text: normalized, Backends: backends, Language: q.Language,
		TimeRange: q.TimeRange, Safesearch: q.Safety,
	})

	// Step 4: fuse to ~2*top_k candidates.
	candidateCount := topK * o.cfg.CandidateMultiplier
	fused := o.fuser.Fuse(byBackend, weights, method)
	if len(fused) > candidateCount {
		fused = fused[:candidateCount]
	}
	for i := range fused {
		fused[i].Source = searchtypes.SourceWeb
	}

	// Step 5: local-index join. Local hits that resolve to the same
	// normalized URL as an already-fused web result are merged into that
	// web result (boosted, not duplicated), per spec.md §4.8's guarantee
	// that a result appears only once regardless of which source found it.
	fused = o.mergeLocalResults(fused, o.localResults(ctx, normalized))

	// Step 6: merge, sort, rerank.
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Final > fused[j].Final })
	docs := make([]rerank.Document, len(fused))
	for i, f := range fused {
		docs[i] = rerank.Document{Index: i, Text: strings.TrimSpace(f.Title + " " + f.Snippet)}
	}
	scored, applied := o.reranker.Rerank(ctx, normalized, docs)

	final := make([]searchtypes.FusedResult, 0, topK)
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(fused) {
			continue
		}
		r := fused[s.Index]
		r.Final = s.FinalScore
		final = append(final, r)
		if len(final) >= topK {
			break
		}
	}

	// Step 7: cache put (fresh results only).
	if err := o.cache.Put(ctx, normalized, final, usedBackends); err != nil {
		// Cache errors degrade silently per spec.md §7.
		_ = err
	}

	// Step 8: record.
	o.recordImpressions(q, category, final)
	o.recordQueryMetrics(category, final)

	if len(final) == 0 && len(usedBackends) == 0 {
		return &Response{
			Results:  final,
			Backends: usedBackends,
			Diagnostics: Diagnostics{
				Category: category, Confidence: confidence, CacheLevel: cache.LevelMiss,
				FusionMethod: method, RerankApplied: applied,
			},
			WallTime: o.now().Sub(start),
		}, apperrors.New(apperrors.CodeOrchestratorFatal, "all backends failed and no cache or local results available")
	}

	return &Response{
		Results:  final,
		Backends: usedBackends,
		Diagnostics: Diagnostics{
			Category: category, Confidence: confidence, CacheLevel: cache.LevelMiss,
			FusionMethod: method, RerankApplied: applied,
		},
		WallTime: o.now().Sub(start),
	}, nil
}

// route classifies the query unless backends were explicitly overridden.
func (o *Orchestrator) route(q searchtypes.Query, normalized string) (searchtypes.Category, float64, []searchtypes.BackendID) {
	if len(q.BackendOverrides) > 0 {
		return searchtypes.CategoryGeneral, 1.0, q.BackendOverrides
	}
	score, backends := o.classifier.Route(normalized)
	return score.Category, score.Confidence, backends
}

// learnedWeights multiplies the fuser's static per-backend weight by C8's
// recommended weight for the active category, per spec.md §4.5.
func (o *Orchestrator) learnedWeights(category searchtypes.Category, backends []searchtypes.BackendID) fusion.Weights {
	weights := make(fusion.Weights, len(backends))
	for _, b := range backends {
		weights[b] = o.feedback.Weight(b, category)
	}
	return weights
}

// dispatch issues one throttled call per backend concurrently and awaits
// all, per spec.md §5's scheduling model. A CircuitOpen error skips the
// backend without recording a failure; any other error is recorded and
// also skipped.
func (o *Orchestrator) dispatch(ctx context.Context, backends []searchtypes.BackendID, base BackendQuery) (map[searchtypes.BackendID][]searchtypes.RawResult, []searchtypes.BackendID) {
	type outcome struct {
		backend searchtypes.BackendID
		results []searchtypes.RawResult
		ok      bool
	}

	out := make(chan outcome, len(backends))
	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b searchtypes.BackendID) {
			defer wg.Done()
			start := o.now()
			if err := o.throttler.Acquire(ctx, b); err != nil {
				out <- outcome{backend: b, ok: false}
				return
			}
			q := base
			q.Backends = []searchtypes.BackendID{b}
			results, err := o.backend.Search(ctx, q)
			latency := o.now().Sub(start).Seconds()
			if err != nil {
				o.throttler.RecordFailure(b, failureKind(err))
				o.metrics.RecordBackend(b, false, latency, 0)
				out <- outcome{backend: b, ok: false}
				return
			}
			o.throttler.RecordSuccess(b)
			o.metrics.RecordBackend(b, true, latency, len(results))
			out <- outcome{backend: b, results: results, ok: true}
		}(b)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	byBackend := make(map[searchtypes.BackendID][]searchtypes.RawResult)
	var used []searchtypes.BackendID
	for o := range out {
		if o.ok {
			byBackend[o.backend] = o.results
			used = append(used, o.backend)
		}
	}
	return byBackend, used
}

// failureKind maps an AppError's Code to the FailureKind that governs C1's
// recovery-timeout policy, per spec.md §7.
func failureKind(err error) throttle.FailureKind {
	code, ok := apperrors.CodeOf(err)
	if !ok {
		return throttle.FailureUnknown
	}
	switch code {
	case apperrors.CodeBackendRateLimit:
		return throttle.FailureRateLimit
	case apperrors.CodeBackendAntiBot:
		return throttle.FailureCaptcha
	case apperrors.CodeBackendTransient:
		return throttle.FailureHTTP
	default:
		return throttle.FailureUnknown
	}
}

// localResults queries C4 (bounded to LocalTopN) and tags each hit
// source=local with the +0.5 score boost spec.md §4.8 requires.
func (o *Orchestrator) localResults(ctx context.Context, normalized string) []searchtypes.FusedResult {
	if o.localIndex == nil {
		return nil
	}
	hits, err := o.localIndex.Search(ctx, localindex.SearchParams{Query: normalized, TopN: o.cfg.LocalTopN})
	if err != nil || len(hits) == 0 {
		return nil
	}
	out := make([]searchtypes.FusedResult, 0, len(hits))
	for _, h := range hits {
		raw := h.ToRawResult()
		out = append(out, searchtypes.FusedResult{
			URL:     searchtypes.NormalizeURL(raw.URL),
			Title:   raw.Title,
			Snippet: raw.Snippet,
			Engines: map[searchtypes.BackendID]struct{}{raw.Backend: {}},
			Ranks:   map[searchtypes.BackendID]int{raw.Backend: 1},
			Scores:  map[searchtypes.BackendID]float64{raw.Backend: raw.Score},
			Final:   raw.Score + o.cfg.LocalScoreBoost,
			Source:  searchtypes.SourceLocal,
		})
	}
	return out
}

// mergeLocalResults folds local into web, keyed by normalized URL, so a
// document indexed locally and also returned by a web backend surfaces
// once. A colliding local hit boosts the existing web entry's score and
// contributes its engine/rank/score to the group instead of appending a
// second entry for the same URL.
func (o *Orchestrator) mergeLocalResults(web []searchtypes.FusedResult, local []searchtypes.FusedResult) []searchtypes.FusedResult {
	if len(local) == 0 {
		return web
	}
	byURL := make(map[string]int, len(web))
	for i, f := range web {
		byURL[searchtypes.NormalizeURL(f.URL)] = i
	}

	out := web
	for _, l := range local {
		key := searchtypes.NormalizeURL(l.URL)
		if idx, ok := byURL[key]; ok {
			existing := &out[idx]
			for backend := range l.Engines {
				existing.Engines[backend] = struct{}{}
			}
			for backend, rank := range l.Ranks {
				existing.Ranks[backend] = rank
			}
			for backend, score := range l.Scores {
				existing.Scores[backend] = score
			}
			existing.Final += o.cfg.LocalScoreBoost
			continue
		}
		byURL[key] = len(out)
		out = append(out, l)
	}
	return out
}

// recordImpressions records one impression per displayed result and the
// originating backend, per spec.md §4.7.
func (o *Orchestrator) recordImpressions(q searchtypes.Query, category searchtypes.Category, results []searchtypes.FusedResult) {
	for _, r := range results {
		for b := range r.Engines {
			o.feedback.RecordImpressions(b, category, 1)
		}
	}
}

// recordQueryMetrics computes unique-domain count and the backend-
// agreement count (results produced by more than one backend) for C7's
// simplified MRR estimate.
func (o *Orchestrator) recordQueryMetrics(category searchtypes.Category, results []searchtypes.FusedResult) {
	domains := make(map[string]struct{})
	agreement := 0
	for _, r := range results {
		if u, err := url.Parse(r.URL); err == nil && u.Host != "" {
			domains[u.Host] = struct{}{}
		} else {
			domains[r.URL] = struct{}{}
		}
		if len(r.Engines) > 1 {
			agreement++
		}
	}
	o.metrics.RecordQuery(category, len(results), len(domains), agreement)
}

// RecordClick forwards a CLICK signal to C8, per spec.md §4.8's separate
// click-recording operation.
func (o *Orchestrator) RecordClick(query string, category searchtypes.Category, backend searchtypes.BackendID, resultURL string, position int) {
	o.feedback.RecordEvent(searchtypes.FeedbackEvent{
		Query: query, Category: category, Backend: backend, URL: resultURL,
		Position: position, Signal: searchtypes.SignalClick, Timestamp: o.now(),
	})
}
