// Package fusion combines per-backend ranked result lists into a single
// ordering (C5). The grouping-and-scoring shape is ported from
// amanmcp's internal/search RRFFusion; weighted/borda/hybrid scores and
// URL-based grouping are SPEC_FULL.md additions for the multi-backend
// (rather than BM25-vs-vector) fusion case.
package fusion

import (
	"sort"

	"go-aigateway/pkg/searchtypes"
)

// Weights maps a backend to its fusion weight. Callers derive this from
// static defaults optionally scaled by the feedback-learner's recommended
// weight for the active category, clamped to [0.5, 2.0].
type Weights map[searchtypes.BackendID]float64

func (w Weights) get(b searchtypes.BackendID) float64 {
	if v, ok := w[b]; ok {
		return v
	}
	return 1.0
}

// Config holds the tunable constants from spec.md §4.5.
type Config struct {
	RRFConstant     int     // k, default 60
	BordaRMax       int     // default 100
	HybridRRFWeight float64 // default 0.6, weighted gets 1-this
	Normalizer      searchtypes.URLNormalizer
}

// DefaultConfig returns the spec's literal defaults.
func DefaultConfig() Config {
	return Config{
		RRFConstant:     60,
		BordaRMax:       100,
		HybridRRFWeight: 0.6,
		Normalizer:      searchtypes.NormalizeURL,
	}
}

// Fuser groups and scores raw per-backend result lists.
type Fuser struct {
	cfg Config
}

// New builds a Fuser. A zero-value Config.Normalizer falls back to
// searchtypes.NormalizeURL.
func New(cfg Config) *Fuser {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = 60
	}
	if cfg.BordaRMax <= 0 {
		cfg.BordaRMax = 100
	}
	if cfg.HybridRRFWeight == 0 {
		cfg.HybridRRFWeight = 0.6
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = searchtypes.NormalizeURL
	}
	return &Fuser{cfg: cfg}
}

// Fuse groups raw results by normalized URL across backends, scores each
// group under every fusion method, and returns the method requested by
// `method` sorted descending with deterministic tie-breaking.
func (f *Fuser) Fuse(byBackend map[searchtypes.BackendID][]searchtypes.RawResult, weights Weights, method searchtypes.FusionMethod) []searchtypes.FusedResult {
	groups := make(map[string]*searchtypes.FusedResult)
	order := make([]string, 0)

	totalBackends := len(byBackend)

	for backend, results := range byBackend {
		for rank, r := range results {
			key := f.cfg.Normalizer(r.URL)
			g, ok := groups[key]
			if !ok {
				g = &searchtypes.FusedResult{
					URL:     r.URL,
					Title:   r.Title,
					Snippet: r.Snippet,
					Engines: make(map[searchtypes.BackendID]struct{}),
					Ranks:   make(map[searchtypes.BackendID]int),
					Scores:  make(map[searchtypes.BackendID]float64),
					Source:  searchtypes.SourceWeb,
				}
				groups[key] = g
				order = append(order, key)
			}
			g.Engines[backend] = struct{}{}
			g.Ranks[backend] = rank + 1 // 1-indexed
			if r.HasScore {
				g.Scores[backend] = r.Score
			}
			if len(r.Title) > len(g.Title) {
				g.Title = r.Title
			}
			if len(r.Snippet) > len(g.Snippet) {
				g.Snippet = r.Snippet
			}
		}
	}

	results := make([]*searchtypes.FusedResult, 0, len(order))
	for _, key := range order {
		results = append(results, groups[key])
	}

	for _, g := range results {
		g.RRF = f.rrfScore(g, weights)
		g.Weighted = f.weightedScore(g, weights)
		g.Borda = f.bordaScore(g, weights, totalBackends)
		g.Final = f.selectFinal(g, method)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return f.less(results[i], results[j])
	})

	out := make([]searchtypes.FusedResult, len(results))
	for i, g := range results {
		out[i] = *g
	}
	return out
}

// rrfScore: Σ_b weight[b] / (k + rank_b).
func (f *Fuser) rrfScore(g *searchtypes.FusedResult, weights Weights) float64 {
	var sum float64
	for b, rank := range g.Ranks {
		sum += weights.get(b) / float64(f.cfg.RRFConstant+rank)
	}
	return sum
}

// weightedScore: (Σ_b weight[b]*score_b) / Σ_b weight[b] + 0.1*(|engines|-1).
func (f *Fuser) weightedScore(g *searchtypes.FusedResult, weights Weights) float64 {
	var numer, denom float64
	for b, score := range g.Scores {
		w := weights.get(b)
		numer += w * score
		denom += w
	}
	if denom == 0 {
		// No backend reported a native score: the numerator stays 0, so
		// the base term is 0 and only the multi-engine bonus below counts.
		for b := range g.Ranks {
			denom += weights.get(b)
		}
	}
	var base float64
	if denom > 0 {
		base = numer / denom
	}
	return base + 0.1*float64(len(g.Engines)-1)
}

// bordaScore: Σ_b weight[b]*(R_max-rank_b+1) / (|backends_total|*R_max).
func (f *Fuser) bordaScore(g *searchtypes.FusedResult, weights Weights, totalBackends int) float64 {
	if totalBackends == 0 {
		return 0
	}
	rMax := f.cfg.BordaRMax
	var sum float64
	for b, rank := range g.Ranks {
		points := rMax - rank + 1
		if points < 0 {
			points = 0
		}
		sum += weights.get(b) * float64(points)
	}
	return sum / (float64(totalBackends) * float64(rMax))
}

func (f *Fuser) selectFinal(g *searchtypes.FusedResult, method searchtypes.FusionMethod) float64 {
	switch method {
	case searchtypes.FusionWeighted:
		return g.Weighted
	case searchtypes.FusionBorda:
		return g.Borda
	case searchtypes.FusionHybrid:
		return f.cfg.HybridRRFWeight*g.RRF + (1-f.cfg.HybridRRFWeight)*g.Weighted
	case searchtypes.FusionRRF:
		return g.RRF
	default:
		return g.RRF
	}
}

// less implements the group ordering: Final desc, |engines| desc,
// normalized URL asc.
func (f *Fuser) less(a, b *searchtypes.FusedResult) bool {
	if a.Final != b.Final {
		return a.Final > b.Final
	}
	if len(a.Engines) != len(b.Engines) {
		return len(a.Engines) > len(b.Engines)
	}
	return f.cfg.Normalizer(a.URL) < f.cfg.Normalizer(b.URL)
}
