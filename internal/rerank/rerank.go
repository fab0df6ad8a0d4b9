// Package rerank wraps a cross-encoder scoring service (C6). The
// Reranker interface and NoOp fallback are grounded on amanmcp's
// internal/search Reranker/NoOpReranker; the gRPC transport and
// single-flight connection guard follow the teacher's
// internal/protocol.ProtocolConverter (raw grpc.ClientConn dialing,
// invoked without generated stubs via structpb messages).
package rerank

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Document is one candidate handed to the reranker: its concatenated
// title+snippet text plus an index back into the caller's result slice.
type Document struct {
	Index int
	Text  string
}

// Scored annotates a Document with the cross-encoder and hybrid scores
// defined in spec.md §4.6.
type Scored struct {
	Index            int
	CrossEncoderScore float64
	FinalScore       float64
}

// Config holds §4.6's tunables.
type Config struct {
	Endpoint     string
	TopK         int     // default 20
	BatchSize    int     // default 16
	MaxLength    int     // default 512 (tokens, advisory only at this layer)
	HybridWeight float64 // w, default 0.7
}

// DefaultConfig returns the spec's literal defaults.
func DefaultConfig() Config {
	return Config{TopK: 20, BatchSize: 16, MaxLength: 512, HybridWeight: 0.7}
}

// Scorer is the minimal cross-encoder contract; Gateway depends on this
// so the gRPC transport can be swapped for a test double.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Gateway applies a Scorer to a candidate batch and blends cross-encoder
// scores with rank-based scores, falling back to input order when the
// scorer is unavailable.
type Gateway struct {
	cfg    Config
	scorer Scorer
	group  singleflight.Group
}

// New builds a Gateway around scorer (nil is allowed; Rerank then always
// takes the fallback path).
func New(cfg Config, scorer Scorer) *Gateway {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 512
	}
	if cfg.HybridWeight == 0 {
		cfg.HybridWeight = 0.7
	}
	return &Gateway{cfg: cfg, scorer: scorer}
}

// Rerank scores docs against query and returns them sorted by
// FinalScore descending, truncated to top_k. applied reports whether the
// cross-encoder actually ran (false on fallback).
func (g *Gateway) Rerank(ctx context.Context, query string, docs []Document) (results []Scored, applied bool) {
	rankScore := func(i int) float64 { return 1 - float64(i)*0.05 }

	if g.scorer == nil {
		return g.fallback(docs, rankScore), false
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	// Single-flight: concurrent callers for the same query+batch await
	// one in-flight scoring call instead of issuing duplicate RPCs.
	key := query
	for _, t := range texts {
		key += "\x00" + t
	}
	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		return g.scorer.Score(ctx, query, texts)
	})
	if err != nil {
		return g.fallback(docs, rankScore), false
	}
	ceScores := v.([]float64)
	if len(ceScores) != len(docs) {
		return g.fallback(docs, rankScore), false
	}

	normalized := minMaxNormalize(ceScores)

	out := make([]Scored, len(docs))
	for i, d := range docs {
		final := g.cfg.HybridWeight*normalized[i] + (1-g.cfg.HybridWeight)*rankScore(i)
		out[i] = Scored{Index: d.Index, CrossEncoderScore: ceScores[i], FinalScore: final}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	if len(out) > g.cfg.TopK {
		out = out[:g.cfg.TopK]
	}
	return out, true
}

// fallback preserves input order with synthetic descending scores, per
// spec.md §4.6 ("the gateway returns the input order unchanged with
// synthetic descending scores and flags rerank.applied = false").
func (g *Gateway) fallback(docs []Document, rankScore func(int) float64) []Scored {
	out := make([]Scored, len(docs))
	for i, d := range docs {
		s := rankScore(i)
		out[i] = Scored{Index: d.Index, CrossEncoderScore: s, FinalScore: s}
	}
	if len(out) > g.cfg.TopK {
		out = out[:g.cfg.TopK]
	}
	return out
}

// minMaxNormalize scales scores to [0,1]; a zero range (all scores equal)
// maps every value to 1.0 to avoid a divide-by-zero guard failure.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	span := max - min
	for i, s := range scores {
		if span == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = (s - min) / span
	}
	return out
}

// GRPCScorer calls a remote cross-encoder service over a raw
// grpc.ClientConn, without generated stubs: requests and responses are
// structpb.Struct messages, matching the teacher's
// internal/protocol.ProtocolConverter style of dialing a ClientConn and
// invoking a named method directly.
type GRPCScorer struct {
	target string
	mu     sync.Mutex
	conn   *grpc.ClientConn
}

// NewGRPCScorer builds a scorer that lazily dials target on first use.
func NewGRPCScorer(target string) *GRPCScorer {
	return &GRPCScorer{target: target}
}

func (s *GRPCScorer) connection() (*grpc.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := grpc.Dial(s.target, grpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Score invokes the cross-encoder's Score RPC with a single request
// carrying the query and every text, returning scores in the same order
// as texts.
func (s *GRPCScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"query": query,
		"texts": toAnySlice(texts),
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/searchgw.rerank.v1.Reranker/Score", req, resp); err != nil {
		return nil, err
	}

	values := resp.Fields["scores"].GetListValue().GetValues()
	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = v.GetNumberValue()
	}
	return scores, nil
}

// Close releases the underlying gRPC connection, if one was dialed.
func (s *GRPCScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func toAnySlice(texts []string) []interface{} {
	out := make([]interface{}, len(texts))
	for i, t := range texts {
		out[i] = t
	}
	return out
}
