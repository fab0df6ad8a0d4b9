// Package cache implements the two-tier result cache (C3): an exact-hash
// L1 over a key-value store and a semantic-similarity L2 over a vector
// index, both keyed by fingerprint/embedding of the normalized query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/redis/go-redis/v9"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"
)

// Level identifies which tier satisfied a get, or that neither did.
type Level string

const (
	LevelL1   Level = "l1"
	LevelL2   Level = "l2"
	LevelMiss Level = "miss"
)

// Embedder is the subset of internal/backend.EmbeddingClient the cache
// needs to compute L2 keys; a narrow local interface keeps this package
// free of a dependency on the backend package and lets tests fake it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config configures the cache, per spec.md §4.3's literal defaults.
type Config struct {
	L1TTL                time.Duration
	L2TTL                time.Duration
	SimilarityThreshold  float64
	MaxCachedResults     int
	EmbeddingDimensions  int
	RingSize             int
	L1KeyPrefix          string
}

// DefaultConfig returns spec.md's defaults: L1 TTL 3600s, L2 TTL 86400s,
// similarity threshold 0.80 (see DESIGN.md's Open Question decision),
// max_cached_results 20.
func DefaultConfig() Config {
	return Config{
		L1TTL:               3600 * time.Second,
		L2TTL:               86400 * time.Second,
		SimilarityThreshold: 0.80,
		MaxCachedResults:    20,
		EmbeddingDimensions: 768,
		RingSize:            100,
		L1KeyPrefix:         "search:",
	}
}

// ring is a bounded FIFO of latency samples, the same shape used by
// internal/metrics and internal/feedback.
type ring struct {
	mu      sync.Mutex
	samples []float64
	size    int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 100
	}
	return &ring{size: size}
}

func (r *ring) add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, v)
	if len(r.samples) > r.size {
		r.samples = r.samples[len(r.samples)-r.size:]
	}
}

func (r *ring) mean() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.samples {
		sum += v
	}
	return sum / float64(len(r.samples))
}

// Cache is the two-tier cache. L1 is backed by Redis; L2 is an in-process
// cosine HNSW graph over query embeddings, with the full CacheEntry kept
// alongside each vector key so an L2 hit is self-sufficient, per spec.md
// §4.3 ("L2 payload contains the full CacheEntry").
type Cache struct {
	cfg      Config
	redis    *redis.Client
	embedder Embedder

	l1Latency *ring
	l2Latency *ring

	mu       sync.Mutex
	graph    *hnsw.Graph[uint64]
	nextKey  uint64
	payloads map[uint64]*searchtypes.CacheEntry
	now      func() time.Time
}

// New builds a Cache. embedder may be nil, in which case L2 lookups and
// writes are skipped (L1-only operation), matching the source's graceful
// degradation when an optional collaborator is unavailable.
func New(cfg Config, redisClient *redis.Client, embedder Embedder) *Cache {
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = 3600 * time.Second
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = 86400 * time.Second
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.80
	}
	if cfg.MaxCachedResults <= 0 {
		cfg.MaxCachedResults = 20
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 100
	}
	if cfg.L1KeyPrefix == "" {
		cfg.L1KeyPrefix = "search:"
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &Cache{
		cfg:       cfg,
		redis:     redisClient,
		embedder:  embedder,
		l1Latency: newRing(cfg.RingSize),
		l2Latency: newRing(cfg.RingSize),
		graph:     graph,
		payloads:  make(map[uint64]*searchtypes.CacheEntry),
		now:       time.Now,
	}
}

// Fingerprint computes the L1 exact-match key: H(normalized_query || "|"
// || sorted_backends), per spec.md §4.3.
func Fingerprint(normalizedQuery string, backends []searchtypes.BackendID) string {
	sorted := make([]string, len(backends))
	for i, b := range backends {
		sorted[i] = string(b)
	}
	sort.Strings(sorted)

	key := normalizedQuery + "|" + strings.Join(sorted, ",")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Get probes L1 then L2 for a cached entry, per spec.md §4.3's get
// algorithm.
func (c *Cache) Get(ctx context.Context, normalizedQuery string, backends []searchtypes.BackendID) (*searchtypes.CacheEntry, Level) {
	fingerprint := Fingerprint(normalizedQuery, backends)

	if entry := c.getL1(ctx, fingerprint); entry != nil {
		entry.Hits++
		return entry, LevelL1
	}

	if entry := c.getL2(ctx, normalizedQuery); entry != nil {
		entry.Hits++
		return entry, LevelL2
	}

	return nil, LevelMiss
}

func (c *Cache) getL1(ctx context.Context, fingerprint string) *searchtypes.CacheEntry {
	if c.redis == nil {
		return nil
	}

	start := c.now()
	raw, err := c.redis.Get(ctx, c.cfg.L1KeyPrefix+fingerprint).Result()
	c.l1Latency.add(c.now().Sub(start).Seconds() * 1000)
	if err != nil {
		return nil
	}

	var entry searchtypes.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil
	}
	if entry.Expired(c.now()) {
		return nil
	}
	return &entry
}

func (c *Cache) getL2(ctx context.Context, normalizedQuery string) *searchtypes.CacheEntry {
	if c.embedder == nil {
		return nil
	}

	start := c.now()
	vec, err := c.embedder.Embed(ctx, normalizedQuery)
	if err != nil {
		return nil
	}

	query := toFloat32(vec)

	c.mu.Lock()
	if c.graph.Len() == 0 {
		c.mu.Unlock()
		c.l2Latency.add(c.now().Sub(start).Seconds() * 1000)
		return nil
	}
	neighbors := c.graph.Search(query, 1)
	c.mu.Unlock()

	c.l2Latency.add(c.now().Sub(start).Seconds() * 1000)
	if len(neighbors) == 0 {
		return nil
	}

	best := neighbors[0]
	distance := hnsw.CosineDistance(query, best.Value)
	similarity := 1.0 - float64(distance)/2.0
	if similarity < c.cfg.SimilarityThreshold {
		return nil
	}

	c.mu.Lock()
	payload, ok := c.payloads[best.Key]
	c.mu.Unlock()
	if !ok || payload.Expired(c.now()) {
		return nil
	}
	return payload.Clone()
}

// Put truncates results to max_cached_results and writes the entry to
// both tiers, best-effort: a failure in one tier does not prevent the
// write to the other, per spec.md §4.3's consistency contract.
func (c *Cache) Put(ctx context.Context, normalizedQuery string, results []searchtypes.FusedResult, backends []searchtypes.BackendID) error {
	if len(results) > c.cfg.MaxCachedResults {
		results = results[:c.cfg.MaxCachedResults]
	}

	fingerprint := Fingerprint(normalizedQuery, backends)
	entry := &searchtypes.CacheEntry{
		CanonicalQuery: normalizedQuery,
		Fingerprint:    fingerprint,
		Results:        results,
		Backends:       backends,
		CreatedAt:      c.now(),
		TTL:            c.cfg.L1TTL,
	}

	var l1Err, l2Err error
	if c.redis != nil {
		l1Err = c.putL1(ctx, entry)
	}
	if c.embedder != nil {
		l2Err = c.putL2(ctx, normalizedQuery, entry)
	}

	if l1Err != nil && l2Err != nil {
		return apperrors.Wrap(apperrors.CodeCacheError, "cache put failed on both tiers", l1Err)
	}
	if l1Err != nil {
		return apperrors.Wrap(apperrors.CodeCacheError, "cache put failed on L1", l1Err)
	}
	if l2Err != nil {
		return apperrors.Wrap(apperrors.CodeCacheError, "cache put failed on L2", l2Err)
	}
	return nil
}

func (c *Cache) putL1(ctx context.Context, entry *searchtypes.CacheEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.redis.SetEx(ctx, c.cfg.L1KeyPrefix+entry.Fingerprint, body, c.cfg.L1TTL).Err()
}

func (c *Cache) putL2(ctx context.Context, normalizedQuery string, entry *searchtypes.CacheEntry) error {
	l2Entry := entry.Clone()
	l2Entry.TTL = c.cfg.L2TTL

	vec, err := c.embedder.Embed(ctx, normalizedQuery)
	if err != nil {
		return err
	}
	query := toFloat32(vec)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.nextKey
	c.nextKey++
	c.graph.Add(hnsw.MakeNode(key, query))
	c.payloads[key] = l2Entry
	return nil
}

// Invalidate deletes the fingerprint's L1 entry; L2 is left to expire by
// TTL, per spec.md §4.3 ("explicit L2 deletes are not required but
// permitted").
func (c *Cache) Invalidate(ctx context.Context, normalizedQuery string, backends []searchtypes.BackendID) error {
	if c.redis == nil {
		return nil
	}
	fingerprint := Fingerprint(normalizedQuery, backends)
	if err := c.redis.Del(ctx, c.cfg.L1KeyPrefix+fingerprint).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeCacheError, "cache invalidate failed", err)
	}
	return nil
}

// LatencyStats reports mean L1/L2 latency in milliseconds over the last
// RingSize samples.
func (c *Cache) LatencyStats() (l1MeanMS, l2MeanMS float64) {
	return c.l1Latency.mean(), c.l2Latency.mean()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
