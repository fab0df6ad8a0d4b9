package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	apperrors "go-aigateway/internal/errors"
)

// EmbeddingConfig configures the embedding collaborator used by C3's L2
// semantic cache.
type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	CacheSize  int
}

// DefaultEmbeddingConfig mirrors the teacher pack's Ollama-embedder
// defaults (amanmcp/internal/embed), adapted to this module's embedding
// dimension default of 768.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "nomic-embed-text",
		Dimensions: 768,
		Timeout:    30 * time.Second,
		CacheSize:  4096,
	}
}

// EmbeddingClient computes text embeddings over HTTP, caching results by
// normalized query text and single-flighting concurrent identical calls,
// grounded on amanmcp/internal/embed's OllamaEmbedder (HTTP-based
// embedding provider with connection pooling) and its CachedEmbedder
// wrapper (LRU front-end over a slow embedder).
type EmbeddingClient struct {
	cfg   EmbeddingConfig
	http  *http.Client
	cache *lru.Cache[string, []float64]
	group singleflight.Group
}

// NewEmbeddingClient builds an EmbeddingClient.
func NewEmbeddingClient(cfg EmbeddingConfig) (*EmbeddingClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	cache, err := lru.New[string, []float64](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
	}, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector for text, serving from the LRU cache when
// present and single-flighting concurrent misses for identical text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		if cached, ok := c.cache.Get(text); ok {
			return cached, nil
		}
		vec, err := c.fetch(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

func (c *EmbeddingClient) fetch(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.CodeBackendTransient, fmt.Sprintf("embedding service returned %d", resp.StatusCode))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "decode embedding response", err)
	}
	return parsed.Embedding, nil
}
