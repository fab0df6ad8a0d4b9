// Command searchgw runs the core search orchestration engine: it wires
// C1-C10 together and serves them behind the gin HTTP surface in
// internal/server, following the teacher gateway's main.go shape
// (godotenv, logrus setup, graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"go-aigateway/internal/backend"
	"go-aigateway/internal/cache"
	"go-aigateway/internal/classifier"
	"go-aigateway/internal/config"
	"go-aigateway/internal/feedback"
	"go-aigateway/internal/fusion"
	"go-aigateway/internal/localindex"
	"go-aigateway/internal/metrics"
	"go-aigateway/internal/orchestrator"
	internalredis "go-aigateway/internal/redis"
	"go-aigateway/internal/rerank"
	"go-aigateway/internal/resources"
	"go-aigateway/internal/security"
	"go-aigateway/internal/server"
	"go-aigateway/internal/throttle"
	"go-aigateway/pkg/searchtypes"
)

// redisResource and localIndexResource adapt the cache backend and the
// document index to resources.ManagedResource so the resource manager's
// periodic health checks and coordinated shutdown cover both.
type redisResource struct{ client *internalredis.Client }

func (r redisResource) ID() string            { return "redis" }
func (r redisResource) Type() string          { return "cache-backend" }
func (r redisResource) Close() error          { return r.client.Close() }
func (r redisResource) HealthCheck() error    { return r.client.HealthCheck(context.Background()) }

type localIndexResource struct{ index *localindex.Index }

func (r localIndexResource) ID() string         { return "localindex" }
func (r localIndexResource) Type() string       { return "document-index" }
func (r localIndexResource) Close() error       { return r.index.Close() }
func (r localIndexResource) HealthCheck() error { return nil }

// backendResource closes the backend client's headless browser fallback
// (if one was ever launched) during coordinated shutdown.
type backendResource struct{ client *backend.Client }

func (r backendResource) ID() string         { return "backend" }
func (r backendResource) Type() string       { return "search-backend" }
func (r backendResource) Close() error       { return r.client.Close() }
func (r backendResource) HealthCheck() error { return nil }

// backendAdapter bridges the narrow orchestrator.Backend interface to
// internal/backend.Client's QueryParams type, so the orchestrator
// package need not import internal/backend directly.
type backendAdapter struct {
	client *backend.Client
}

func (a backendAdapter) Search(ctx context.Context, q orchestrator.BackendQuery) ([]searchtypes.RawResult, error) {
	return a.client.Search(ctx, backend.QueryParams{
		Text:       q.Text,
		Backends:   q.Backends,
		Categories: q.Categories,
		Language:   q.Language,
		TimeRange:  q.TimeRange,
		Page:       q.Page,
		Safesearch: q.Safesearch,
	})
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using system environment variables")
	}

	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("configuration validation failed")
	}
	setupLogging(cfg)

	redisCfg := internalredis.DefaultConfig()
	redisCfg.Addr = cfg.Cache.RedisAddr
	redisCfg.Password = cfg.Cache.RedisPassword
	redisCfg.DB = cfg.Cache.RedisDB
	redisClient, err := internalredis.NewClient(redisCfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to redis")
	}

	rm := resources.NewResourceManager(&resources.ResourceConfig{
		MaxIdleTime:     10 * time.Minute,
		HealthCheckRate: 30 * time.Second,
		CleanupTimeout:  5 * time.Second,
	})
	if err := rm.Register(redisResource{client: redisClient}); err != nil {
		logrus.WithError(err).Warn("failed to register redis with the resource manager")
	}

	embedder, err := backend.NewEmbeddingClient(backend.EmbeddingConfig{
		BaseURL: cfg.Backend.EmbeddingBaseURL,
		Timeout: cfg.Backend.EmbeddingTimeout,
		Dimensions: cfg.Cache.EmbeddingDim,
	})
	if err != nil {
		logrus.WithError(err).Warn("embedding client unavailable, semantic cache tier disabled")
	}

	cacheCfg := cache.Config{
		L1TTL:               cfg.Cache.L1TTL,
		L2TTL:               cfg.Cache.L2TTL,
		SimilarityThreshold: cfg.Cache.SimilarityThresh,
		MaxCachedResults:    cfg.Cache.MaxCachedResults,
		EmbeddingDimensions: cfg.Cache.EmbeddingDim,
		RingSize:            cfg.Cache.LatencyRingSize,
		L1KeyPrefix:         "search:",
	}
	var embedderIface cache.Embedder
	if embedder != nil {
		embedderIface = embedder
	}
	ch := cache.New(cacheCfg, redisClient.Client, embedderIface)

	var localIndex *localindex.Index
	if cfg.LocalIndex.IndexDir != "" {
		localIndex, err = localindex.New(localindex.Config{
			IndexPath:    cfg.LocalIndex.IndexDir,
			ChunkSize:    cfg.LocalIndex.ChunkSize,
			ChunkOverlap: cfg.LocalIndex.ChunkOverlap,
		})
		if err != nil {
			logrus.WithError(err).Warn("local document index unavailable, local results disabled")
			localIndex = nil
		} else if cfg.LocalIndex.WatchEnabled {
			watchCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				if err := localIndex.Watch(watchCtx, cfg.LocalIndex.IndexDir); err != nil {
					logrus.WithError(err).Error("local document watcher stopped")
				}
			}()
		}
		if localIndex != nil {
			if err := rm.Register(localIndexResource{index: localIndex}); err != nil {
				logrus.WithError(err).Warn("failed to register local index with the resource manager")
			}
		}
	}

	cls := classifier.New(cfg.Classifier.MinConfidence, cfg.Classifier.MaxEngines)
	thr := throttle.New(throttle.Config{
		HumanPaceRate:     cfg.Throttle.HumanPaceRate,
		MinDelay:          cfg.Throttle.MinDelay,
		MaxDelay:          cfg.Throttle.MaxDelay,
		BackoffBase:       cfg.Throttle.BackoffBase,
		BackoffCap:        cfg.Throttle.BackoffCap,
		FailureThreshold:  cfg.Throttle.FailureThreshold,
		RecoveryTimeout:   cfg.Throttle.RecoveryTimeout,
		AntiBotTimeoutCap: cfg.Throttle.AntiBotTimeoutCap,
	})
	be := backend.New(backend.Config{
		BaseURL:            cfg.Backend.BaseURL,
		HTTPTimeout:        cfg.Backend.HTTPTimeout,
		ImpersonateTLS:     cfg.Backend.ImpersonateTLS,
		SessionTTL:         cfg.Backend.SessionTTL,
		UseBrowserFallback: cfg.Backend.UseBrowserFallback,
	})
	if err := rm.Register(backendResource{client: be}); err != nil {
		logrus.WithError(err).Warn("failed to register backend client with the resource manager")
	}
	fu := fusion.New(fusion.Config{
		RRFConstant:     cfg.Fusion.RRFConstant,
		BordaRMax:       cfg.Fusion.BordaRMax,
		HybridRRFWeight: cfg.Fusion.HybridRRFWeight,
	})

	var scorer rerank.Scorer
	if cfg.Rerank.Endpoint != "" {
		scorer = rerank.NewGRPCScorer(cfg.Rerank.Endpoint)
	}
	rr := rerank.New(rerank.Config{
		Endpoint:     cfg.Rerank.Endpoint,
		TopK:         cfg.Rerank.TopK,
		BatchSize:    cfg.Rerank.BatchSize,
		MaxLength:    cfg.Rerank.MaxLength,
		HybridWeight: cfg.Rerank.HybridWeight,
	}, scorer)

	mt := metrics.New(cfg.Metrics.RingSize)
	fb := feedback.New(feedback.Config{
		MinSamples: cfg.Feedback.MinSamples,
		RingSize:   cfg.Feedback.RingSize,
		HalfLife:   cfg.Feedback.HalfLife,
	})

	orch := orchestrator.New(
		orchestrator.Config{
			TopK:                10,
			LocalTopN:           cfg.LocalIndex.DefaultTopN,
			LocalScoreBoost:     0.5,
			DefaultMethod:       searchtypes.FusionMethod(cfg.Fusion.DefaultMethod),
			CandidateMultiplier: cfg.Fusion.CandidateMultiplier,
		},
		cls, thr, backendAdapter{client: be}, ch, localIndex, fu, rr, mt, fb,
	)

	localAuth := security.NewLocalAuthenticator(&cfg.Security)
	router := server.New(cfg, orch, localAuth)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("failed to start search gateway")
		}
	}()
	logrus.WithField("addr", cfg.Server.Addr).Info("search gateway listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down search gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("server forced to shutdown")
	}
	if err := rm.Shutdown(10 * time.Second); err != nil {
		logrus.WithError(err).Error("resource manager shutdown incomplete")
	}
	logrus.Info("search gateway exited")
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)
}
