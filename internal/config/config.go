// Package config assembles the root Config struct from environment
// variables, following the teacher gateway's one-struct-per-component
// layout: every component in internal/ owns a small config struct here,
// populated with typed defaults and validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration object, composed of one nested struct
// per pipeline component (C1-C10) plus the HTTP server surface.
type Config struct {
	Server   ServerConfig
	Throttle ThrottleConfig
	Classifier ClassifierConfig
	Cache    CacheConfig
	LocalIndex LocalIndexConfig
	Fusion   FusionConfig
	Rerank   RerankConfig
	Metrics  MetricsConfig
	Feedback FeedbackConfig
	Backend  BackendConfig
	Security SecurityConfig
	LogLevel  string
	LogFormat string
}

// ServerConfig configures the gin HTTP surface.
type ServerConfig struct {
	Addr           string
	GinMode        string
	JWTSecret      string
	AuthEnabled    bool
	AllowedOrigins []string
}

// ThrottleConfig configures C1's pacing and circuit-breaker thresholds.
type ThrottleConfig struct {
	HumanPaceRate      float64       // λ, requests/sec, default 0.5
	MinDelay           time.Duration // 0.5s
	MaxDelay           time.Duration // 6.0s
	BackoffBase        time.Duration // 1s
	BackoffCap         time.Duration // 60s
	FailureThreshold   int           // consecutive failures -> OPEN, default 3
	RecoveryTimeout    time.Duration // default 60s
	AntiBotTimeoutCap  time.Duration // max recovery timeout for captcha/access_denied, default 600s
}

// ClassifierConfig configures C2.
type ClassifierConfig struct {
	MinConfidence float64 // multi-route inclusion threshold, default 0.3
	MaxEngines    int     // combined engine list cap, default 6
}

// CacheConfig configures C3's two tiers.
type CacheConfig struct {
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	L1TTL            time.Duration // default 3600s
	L2TTL            time.Duration // default 86400s
	SimilarityThresh float64       // τ, default 0.80
	MaxCachedResults int           // default 20
	EmbeddingDim     int           // default 768
	LatencyRingSize  int           // default 100
}

// LocalIndexConfig configures C4.
type LocalIndexConfig struct {
	IndexDir      string
	ChunkSize     int // characters, default 1000
	ChunkOverlap  int // characters, default 200
	DefaultTopN   int // default 5
	WatchEnabled  bool
}

// FusionConfig configures C5.
type FusionConfig struct {
	RRFConstant   int     // k, default 60
	BordaRMax     int     // default 100
	HybridRRFWeight float64 // default 0.6, weighted gets 1-this
	DefaultMethod string
	CandidateMultiplier int // top_k multiplier for fused candidates, default 2
}

// RerankConfig configures C6.
type RerankConfig struct {
	Endpoint   string // gRPC target for the cross-encoder model
	TopK       int    // default 20
	BatchSize  int    // default 16
	MaxLength  int    // default 512 tokens
	HybridWeight float64 // w, default 0.7
	Timeout    time.Duration
}

// MetricsConfig configures C7.
type MetricsConfig struct {
	RingSize int // default 100
}

// FeedbackConfig configures C8.
type FeedbackConfig struct {
	MinSamples  int           // default 10
	RingSize    int           // events per category, default 1000
	HalfLife    time.Duration // engagement decay half-life, default 14 days
}

// BackendConfig configures C10.
type BackendConfig struct {
	BaseURL          string
	HTTPTimeout      time.Duration // default 30s
	EmbeddingBaseURL string
	EmbeddingTimeout time.Duration
	ImpersonateTLS   bool
	SessionTTL       time.Duration // default 300s
	UseBrowserFallback bool
}

// SecurityConfig configures internal/security's local JWT/API-key
// authenticator, which guards the /search and /feedback/click endpoints
// when Server.AuthEnabled is set.
type SecurityConfig struct {
	JWTSecret       string
	TokenExpiration time.Duration // default 24h
	APIKeyPrefix    string        // default "sgw_"
	MaxAPIKeys      int           // per-user cap, default 10
	MaxRequestSize  int64         // bytes, default 1MiB
	LoginBanWindow  time.Duration // brute-force ban duration, default 15m
}

// New builds a Config from environment variables (and a .env file, if
// present — loaded by the caller via godotenv before New is called),
// applying the per-field defaults noted on the structs above.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        getEnv("SEARCHGW_ADDR", ":8080"),
			GinMode:     getEnv("GIN_MODE", "release"),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			AuthEnabled: getEnvBool("AUTH_ENABLED", false),
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Throttle: ThrottleConfig{
			HumanPaceRate:     getEnvFloat("THROTTLE_RATE", 0.5),
			MinDelay:          getEnvDuration("THROTTLE_MIN_DELAY", 500*time.Millisecond),
			MaxDelay:          getEnvDuration("THROTTLE_MAX_DELAY", 6*time.Second),
			BackoffBase:       getEnvDuration("THROTTLE_BACKOFF_BASE", time.Second),
			BackoffCap:        getEnvDuration("THROTTLE_BACKOFF_CAP", 60*time.Second),
			FailureThreshold:  getEnvInt("THROTTLE_FAILURE_THRESHOLD", 3),
			RecoveryTimeout:   getEnvDuration("THROTTLE_RECOVERY_TIMEOUT", 60*time.Second),
			AntiBotTimeoutCap: getEnvDuration("THROTTLE_ANTIBOT_CAP", 600*time.Second),
		},
		Classifier: ClassifierConfig{
			MinConfidence: getEnvFloat("CLASSIFIER_MIN_CONFIDENCE", 0.3),
			MaxEngines:    getEnvInt("CLASSIFIER_MAX_ENGINES", 6),
		},
		Cache: CacheConfig{
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("REDIS_DB", 0),
			L1TTL:            getEnvDuration("CACHE_L1_TTL", 3600*time.Second),
			L2TTL:            getEnvDuration("CACHE_L2_TTL", 86400*time.Second),
			SimilarityThresh: getEnvFloat("CACHE_L2_SIMILARITY_THRESHOLD", 0.80),
			MaxCachedResults: getEnvInt("CACHE_MAX_RESULTS", 20),
			EmbeddingDim:     getEnvInt("CACHE_EMBEDDING_DIM", 768),
			LatencyRingSize:  getEnvInt("CACHE_LATENCY_RING_SIZE", 100),
		},
		LocalIndex: LocalIndexConfig{
			IndexDir:     getEnv("LOCAL_INDEX_DIR", "./data/localindex"),
			ChunkSize:    getEnvInt("LOCAL_INDEX_CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvInt("LOCAL_INDEX_CHUNK_OVERLAP", 200),
			DefaultTopN:  getEnvInt("LOCAL_INDEX_TOP_N", 5),
			WatchEnabled: getEnvBool("LOCAL_INDEX_WATCH", false),
		},
		Fusion: FusionConfig{
			RRFConstant:         getEnvInt("FUSION_RRF_K", 60),
			BordaRMax:           getEnvInt("FUSION_BORDA_RMAX", 100),
			HybridRRFWeight:     getEnvFloat("FUSION_HYBRID_RRF_WEIGHT", 0.6),
			DefaultMethod:       getEnv("FUSION_DEFAULT_METHOD", "rrf"),
			CandidateMultiplier: getEnvInt("FUSION_CANDIDATE_MULTIPLIER", 2),
		},
		Rerank: RerankConfig{
			Endpoint:     getEnv("RERANK_ENDPOINT", "localhost:50051"),
			TopK:         getEnvInt("RERANK_TOP_K", 20),
			BatchSize:    getEnvInt("RERANK_BATCH_SIZE", 16),
			MaxLength:    getEnvInt("RERANK_MAX_LENGTH", 512),
			HybridWeight: getEnvFloat("RERANK_HYBRID_WEIGHT", 0.7),
			Timeout:      getEnvDuration("RERANK_TIMEOUT", 10*time.Second),
		},
		Metrics: MetricsConfig{
			RingSize: getEnvInt("METRICS_RING_SIZE", 100),
		},
		Feedback: FeedbackConfig{
			MinSamples: getEnvInt("FEEDBACK_MIN_SAMPLES", 10),
			RingSize:   getEnvInt("FEEDBACK_RING_SIZE", 1000),
			HalfLife:   getEnvDuration("FEEDBACK_HALF_LIFE", 14*24*time.Hour),
		},
		Backend: BackendConfig{
			BaseURL:            getEnv("BACKEND_BASE_URL", "http://localhost:8888"),
			HTTPTimeout:        getEnvDuration("BACKEND_HTTP_TIMEOUT", 30*time.Second),
			EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
			EmbeddingTimeout:   getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			ImpersonateTLS:     getEnvBool("BACKEND_IMPERSONATE_TLS", false),
			SessionTTL:         getEnvDuration("BACKEND_SESSION_TTL", 300*time.Second),
			UseBrowserFallback: getEnvBool("BACKEND_BROWSER_FALLBACK", false),
		},
		Security: SecurityConfig{
			JWTSecret:       getEnv("JWT_SECRET", ""),
			TokenExpiration: getEnvDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
			APIKeyPrefix:    getEnv("API_KEY_PREFIX", "sgw_"),
			MaxAPIKeys:      getEnvInt("MAX_API_KEYS_PER_USER", 10),
			MaxRequestSize:  int64(getEnvInt("MAX_REQUEST_SIZE_BYTES", 1<<20)),
			LoginBanWindow:  getEnvDuration("LOGIN_BAN_WINDOW", 15*time.Minute),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Validate checks the fields that must hold for the pipeline to start.
func (c *Config) Validate() error {
	if c.Cache.SimilarityThresh < 0 || c.Cache.SimilarityThresh > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in [0,1], got %f", c.Cache.SimilarityThresh)
	}
	if c.Throttle.FailureThreshold <= 0 {
		return fmt.Errorf("throttle.failure_threshold must be positive")
	}
	if c.Fusion.HybridRRFWeight < 0 || c.Fusion.HybridRRFWeight > 1 {
		return fmt.Errorf("fusion.hybrid_rrf_weight must be in [0,1]")
	}
	if c.Rerank.HybridWeight < 0 || c.Rerank.HybridWeight > 1 {
		return fmt.Errorf("rerank.hybrid_weight must be in [0,1]")
	}
	if c.Server.AuthEnabled && c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is required when auth is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
