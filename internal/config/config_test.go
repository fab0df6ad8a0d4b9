package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	os.Clearenv()

	cfg := New()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.GinMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Throttle.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Throttle.RecoveryTimeout)
	assert.Equal(t, 0.80, cfg.Cache.SimilarityThresh)
	assert.Equal(t, 3600*time.Second, cfg.Cache.L1TTL)
	assert.Equal(t, 86400*time.Second, cfg.Cache.L2TTL)
	assert.Equal(t, 20, cfg.Cache.MaxCachedResults)
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 10, cfg.Feedback.MinSamples)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("SEARCHGW_ADDR", ":9090")
	os.Setenv("CACHE_L2_SIMILARITY_THRESHOLD", "0.9")
	os.Setenv("THROTTLE_FAILURE_THRESHOLD", "5")
	os.Setenv("FUSION_DEFAULT_METHOD", "hybrid")
	defer os.Clearenv()

	cfg := New()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 0.9, cfg.Cache.SimilarityThresh)
	assert.Equal(t, 5, cfg.Throttle.FailureThreshold)
	assert.Equal(t, "hybrid", cfg.Fusion.DefaultMethod)
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	os.Clearenv()
	cfg := New()
	cfg.Cache.SimilarityThresh = 1.5

	err := cfg.Validate()

	require.Error(t, err)
}

func TestValidateRequiresJWTSecretWhenAuthEnabled(t *testing.T) {
	os.Clearenv()
	cfg := New()
	cfg.Server.AuthEnabled = true
	cfg.Server.JWTSecret = ""

	err := cfg.Validate()

	require.Error(t, err)
}

func TestInvalidDurationFallsBackToDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("THROTTLE_RECOVERY_TIMEOUT", "not-a-duration")
	defer os.Clearenv()

	cfg := New()

	assert.Equal(t, 60*time.Second, cfg.Throttle.RecoveryTimeout)
}
