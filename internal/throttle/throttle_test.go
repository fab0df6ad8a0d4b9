package throttle

import (
	"context"
	"testing"
	"time"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically without sleeping.
type fakeClock struct {
	t time.Time
}

func newThrottlerForTest() (*Throttler, *fakeClock) {
	th := New(DefaultConfig())
	clk := &fakeClock{t: time.Unix(0, 0)}
	th.now = func() time.Time { return clk.t }
	th.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return th, clk
}

func TestCircuitOpensAfterFailureThreshold(t *testing.T) {
	th, _ := newThrottlerForTest()
	backend := searchtypes.BackendID("brave")

	for i := 0; i < 3; i++ {
		th.RecordFailure(backend, FailureRateLimit)
	}

	snap := th.Snapshot(backend)
	assert.Equal(t, Open, snap.State)

	err := th.Acquire(context.Background(), backend)
	require.Error(t, err)
	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCircuitOpen, code)
}

func TestCircuitHalfOpensAfterRecoveryTimeoutThenCloses(t *testing.T) {
	th, clk := newThrottlerForTest()
	backend := searchtypes.BackendID("bing")

	for i := 0; i < 3; i++ {
		th.RecordFailure(backend, FailureHTTP)
	}
	require.Equal(t, Open, th.Snapshot(backend).State)

	clk.t = clk.t.Add(61 * time.Second)

	err := th.Acquire(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, HalfOpen, th.Snapshot(backend).State)

	th.RecordSuccess(backend)
	assert.Equal(t, Closed, th.Snapshot(backend).State)
}

func TestHalfOpenFailureReopensCircuit(t *testing.T) {
	th, clk := newThrottlerForTest()
	backend := searchtypes.BackendID("duckduckgo")

	for i := 0; i < 3; i++ {
		th.RecordFailure(backend, FailureTimeout)
	}
	clk.t = clk.t.Add(61 * time.Second)
	require.NoError(t, th.Acquire(context.Background(), backend))
	require.Equal(t, HalfOpen, th.Snapshot(backend).State)

	th.RecordFailure(backend, FailureTimeout)

	assert.Equal(t, Open, th.Snapshot(backend).State)
}

func TestCaptchaDoublesRecoveryTimeoutUpToCap(t *testing.T) {
	th, _ := newThrottlerForTest()
	backend := searchtypes.BackendID("google")

	for i := 0; i < 3; i++ {
		th.RecordFailure(backend, FailureCaptcha)
	}
	first := th.Snapshot(backend).RecoveryTimeout
	assert.Greater(t, first, th.cfg.RecoveryTimeout)

	for i := 0; i < 10; i++ {
		th.RecordFailure(backend, FailureCaptcha)
	}
	capped := th.Snapshot(backend).RecoveryTimeout
	assert.LessOrEqual(t, capped, th.cfg.AntiBotTimeoutCap)
}

func TestFullJitterBackoffWithinBounds(t *testing.T) {
	th, _ := newThrottlerForTest()

	for failures := 0; failures < 10; failures++ {
		for i := 0; i < 50; i++ {
			d := th.fullJitterBackoff(failures)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, th.cfg.BackoffCap)
		}
	}
}

func TestDecorrelatedJitterWithinBounds(t *testing.T) {
	th, _ := newThrottlerForTest()
	prev := th.cfg.BackoffBase

	for i := 0; i < 50; i++ {
		d := th.decorrelatedJitter(prev)
		assert.GreaterOrEqual(t, d, th.cfg.BackoffBase)
		assert.LessOrEqual(t, d, th.cfg.BackoffCap)
	}
}

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	th, _ := newThrottlerForTest()
	backend := searchtypes.BackendID("brave")

	th.RecordFailure(backend, FailureHTTP)
	th.RecordFailure(backend, FailureHTTP)
	require.Equal(t, 2, th.Snapshot(backend).ConsecutiveFailures)

	th.RecordSuccess(backend)

	assert.Equal(t, 0, th.Snapshot(backend).ConsecutiveFailures)
	assert.Equal(t, Closed, th.Snapshot(backend).State)
}

func TestIndependentBackendsDoNotShareCircuitState(t *testing.T) {
	th, _ := newThrottlerForTest()

	for i := 0; i < 3; i++ {
		th.RecordFailure(searchtypes.BackendID("a"), FailureHTTP)
	}

	assert.Equal(t, Open, th.Snapshot(searchtypes.BackendID("a")).State)
	assert.Equal(t, Closed, th.Snapshot(searchtypes.BackendID("b")).State)
}
