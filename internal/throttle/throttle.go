// Package throttle implements the per-backend pacing and circuit-breaker
// state machine (C1). It is grounded on intelligent_throttler.py's Poisson
// human-pacing model and full-jitter / decorrelated-jitter backoff, wired
// into the teacher gateway's manager+health-map shape
// (internal/providers/manager.go, internal/errors/handler.go).
package throttle

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// FailureKind influences recovery timeout computation.
type FailureKind string

const (
	FailureRateLimit    FailureKind = "rate_limit"
	FailureHTTP         FailureKind = "http"
	FailureCaptcha      FailureKind = "captcha"
	FailureAccessDenied FailureKind = "access_denied"
	FailureTimeout      FailureKind = "timeout"
	FailureUnknown      FailureKind = "unknown"
)

// Health is one backend's circuit-breaker and pacing state. Created lazily
// on first reference, lives for process lifetime.
type Health struct {
	ConsecutiveFailures int
	TotalRequests       int
	TotalFailures       int
	LastSuccess         time.Time
	LastFailure         time.Time
	State               State
	CurrentBackoff      time.Duration
	RecoveryTimeout     time.Duration
}

// Config mirrors config.ThrottleConfig; duplicated here as a narrow
// interface-free struct to keep this package free of an internal/config
// import cycle.
type Config struct {
	HumanPaceRate     float64
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	AntiBotTimeoutCap time.Duration
}

// DefaultConfig returns spec.md §4.1's literal defaults.
func DefaultConfig() Config {
	return Config{
		HumanPaceRate:     0.5,
		MinDelay:          500 * time.Millisecond,
		MaxDelay:          6 * time.Second,
		BackoffBase:       time.Second,
		BackoffCap:        60 * time.Second,
		FailureThreshold:  3,
		RecoveryTimeout:   60 * time.Second,
		AntiBotTimeoutCap: 600 * time.Second,
	}
}

// Throttler paces requests per backend and gates them behind a circuit
// breaker. All state mutation is serialized by mu; acquire's sleep happens
// outside the lock so concurrent backends are never blocked on each other.
type Throttler struct {
	mu              sync.Mutex
	cfg             Config
	health          map[searchtypes.BackendID]*Health
	lastRequestTime time.Time
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
	rng             *rand.Rand
}

// New creates a Throttler with cfg. now/sleep default to wall-clock time
// and context-aware sleeping; tests override both to run without delay.
func New(cfg Config) *Throttler {
	return &Throttler{
		cfg:    cfg,
		health: make(map[searchtypes.BackendID]*Health),
		now:    time.Now,
		sleep:  ctxSleep,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// healthFor returns (creating if absent) the Health record for backend.
// Caller must hold mu.
func (t *Throttler) healthFor(backend searchtypes.BackendID) *Health {
	h, ok := t.health[backend]
	if !ok {
		h = &Health{State: Closed, RecoveryTimeout: t.cfg.RecoveryTimeout}
		t.health[backend] = h
	}
	return h
}

// Snapshot returns a copy of a backend's health for reporting/metrics.
func (t *Throttler) Snapshot(backend searchtypes.BackendID) Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.healthFor(backend)
}

// Acquire computes the pre-request delay, sleeps it, and returns. It fails
// fast with a CircuitOpen AppError when the breaker rejects the call.
func (t *Throttler) Acquire(ctx context.Context, backend searchtypes.BackendID) error {
	t.mu.Lock()
	h := t.healthFor(backend)
	now := t.now()

	switch h.State {
	case Open:
		if now.Sub(h.LastFailure) >= h.RecoveryTimeout {
			h.State = HalfOpen
		} else {
			retryAfter := h.RecoveryTimeout - now.Sub(h.LastFailure)
			t.mu.Unlock()
			return apperrors.WithDetails(apperrors.CodeCircuitOpen, "circuit open for backend", map[string]any{
				"backend":     string(backend),
				"retry_after": retryAfter.String(),
			})
		}
	}

	delay := t.computeDelay(h, now)
	elapsedSinceGlobal := now.Sub(t.lastRequestTime)
	if h.ConsecutiveFailures == 0 && elapsedSinceGlobal > 0 {
		delay -= elapsedSinceGlobal
		if delay < 0 {
			delay = 0
		}
	}
	t.lastRequestTime = now
	h.TotalRequests++
	t.mu.Unlock()

	return t.sleep(ctx, delay)
}

// computeDelay implements §4.1's delay policy. Caller must hold mu.
func (t *Throttler) computeDelay(h *Health, now time.Time) time.Duration {
	if h.ConsecutiveFailures == 0 {
		return t.humanPaceDelay()
	}
	return t.fullJitterBackoff(h.ConsecutiveFailures)
}

// humanPaceDelay draws an exponential inter-arrival time with mean 1/λ,
// clamped to [MinDelay, MaxDelay].
func (t *Throttler) humanPaceDelay() time.Duration {
	lambda := t.cfg.HumanPaceRate
	if lambda <= 0 {
		lambda = 0.5
	}
	// Exponential distribution via inverse transform sampling.
	u := t.rng.Float64()
	for u == 0 {
		u = t.rng.Float64()
	}
	seconds := -math.Log(u) / lambda
	d := time.Duration(seconds * float64(time.Second))
	if d < t.cfg.MinDelay {
		d = t.cfg.MinDelay
	}
	if d > t.cfg.MaxDelay {
		d = t.cfg.MaxDelay
	}
	return d
}

// fullJitterBackoff: uniform(0, min(cap, base*2^failures)).
func (t *Throttler) fullJitterBackoff(failures int) time.Duration {
	backoffCap := t.cfg.BackoffCap
	base := t.cfg.BackoffBase
	exp := float64(base) * math.Pow(2, float64(failures))
	upper := math.Min(float64(backoffCap), exp)
	if upper <= 0 {
		return 0
	}
	return time.Duration(t.rng.Float64() * upper)
}

// decorrelatedJitter: uniform(base, min(prev*3, cap)).
func (t *Throttler) decorrelatedJitter(prev time.Duration) time.Duration {
	base := t.cfg.BackoffBase
	backoffCap := t.cfg.BackoffCap
	upper := time.Duration(math.Min(float64(backoffCap), float64(prev)*3))
	if upper <= base {
		return base
	}
	span := upper - base
	return base + time.Duration(t.rng.Float64()*float64(span))
}

// RecordSuccess resets consecutive failures/backoff and closes the circuit
// if it was HalfOpen.
func (t *Throttler) RecordSuccess(backend searchtypes.BackendID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.healthFor(backend)
	h.ConsecutiveFailures = 0
	h.CurrentBackoff = 0
	h.LastSuccess = t.now()
	if h.State == HalfOpen {
		h.State = Closed
	}
}

// RecordFailure increments counters, recomputes backoff, and may open the
// circuit. kind influences the recovery timeout per §4.1.
func (t *Throttler) RecordFailure(backend searchtypes.BackendID, kind FailureKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.healthFor(backend)
	h.ConsecutiveFailures++
	h.TotalFailures++
	now := t.now()
	h.LastFailure = now

	prev := h.CurrentBackoff
	if prev <= 0 {
		prev = t.cfg.BackoffBase
	}
	h.CurrentBackoff = t.decorrelatedJitter(prev)

	switch kind {
	case FailureCaptcha, FailureAccessDenied:
		doubled := h.RecoveryTimeout * 2
		if doubled <= 0 {
			doubled = t.cfg.RecoveryTimeout * 2
		}
		if doubled > t.cfg.AntiBotTimeoutCap {
			doubled = t.cfg.AntiBotTimeoutCap
		}
		h.RecoveryTimeout = doubled
	}
	if h.RecoveryTimeout <= 0 {
		h.RecoveryTimeout = t.cfg.RecoveryTimeout
	}

	if h.State == HalfOpen {
		h.State = Open
		return
	}
	if h.ConsecutiveFailures >= t.cfg.FailureThreshold {
		h.State = Open
	}
}
