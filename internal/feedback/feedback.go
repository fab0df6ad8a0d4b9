// Package feedback implements the engagement-signal learner (C8). The
// event/record shape is grounded on original_source/feedback_loop.py's
// FeedbackSignal enum and SearchFeedback dataclass; the bounded
// per-category event ring follows the same "keep the last N" idiom used
// throughout the corpus for rolling windows (internal/middleware/metrics.go's
// Redis RPush+LTrim, reimplemented in-process here since feedback
// history is process-local).
package feedback

import (
	"math"
	"sync"
	"time"

	"go-aigateway/pkg/searchtypes"
)

// key identifies one EngagementRecord.
type key struct {
	backend  searchtypes.BackendID
	category searchtypes.Category
}

// EngagementRecord aggregates engagement signals for one
// (backend, category) pair, per spec.md §3/§4.7.
type EngagementRecord struct {
	Impressions         int
	Clicks              int
	Dwells              int
	Helpful             int
	NotHelpful           int
	CumulativeDwellMS   int64
	clickPositionSum    int64
	LastUpdated         time.Time
}

// CTR is clicks / impressions.
func (e *EngagementRecord) CTR() float64 {
	if e.Impressions == 0 {
		return 0
	}
	return float64(e.Clicks) / float64(e.Impressions)
}

// DwellRate is dwells / max(1, clicks).
func (e *EngagementRecord) DwellRate() float64 {
	denom := e.Clicks
	if denom < 1 {
		denom = 1
	}
	return float64(e.Dwells) / float64(denom)
}

// HelpfulRate is helpful / (helpful + unhelpful).
func (e *EngagementRecord) HelpfulRate() float64 {
	total := e.Helpful + e.NotHelpful
	if total == 0 {
		return 0
	}
	return float64(e.Helpful) / float64(total)
}

// AvgClickPosition is the running mean click position (1-indexed).
func (e *EngagementRecord) AvgClickPosition() float64 {
	if e.Clicks == 0 {
		return 0
	}
	return float64(e.clickPositionSum) / float64(e.Clicks)
}

// EngagementScore is spec.md §4.7's weighted blend, clamped into [0,1]
// by construction of its terms.
func (e *EngagementRecord) EngagementScore() float64 {
	ctrTerm := 0.40 * min1(5*e.CTR())
	dwellTerm := 0.25 * min1(e.DwellRate())
	helpfulTerm := 0.25 * e.HelpfulRate()
	posDenom := e.AvgClickPosition()
	if posDenom < 1 {
		posDenom = 1
	}
	posTerm := 0.10 * (1 / posDenom)
	return ctrTerm + dwellTerm + helpfulTerm + posTerm
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// RecommendedWeight derives the fusion weight multiplier from the
// engagement score: 0.5+score below the midpoint, 1.0+2*(score-0.5)
// above it, per spec.md §4.7. Clamped to [0.5, 2.0].
func (e *EngagementRecord) RecommendedWeight(minSamples int) float64 {
	if e.Impressions < minSamples {
		return 1.0
	}
	score := e.EngagementScore()
	var w float64
	if score < 0.5 {
		w = 0.5 + score
	} else {
		w = 1.0 + 2*(score-0.5)
	}
	if w < 0.5 {
		w = 0.5
	}
	if w > 2.0 {
		w = 2.0
	}
	return w
}

// Config tunes the learner's thresholds.
type Config struct {
	MinSamples int           // default 10
	RingSize   int           // events retained per category, default 1000
	HalfLife   time.Duration // engagement decay half-life, default 14 days; 0 disables decay
}

// DefaultConfig returns spec.md §4.7's literal defaults, extended with the
// engagement-decay half-life.
func DefaultConfig() Config {
	return Config{MinSamples: 10, RingSize: 1000, HalfLife: 14 * 24 * time.Hour}
}

// Learner aggregates engagement signals into per-(backend, category)
// records and a bounded, per-category raw-event history for offline
// analysis.
type Learner struct {
	cfg Config

	mu      sync.Mutex
	records map[key]*EngagementRecord

	emu    sync.Mutex
	events map[searchtypes.Category][]searchtypes.FeedbackEvent
	cursor map[searchtypes.Category]int
}

// New builds a Learner.
func New(cfg Config) *Learner {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1000
	}
	return &Learner{
		cfg:     cfg,
		records: make(map[key]*EngagementRecord),
		events:  make(map[searchtypes.Category][]searchtypes.FeedbackEvent),
		cursor:  make(map[searchtypes.Category]int),
	}
}

// decay applies the configured half-life to r in place: each accumulated
// counter is scaled by 0.5^(elapsed/HalfLife) since r.LastUpdated, then
// LastUpdated is advanced to now so the next decay starts from this
// baseline. Called with l.mu held. A zero HalfLife or a record that has
// never been updated is a no-op.
func (l *Learner) decay(r *EngagementRecord) {
	if l.cfg.HalfLife <= 0 || r.LastUpdated.IsZero() {
		return
	}
	elapsed := time.Since(r.LastUpdated)
	if elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsed.Hours()/l.cfg.HalfLife.Hours())
	if factor >= 1 {
		return
	}
	r.Impressions = int(math.Round(float64(r.Impressions) * factor))
	r.Clicks = int(math.Round(float64(r.Clicks) * factor))
	r.Dwells = int(math.Round(float64(r.Dwells) * factor))
	r.Helpful = int(math.Round(float64(r.Helpful) * factor))
	r.NotHelpful = int(math.Round(float64(r.NotHelpful) * factor))
	r.CumulativeDwellMS = int64(math.Round(float64(r.CumulativeDwellMS) * factor))
	r.clickPositionSum = int64(math.Round(float64(r.clickPositionSum) * factor))
	r.LastUpdated = time.Now()
}

func (l *Learner) record(backend searchtypes.BackendID, category searchtypes.Category) *EngagementRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{backend: backend, category: category}
	r, ok := l.records[k]
	if !ok {
		r = &EngagementRecord{}
		l.records[k] = r
	}
	return r
}

// RecordImpressions registers one impression per displayed result for
// backend/category, called at dispatch time.
func (l *Learner) RecordImpressions(backend searchtypes.BackendID, category searchtypes.Category, count int) {
	r := l.record(backend, category)
	l.mu.Lock()
	r.Impressions += count
	r.LastUpdated = time.Now()
	l.mu.Unlock()
}

// RecordEvent ingests one feedback signal, updates the matching
// engagement record, and appends to the category's bounded event ring.
func (l *Learner) RecordEvent(ev searchtypes.FeedbackEvent) {
	r := l.record(ev.Backend, ev.Category)
	l.mu.Lock()
	switch ev.Signal {
	case searchtypes.SignalClick:
		r.Clicks++
		r.clickPositionSum += int64(ev.Position)
	case searchtypes.SignalDwell:
		r.Dwells++
		r.CumulativeDwellMS += int64(ev.DwellMS)
	case searchtypes.SignalHelpful:
		r.Helpful++
	case searchtypes.SignalNotHelpful:
		r.NotHelpful++
	case searchtypes.SignalReformulate, searchtypes.SignalNoClick:
		// No counter contribution beyond the raw event log; these
		// signals inform offline analysis only.
	}
	r.LastUpdated = time.Now()
	l.mu.Unlock()

	l.appendEvent(ev)
}

func (l *Learner) appendEvent(ev searchtypes.FeedbackEvent) {
	l.emu.Lock()
	defer l.emu.Unlock()
	buf := l.events[ev.Category]
	if buf == nil {
		buf = make([]searchtypes.FeedbackEvent, l.cfg.RingSize)
		l.events[ev.Category] = buf
	}
	idx := l.cursor[ev.Category] % l.cfg.RingSize
	buf[idx] = ev
	l.cursor[ev.Category] = l.cursor[ev.Category] + 1
}

// Weight returns the recommended fusion-weight multiplier for
// (backend, category), or 1.0 if fewer than MinSamples impressions have
// been recorded.
func (l *Learner) Weight(backend searchtypes.BackendID, category searchtypes.Category) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{backend: backend, category: category}
	r, ok := l.records[k]
	if !ok {
		return 1.0
	}
	l.decay(r)
	return r.RecommendedWeight(l.cfg.MinSamples)
}

// Snapshot returns a copy of the engagement record for (backend, category).
func (l *Learner) Snapshot(backend searchtypes.BackendID, category searchtypes.Category) EngagementRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{backend: backend, category: category}
	if r, ok := l.records[k]; ok {
		l.decay(r)
		return *r
	}
	return EngagementRecord{}
}

// Events returns the raw events recorded for category, oldest-first,
// up to RingSize entries.
func (l *Learner) Events(category searchtypes.Category) []searchtypes.FeedbackEvent {
	l.emu.Lock()
	defer l.emu.Unlock()
	buf := l.events[category]
	if buf == nil {
		return nil
	}
	count := l.cursor[category]
	if count > l.cfg.RingSize {
		count = l.cfg.RingSize
	}
	out := make([]searchtypes.FeedbackEvent, 0, count)
	total := l.cursor[category]
	if total <= l.cfg.RingSize {
		for i := 0; i < total; i++ {
			out = append(out, buf[i])
		}
		return out
	}
	start := total % l.cfg.RingSize
	for i := 0; i < l.cfg.RingSize; i++ {
		out = append(out, buf[(start+i)%l.cfg.RingSize])
	}
	return out
}
