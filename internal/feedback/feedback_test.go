package feedback

import (
	"testing"

	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
)

func TestWeightDefaultsToOneBelowMinSamples(t *testing.T) {
	l := New(DefaultConfig())

	w := l.Weight("brave", searchtypes.CategoryGeneral)

	assert.Equal(t, 1.0, w)
}

func TestWeightReflectsEngagementAboveMinSamples(t *testing.T) {
	l := New(Config{MinSamples: 5, RingSize: 100})
	backend := searchtypes.BackendID("brave")
	cat := searchtypes.CategoryGeneral

	l.RecordImpressions(backend, cat, 10)
	for i := 0; i < 8; i++ {
		l.RecordEvent(searchtypes.FeedbackEvent{Backend: backend, Category: cat, Signal: searchtypes.SignalClick, Position: 1})
	}
	for i := 0; i < 5; i++ {
		l.RecordEvent(searchtypes.FeedbackEvent{Backend: backend, Category: cat, Signal: searchtypes.SignalHelpful})
	}

	w := l.Weight(backend, cat)
	assert.Greater(t, w, 1.0)
	assert.LessOrEqual(t, w, 2.0)
}

func TestWeightClampedToRange(t *testing.T) {
	l := New(Config{MinSamples: 1, RingSize: 100})
	backend := searchtypes.BackendID("good")
	cat := searchtypes.CategoryGeneral

	l.RecordImpressions(backend, cat, 2)
	l.RecordEvent(searchtypes.FeedbackEvent{Backend: backend, Category: cat, Signal: searchtypes.SignalClick, Position: 1})
	l.RecordEvent(searchtypes.FeedbackEvent{Backend: backend, Category: cat, Signal: searchtypes.SignalClick, Position: 1})
	l.RecordEvent(searchtypes.FeedbackEvent{Backend: backend, Category: cat, Signal: searchtypes.SignalHelpful})

	w := l.Weight(backend, cat)
	assert.LessOrEqual(t, w, 2.0)
	assert.GreaterOrEqual(t, w, 0.5)
}

func TestEngagementRecordCTRAndDwellRate(t *testing.T) {
	r := &EngagementRecord{Impressions: 10, Clicks: 2, Dwells: 1}
	assert.Equal(t, 0.2, r.CTR())
	assert.Equal(t, 0.5, r.DwellRate())
}

func TestEngagementRecordHelpfulRateNoSamplesIsZero(t *testing.T) {
	r := &EngagementRecord{}
	assert.Equal(t, 0.0, r.HelpfulRate())
}

func TestEventsRingBoundedAndOrdered(t *testing.T) {
	l := New(Config{MinSamples: 1, RingSize: 3})
	cat := searchtypes.CategoryGeneral

	for i := 0; i < 5; i++ {
		l.RecordEvent(searchtypes.FeedbackEvent{Category: cat, Signal: searchtypes.SignalNoClick, Position: i})
	}

	events := l.Events(cat)
	assert.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Position)
	assert.Equal(t, 4, events[2].Position)
}

func TestEventsEmptyCategoryReturnsNil(t *testing.T) {
	l := New(DefaultConfig())
	assert.Nil(t, l.Events(searchtypes.CategoryMedical))
}
