package classifier

import (
	"testing"

	"go-aigateway/pkg/searchtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySingleDefaultsToGeneral(t *testing.T) {
	c := New(0.3, 6)

	sc := c.ClassifySingle("xyzzy plugh qux")

	assert.Equal(t, searchtypes.CategoryGeneral, sc.Category)
	assert.Equal(t, 0.5, sc.Confidence)
}

func TestClassifySingleAcademic(t *testing.T) {
	c := New(0.3, 6)

	sc := c.ClassifySingle("looking for a peer-reviewed research paper on arxiv about transformers")

	assert.Equal(t, searchtypes.CategoryAcademic, sc.Category)
	assert.Greater(t, sc.Confidence, 0.0)
}

func TestClassifySingleCode(t *testing.T) {
	c := New(0.3, 6)

	sc := c.ClassifySingle("python function throwing a runtime exception, need to fix the syntax")

	assert.Contains(t, []searchtypes.Category{searchtypes.CategoryCode, searchtypes.CategoryTroubleshooting}, sc.Category)
}

func TestClassifyMultiFanucServoAlarm(t *testing.T) {
	c := New(0.3, 6)

	scores := c.ClassifyMulti("FANUC SRVO-063 servo alarm fix")

	require.NotEmpty(t, scores)
	var found bool
	for _, s := range scores {
		if s.Category == searchtypes.CategoryIndustrial || s.Category == searchtypes.CategoryTroubleshooting {
			assert.GreaterOrEqual(t, s.Confidence, 0.3)
			found = true
		}
	}
	assert.True(t, found, "expected industrial or troubleshooting in multi-route results: %+v", scores)
}

func TestClassifyMultiSortedDescending(t *testing.T) {
	c := New(0.1, 6)

	scores := c.ClassifyMulti("python error fix stackoverflow github debug exception")

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Confidence, scores[i].Confidence)
	}
}

func TestEngineListCapsAtMaxEngines(t *testing.T) {
	c := New(0.1, 3)

	scores := []Score{
		{Category: searchtypes.CategoryAcademic, Confidence: 1.0},
		{Category: searchtypes.CategoryTechnical, Confidence: 0.9},
	}

	engines := c.EngineList(scores)

	assert.LessOrEqual(t, len(engines), 3)
}

func TestEngineListDedupesAcrossCategories(t *testing.T) {
	c := New(0.1, 20)

	scores := []Score{
		{Category: searchtypes.CategoryTechnical, Confidence: 1.0},
		{Category: searchtypes.CategoryCode, Confidence: 0.9},
	}

	engines := c.EngineList(scores)

	seen := make(map[searchtypes.BackendID]int)
	for _, e := range engines {
		seen[e]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "backend %s listed more than once", id)
	}
}

func TestRouteReturnsNonEmptyEngineList(t *testing.T) {
	c := New(0.3, 6)

	_, engines := c.Route("latest news announced today")

	assert.NotEmpty(t, engines)
}

func TestDefaultBackendTableCoversAllCategories(t *testing.T) {
	table := DefaultBackendTable()
	for _, cat := range searchtypes.AllCategories {
		assert.NotEmpty(t, table[cat], "category %s missing from backend table", cat)
	}
}
