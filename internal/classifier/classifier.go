// Package classifier implements the query classifier (C2): a fast,
// deterministic pattern-and-keyword router with no LLM dependency,
// grounded on query_router.py's QueryRouter and its static
// category -> pattern/booster/engine tables.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"go-aigateway/pkg/searchtypes"
)

// patternSet is one category's compiled patterns and booster keywords.
type patternSet struct {
	category  searchtypes.Category
	patterns  []*regexp.Regexp
	boosters  []string
}

// Score is one category's classification result.
type Score struct {
	Category   searchtypes.Category
	Confidence float64
	Matched    int
}

// Classifier maps free-text queries to a category and an ordered backend
// set, per spec.md §4.2.
type Classifier struct {
	sets       []patternSet
	backendTable map[searchtypes.Category][]searchtypes.BackendID
	minConfidence float64
	maxEngines    int
}

// New builds a Classifier with the default pattern table and the given
// config thresholds.
func New(minConfidence float64, maxEngines int) *Classifier {
	if minConfidence <= 0 {
		minConfidence = 0.3
	}
	if maxEngines <= 0 {
		maxEngines = 6
	}
	return &Classifier{
		sets:          defaultPatternSets(),
		backendTable:  DefaultBackendTable(),
		minConfidence: minConfidence,
		maxEngines:    maxEngines,
	}
}

func mustCompile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// defaultPatternSets is the static category -> pattern table, ported from
// query_router.py's PATTERNS. Covers at minimum the markers required by
// spec.md §4.2: academic (paper/doi/arxiv), technical (tutorial/api/sdk),
// code (language names, package managers), troubleshooting (error codes
// including SRVO-\d+), industrial (vendor/equipment terms), medical
// (clinical terms), news (recency terms + 4-digit year).
func defaultPatternSets() []patternSet {
	return []patternSet{
		{
			category: searchtypes.CategoryAcademic,
			patterns: mustCompile(
				`\b(research|study|paper|journal|publication|thesis|dissertation)\b`,
				`\b(doi|arxiv|pubmed|pmid|isbn)\b`,
				`\b(et al\.?|citation|bibliography|peer.?review)\b`,
				`\b(hypothesis|methodology|findings|abstract)\b`,
				`\b(literature review|meta.?analysis|systematic review)\b`,
			),
			boosters: []string{"research", "paper", "study", "journal", "doi"},
		},
		{
			category: searchtypes.CategoryTechnical,
			patterns: mustCompile(
				`\b(tutorial|documentation|how to|guide|example)\b`,
				`\b(api|sdk|library|framework|package)\b`,
				`\b(install|setup|configure|deploy)\b`,
				`\b(best practice|pattern|architecture)\b`,
			),
			boosters: []string{"tutorial", "documentation", "api", "how to"},
		},
		{
			category: searchtypes.CategoryCode,
			patterns: mustCompile(
				`\b(python|javascript|java|rust|go|c\+\+|typescript)\b`,
				`\b(function|class|method|variable|import)\b`,
				`\b(github|gitlab|npm|pypi|pip install)\b`,
				`\b(code|script|program|algorithm)\b`,
				`\b(syntax|compile|runtime|exception)\b`,
			),
			boosters: []string{"python", "javascript", "github", "function", "class"},
		},
		{
			category: searchtypes.CategoryTroubleshooting,
			patterns: mustCompile(
				`\b(error|exception|bug|issue|problem|fail)\b`,
				`\b(not working|doesn't work|won't|can't)\b`,
				`\b(fix|solve|resolve|debug|troubleshoot)\b`,
				`\b(help|stuck|confused|weird)\b`,
				`\b(warning|crash|freeze|hang)\b`,
				`(SRVO|MOTN|SYST|INTP|PROG|MANU|TOOL|HOST)-\d+`,
				`(fault|alarm|error)\s*(code|number|message)`,
			),
			boosters: []string{"error", "fix", "not working", "help"},
		},
		{
			category: searchtypes.CategoryIndustrial,
			patterns: mustCompile(
				`\b(fanuc|siemens|rockwell|allen.?bradley|abb|kuka)\b`,
				`\b(plc|hmi|scada|dcs|cnc|robot)\b`,
				`\b(servo|motor|drive|encoder|sensor)\b`,
				`\b(ladder|function.?block|structured.?text)\b`,
				`\b(injection.?mold|extrusion|blow.?mold)\b`,
				`\b(automation|manufacturing|industrial)\b`,
			),
			boosters: []string{"fanuc", "plc", "robot", "servo", "cnc"},
		},
		{
			category: searchtypes.CategoryMedical,
			patterns: mustCompile(
				`\b(symptom|diagnosis|treatment|medication|drug)\b`,
				`\b(disease|condition|syndrome|disorder)\b`,
				`\b(clinical|patient|hospital|doctor|physician)\b`,
				`\b(therapy|surgery|procedure|prognosis)\b`,
			),
			boosters: []string{"symptom", "treatment", "diagnosis", "drug"},
		},
		{
			category: searchtypes.CategoryNews,
			patterns: mustCompile(
				`\b(news|breaking|latest|today|yesterday)\b`,
				`\b(announced|reported|released|unveiled)\b`,
				`\b(20\d{2})\b`,
				`\b(update|announcement|press.?release)\b`,
			),
			boosters: []string{"news", "today", "latest", "announced"},
		},
	}
}

// DefaultBackendTable is the static category -> ordered backend-id table
// used to build a request's engine list, ported from query_router.py's
// ENGINE_GROUPS.
func DefaultBackendTable() map[searchtypes.Category][]searchtypes.BackendID {
	ids := func(names ...string) []searchtypes.BackendID {
		out := make([]searchtypes.BackendID, len(names))
		for i, n := range names {
			out[i] = searchtypes.BackendID(n)
		}
		return out
	}
	return map[searchtypes.Category][]searchtypes.BackendID{
		searchtypes.CategoryAcademic:        ids("arxiv", "semantic_scholar", "openalex", "pubmed", "crossref"),
		searchtypes.CategoryTechnical:       ids("stackoverflow", "github", "brave", "bing", "reddit"),
		searchtypes.CategoryCode:            ids("github", "stackoverflow", "pypi", "npm", "dockerhub"),
		searchtypes.CategoryTroubleshooting: ids("reddit", "stackoverflow", "brave", "bing", "superuser"),
		searchtypes.CategoryIndustrial:      ids("brave", "bing", "reddit", "arxiv", "stackoverflow"),
		searchtypes.CategoryMedical:         ids("pubmed", "semantic_scholar", "wikipedia", "brave"),
		searchtypes.CategoryNews:            ids("bing_news", "brave", "reddit"),
		searchtypes.CategoryGeneral:         ids("brave", "bing", "mojeek", "reddit", "wikipedia"),
	}
}

// score computes the raw confidence for one category against a query, per
// spec.md §4.2 item 1: matches/|patterns| + 0.1*boosters, capped at 1.0.
func (c *Classifier) score(set patternSet, query, queryLower string) Score {
	matched := 0
	for _, p := range set.patterns {
		if p.MatchString(query) {
			matched++
		}
	}
	if matched == 0 {
		return Score{Category: set.category, Confidence: 0, Matched: 0}
	}
	s := float64(matched) / float64(len(set.patterns))
	boostCount := 0
	for _, b := range set.boosters {
		if strings.Contains(queryLower, b) {
			boostCount++
		}
	}
	s += 0.1 * float64(boostCount)
	if s > 1.0 {
		s = 1.0
	}
	return Score{Category: set.category, Confidence: s, Matched: matched}
}

func (c *Classifier) scoreAll(query string) []Score {
	lower := strings.ToLower(query)
	scores := make([]Score, 0, len(c.sets))
	for _, set := range c.sets {
		sc := c.score(set, query, lower)
		if sc.Matched > 0 {
			scores = append(scores, sc)
		}
	}
	return scores
}

// categoryOrderIndex breaks single-route ties using searchtypes.AllCategories.
func categoryOrderIndex(cat searchtypes.Category) int {
	for i, c := range searchtypes.AllCategories {
		if c == cat {
			return i
		}
	}
	return len(searchtypes.AllCategories)
}

// ClassifySingle returns the argmax category (spec.md §4.2 item 2). Ties
// break by fixed category order; no category scoring > 0 returns general
// at confidence 0.5.
func (c *Classifier) ClassifySingle(query string) Score {
	scores := c.scoreAll(query)
	if len(scores) == 0 {
		return Score{Category: searchtypes.CategoryGeneral, Confidence: 0.5}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return categoryOrderIndex(scores[i].Category) < categoryOrderIndex(scores[j].Category)
	})
	return scores[0]
}

// ClassifyMulti returns every category scoring >= minConfidence, sorted
// descending (spec.md §4.2 item 3).
func (c *Classifier) ClassifyMulti(query string) []Score {
	scores := c.scoreAll(query)
	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Confidence >= c.minConfidence {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return categoryOrderIndex(out[i].Category) < categoryOrderIndex(out[j].Category)
	})
	return out
}

// EngineList unions the backend lists for a set of ranked categories,
// preserving confidence order and capping at maxEngines (spec.md §4.2
// item 4).
func (c *Classifier) EngineList(scores []Score) []searchtypes.BackendID {
	seen := make(map[searchtypes.BackendID]struct{})
	var out []searchtypes.BackendID
	for _, s := range scores {
		for _, b := range c.backendTable[s.Category] {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
			if len(out) >= c.maxEngines {
				return out
			}
		}
	}
	return out
}

// Route combines single-route classification and its engine list, the
// common case for the orchestrator when no multi-route diagnostics are
// needed.
func (c *Classifier) Route(query string) (Score, []searchtypes.BackendID) {
	best := c.ClassifySingle(query)
	return best, c.EngineList([]Score{best})
}
