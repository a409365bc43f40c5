// Package planner translates a natural-language string into a structured
// SearchPlan and executes it against Hybrid Search, per spec.md §4.6.
package planner

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/kenny-assistant/kenny/retrieval"
)

// Intent classifies what kind of request the text seeds.
type Intent string

const (
	IntentFind     Intent = "find"
	IntentQuestion Intent = "question"
	IntentCommand  Intent = "command"
)

// Aggregation requests a summary shape beyond a plain ranked hit list.
// Planning only classifies it; composing the summarized/counted response
// is the Control Surface's job, not the planner's.
type Aggregation string

const (
	AggregationNone      Aggregation = "none"
	AggregationSummarize Aggregation = "summarize"
	AggregationCount     Aggregation = "count"
)

// Entities holds everything the rule-based extractors recognized.
type Entities struct {
	People    []string
	Orgs      []string
	Topics    []string
	Locations []string
}

// SearchPlan is the pure output of parsing one natural-language query.
type SearchPlan struct {
	Intent      Intent
	QueryText   string
	Entities    Entities
	Filters     retrieval.Filters
	Aggregation Aggregation
}

// contactLister is the planner's one dependency on the Store: a cached,
// per-run list of contact names to match person phrases against.
type contactLister interface {
	ContactNames(ctx context.Context) ([]string, error)
}

// Planner parses natural-language text into a SearchPlan and executes it
// by composing one or more Hybrid Search calls.
type Planner struct {
	store  contactLister
	search *retrieval.Engine
	logger *slog.Logger
}

func New(st contactLister, search *retrieval.Engine, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{store: st, search: search, logger: logger.With("component", "planner")}
}

// Plan parses text into a SearchPlan. Every extractor is a single pass over
// the tokenized input. The external inputs are the contact names, fetched
// once per call rather than mutated mid-parse, and the current time, which
// a relative time phrase ("last week") is resolved against; so the same
// text yields the same plan except for the TimeRange of such a phrase,
// which moves with the clock.
func (p *Planner) Plan(ctx context.Context, text string) (*SearchPlan, error) {
	contacts, err := p.store.ContactNames(ctx)
	if err != nil {
		// Planning must never fail: a Store read failure just means no
		// person names are available to match against this run.
		p.logger.Warn("fetching contact names failed, planning without person matching", "error", err)
		contacts = nil
	}
	return parse(text, contacts), nil
}

// parse is the side-effect-free core: every SearchPlan field is derived
// from text and contacts, plus the current time for Filters.TimeRange.
func parse(text string, contacts []string) *SearchPlan {
	plan := &SearchPlan{Intent: seedIntent(text), Aggregation: AggregationNone}

	remaining := text
	people, remaining := extractPeople(remaining, contacts)
	plan.Entities.People = people

	sources, remaining := extractSourceKeywords(remaining)
	plan.Filters.Sources = sources

	timeRange, remaining := extractTimeRange(remaining)
	plan.Filters.TimeRange = timeRange

	if isCountQuery(text) {
		plan.Aggregation = AggregationCount
	} else if isSummarizeQuery(text) {
		plan.Aggregation = AggregationSummarize
	}

	plan.Entities.Topics = significantTerms(remaining)
	plan.QueryText = strings.TrimSpace(remaining)
	if plan.QueryText == "" {
		plan.QueryText = strings.TrimSpace(text)
	}
	return plan
}

// findPrefixes seed Intent=Find; questionPrefixes seed Intent=Question;
// commandPrefixes seed Intent=Command. Checked in this order so a more
// specific question/command pattern never gets mistaken for a bare find.
var (
	questionPrefixes = []string{"when's", "when is", "who", "what", "why", "how", "where", "which", "is there", "are there"}
	commandPrefixes  = []string{"remind me", "schedule", "create", "delete", "cancel", "set up"}
	findPrefixes     = []string{"show me", "find", "search for", "look up", "get me"}
)

func seedIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p) {
			return IntentQuestion
		}
	}
	for _, p := range commandPrefixes {
		if strings.HasPrefix(lower, p) {
			return IntentCommand
		}
	}
	for _, p := range findPrefixes {
		if strings.HasPrefix(lower, p) {
			return IntentFind
		}
	}
	return IntentFind
}

func isCountQuery(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "how many") || strings.Contains(lower, "count of") || strings.HasPrefix(lower, "count ")
}

func isSummarizeQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range []string{"summarize", "summary of", "sum up", "tl;dr"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// significantTerms strips stop words and tokens of two characters or fewer,
// in the manner of retrieval.sanitizeFTSQuery but with this package's own
// stop-word and special-character lists, and returns the deduplicated
// lowercase terms left once entities have been pulled out. parse stores
// them as Entities.Topics; query_text keeps the unfiltered remainder.
func significantTerms(text string) []string {
	cleaned := ftsSpecialChars.Replace(text)
	words := strings.Fields(cleaned)
	var terms []string
	seen := map[string]bool{}
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !stopWords[lower] && !seen[lower] {
			seen[lower] = true
			terms = append(terms, lower)
		}
	}
	return terms
}

// Execute runs the plan against Hybrid Search. A person+topic plan issues
// two searches (person-weighted and topic-weighted) and fuses them by
// summing normalized fused scores, deduped by doc_id, per spec.md §4.6.
// Every other plan issues a single search over plan.QueryText.
func (p *Planner) Execute(ctx context.Context, plan *SearchPlan, limit int) (*retrieval.Result, error) {
	if len(plan.Entities.People) > 0 && plan.QueryText != "" {
		return p.executePersonAndTopic(ctx, plan, limit)
	}

	queryText := plan.QueryText
	if queryText == "" && len(plan.Entities.People) > 0 {
		queryText = strings.Join(plan.Entities.People, " ")
	}
	return p.search.Search(ctx, queryText, plan.Filters, retrieval.Options{Limit: limit})
}

func (p *Planner) executePersonAndTopic(ctx context.Context, plan *SearchPlan, limit int) (*retrieval.Result, error) {
	personQuery := strings.Join(plan.Entities.People, " ")
	fetchLimit := limit * 2

	personResult, err := p.search.Search(ctx, personQuery, plan.Filters, retrieval.Options{Limit: fetchLimit})
	if err != nil {
		return nil, err
	}
	topicResult, err := p.search.Search(ctx, plan.QueryText, plan.Filters, retrieval.Options{Limit: fetchLimit})
	if err != nil {
		return nil, err
	}

	fused := fuseByDocID(personResult.Hits, topicResult.Hits)
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > limit {
		fused = fused[:limit]
	}

	mode := retrieval.ModeHybrid
	if personResult.Mode == retrieval.ModeLexicalOnly || topicResult.Mode == retrieval.ModeLexicalOnly {
		mode = retrieval.ModeLexicalOnly
	}
	return &retrieval.Result{Hits: fused, Mode: mode}, nil
}

// fuseByDocID sums each hit's normalized fused score across both result
// sets, deduping by doc_id; a document present in only one set keeps its
// single score rather than being penalized for the other search missing it.
func fuseByDocID(a, b []retrieval.SearchHit) []retrieval.SearchHit {
	byDoc := map[string]retrieval.SearchHit{}
	order := make([]string, 0, len(a)+len(b))
	for _, h := range a {
		byDoc[h.DocID] = h
		order = append(order, h.DocID)
	}
	for _, h := range b {
		if existing, ok := byDoc[h.DocID]; ok {
			existing.Score += h.Score
			if h.Cosine > existing.Cosine {
				existing.Cosine = h.Cosine
			}
			if h.BM25 > existing.BM25 {
				existing.BM25 = h.BM25
			}
			if existing.Snippet == "" {
				existing.Snippet = h.Snippet
			}
			byDoc[h.DocID] = existing
			continue
		}
		byDoc[h.DocID] = h
		order = append(order, h.DocID)
	}

	seen := map[string]bool{}
	out := make([]retrieval.SearchHit, 0, len(byDoc))
	for _, docID := range order {
		if seen[docID] {
			continue
		}
		seen[docID] = true
		out = append(out, byDoc[docID])
	}
	return out
}

// extractPeople matches contact names against the text (case-insensitive,
// whole-phrase containment) and returns what remains once matches are
// removed, so downstream extractors don't re-treat a name as a topic word.
func extractPeople(text string, contacts []string) (people []string, remaining string) {
	remaining = text
	lowerText := strings.ToLower(text)
	for _, name := range contacts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		lowerName := strings.ToLower(name)
		if strings.Contains(lowerText, lowerName) {
			people = append(people, name)
			remaining = replaceCaseInsensitive(remaining, name)
			lowerText = strings.ToLower(remaining)
		}
	}
	return people, remaining
}

func replaceCaseInsensitive(s, target string) string {
	lower := strings.ToLower(s)
	lowerTarget := strings.ToLower(target)
	idx := strings.Index(lower, lowerTarget)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(target):]
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"about": true, "from": true, "with": true, "for": true, "that": true,
	"this": true, "was": true, "were": true, "are": true, "show": true,
	"me": true, "find": true, "get": true,
}

var ftsSpecialChars = strings.NewReplacer(
	"\"", "", "*", "", "(", "", ")", "",
	"+", "", "^", "", ":", "",
	"?", "", "[", "", "]", "", "{", "",
	"}", "", "!", "", ".", "", ",", "",
	";", "",
)
