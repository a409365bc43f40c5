// Package retrieval implements Hybrid Search: concurrent BM25 (FTS5) and
// cosine (vector) retrieval, fused by independent max-normalization and a
// weighted sum, per spec.md §4.5.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kenny-assistant/kenny/embedder"
	"github.com/kenny-assistant/kenny/store"
)

// queryEmbedTimeout bounds step 1 of the algorithm: computing the query
// embedding synchronously. A slow or unreachable embedder degrades the
// search to lexical-only rather than blocking it.
const queryEmbedTimeout = 3 * time.Second

// progressiveThresholds is tried in order until enough results survive;
// lastResortThreshold is the final, unconditional recall pass.
var progressiveThresholds = []float64{0.40, 0.25, 0.15, 0.05}

const lastResortThreshold = 0.01

// TimeRange bounds a document's updated_at, inclusive on both ends.
type TimeRange struct {
	From int64
	To   int64
}

// Filters narrows a search beyond its text query. Every field is applied
// in memory against fetched documents: spec.md §4.1's Store API takes no
// filter parameters, so nothing here can be pushed down as a SQL predicate.
type Filters struct {
	Sources      []store.Source
	Kinds        []store.Kind
	TimeRange    *TimeRange
	Participants []string
}

// SearchHit is one ranked result.
type SearchHit struct {
	DocID   string
	Title   string
	Snippet string
	Source  store.Source
	Score   float64
	BM25    float64
	Cosine  float64
}

// Result wraps a ranked hit list with the mode the search actually ran in.
type Result struct {
	Hits []SearchHit
	Mode string // "hybrid" or "lexical-only"
}

const (
	ModeHybrid      = "hybrid"
	ModeLexicalOnly = "lexical-only"
)

// Options configures one Search call. Zero values fall back to spec.md
// §4.5's defaults.
type Options struct {
	Limit      int
	WeightBM25 float64
	WeightVec  float64
}

func (o Options) normalized() Options {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.WeightBM25 == 0 && o.WeightVec == 0 {
		o.WeightBM25, o.WeightVec = 0.5, 0.5
	}
	return o
}

// Engine answers Hybrid Search queries against one Store/embedder pair.
type Engine struct {
	store    *store.Store
	embedder *embedder.Client
	modelID  string
	logger   *slog.Logger
}

func New(st *store.Store, emb *embedder.Client, modelID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		embedder: emb,
		modelID:  modelID,
		logger:   logger.With("component", "retrieval"),
	}
}

// Search runs the full algorithm from spec.md §4.5: query embedding, the
// concurrent FTS/vector fan-out, per-document vector collapse, independent
// max-normalization, weighted-sum fusion, and progressive-threshold
// fallback, returning at most opts.Limit hits.
func (e *Engine) Search(ctx context.Context, query string, filters Filters, opts Options) (*Result, error) {
	opts = opts.normalized()
	fetchLimit := opts.Limit * 2

	qvec, lexicalOnly := e.embedQuery(ctx, query)

	type ftsOutcome struct {
		hits []store.FTSHit
		err  error
	}
	type vecOutcome struct {
		hits []store.VectorHit
		err  error
	}
	ftsCh := make(chan ftsOutcome, 1)
	vecCh := make(chan vecOutcome, 1)

	go func() {
		hits, err := e.store.SearchFTS(ctx, sanitizeFTSQuery(query), fetchLimit)
		ftsCh <- ftsOutcome{hits, err}
	}()
	go func() {
		if lexicalOnly {
			vecCh <- vecOutcome{}
			return
		}
		hits, err := e.store.SearchVectors(ctx, qvec, fetchLimit, e.modelID)
		vecCh <- vecOutcome{hits, err}
	}()

	fts := <-ftsCh
	vec := <-vecCh

	if fts.err != nil {
		return nil, fmt.Errorf("%w: fts: %v", ErrSearchFailed, fts.err)
	}
	if vec.err != nil {
		e.logger.Warn("vector search failed, degrading to lexical-only", "error", vec.err)
		vec.hits = nil
		lexicalOnly = true
	}

	ftsHits, vecHits, docs := e.filterHits(ctx, fts.hits, vec.hits, filters)

	candidates := e.fuse(ctx, ftsHits, vecHits, opts)

	mode := ModeHybrid
	if lexicalOnly {
		mode = ModeLexicalOnly
	}

	survivors := progressiveFilter(candidates, opts.Limit)

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].fused != survivors[j].fused {
			return survivors[i].fused > survivors[j].fused
		}
		di, dj := docs[survivors[i].docID], docs[survivors[j].docID]
		if di.UpdatedAt != dj.UpdatedAt {
			return di.UpdatedAt > dj.UpdatedAt
		}
		return survivors[i].docID < survivors[j].docID
	})
	if len(survivors) > opts.Limit {
		survivors = survivors[:opts.Limit]
	}

	hits := make([]SearchHit, len(survivors))
	for i, c := range survivors {
		doc := docs[c.docID]
		hits[i] = SearchHit{
			DocID:   c.docID,
			Title:   doc.Title,
			Snippet: c.snippet,
			Source:  doc.Source,
			Score:   c.fused,
			BM25:    c.bm25,
			Cosine:  c.cosine,
		}
	}
	return &Result{Hits: hits, Mode: mode}, nil
}

// embedQuery computes the query's embedding with a short timeout. On any
// failure it returns lexicalOnly=true rather than propagating an error:
// the search degrades instead of failing outright.
func (e *Engine) embedQuery(ctx context.Context, query string) (vec []float32, lexicalOnly bool) {
	if e.embedder == nil {
		return nil, true
	}
	qctx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	vecs, err := e.embedder.Embed(qctx, []string{query})
	if err != nil || len(vecs) == 0 {
		e.logger.Warn("query embedding failed, degrading to lexical-only search", "error", err)
		return nil, true
	}
	return vecs[0], false
}

// candidate is one document's fused score plus everything needed to sort,
// filter, and render it.
type candidate struct {
	docID        string
	bm25, cosine float64
	fused        float64
	snippet      string
}

// fuse collapses vector hits to per-document max cosine, normalizes both
// channels independently by their observed max, and computes the weighted
// sum fused score for the union of documents either channel surfaced.
// ftsHits and vecHits must already be restricted to documents that survive
// filters (see filterHits), so the normalization denominators — and thus
// every fused score — are computed over the same candidate set the caller
// will ultimately see, per spec.md §4.5's step ordering (filter before
// normalize/fuse).
func (e *Engine) fuse(ctx context.Context, ftsHits []store.FTSHit, vecHits []store.VectorHit, opts Options) []candidate {
	bestCosine := map[string]float64{}
	bestChunk := map[string]int64{}
	for _, h := range vecHits {
		if h.Cosine > bestCosine[h.DocID] {
			bestCosine[h.DocID] = h.Cosine
			bestChunk[h.DocID] = h.ChunkID
		}
	}

	bm25ByDoc := map[string]float64{}
	snippetByDoc := map[string]string{}
	maxBM25 := 0.0
	for _, h := range ftsHits {
		bm25ByDoc[h.DocID] = h.BM25
		snippetByDoc[h.DocID] = h.Snippet
		if h.BM25 > maxBM25 {
			maxBM25 = h.BM25
		}
	}
	maxCosine := 0.0
	for _, c := range bestCosine {
		if c > maxCosine {
			maxCosine = c
		}
	}

	var needSnippet []int64
	for docID, chunkID := range bestChunk {
		if _, ok := snippetByDoc[docID]; !ok {
			needSnippet = append(needSnippet, chunkID)
		}
	}
	chunkTexts, err := e.store.ChunksByID(ctx, needSnippet)
	if err != nil {
		e.logger.Warn("fetching winning-chunk snippets failed", "error", err)
		chunkTexts = map[int64]store.Chunk{}
	}

	docIDs := map[string]struct{}{}
	for _, h := range ftsHits {
		docIDs[h.DocID] = struct{}{}
	}
	for docID := range bestCosine {
		docIDs[docID] = struct{}{}
	}

	candidates := make([]candidate, 0, len(docIDs))
	for docID := range docIDs {
		bm25 := bm25ByDoc[docID]
		cosine := bestCosine[docID]
		bm25Norm, cosineNorm := 0.0, 0.0
		if maxBM25 > 0 {
			bm25Norm = bm25 / maxBM25
		}
		if maxCosine > 0 {
			cosineNorm = cosine / maxCosine
		}
		fused := opts.WeightBM25*bm25Norm + opts.WeightVec*cosineNorm

		snippet := snippetByDoc[docID]
		if snippet == "" {
			if chunkID, ok := bestChunk[docID]; ok {
				snippet = snippetFromChunk(chunkTexts[chunkID].Text)
			}
		}
		candidates = append(candidates, candidate{
			docID:   docID,
			bm25:    bm25,
			cosine:  cosine,
			fused:   fused,
			snippet: snippet,
		})
	}

	return candidates
}

const snippetMaxRunes = 240

// snippetFromChunk trims a winning vector chunk's full text down to a
// bounded preview; FTS hits already carry a snippet() excerpt from SQLite,
// but a chunk's raw text has no such boundary applied yet.
func snippetFromChunk(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= snippetMaxRunes {
		return string(r)
	}
	return string(r[:snippetMaxRunes]) + "…"
}

// filterHits applies filters (spec.md §4.5 step 2) to the raw FTS/vector
// hits before fusion ever sees them, fetching each candidate document once
// and keeping only those that match. Restricting both hit slices here,
// rather than filtering the already-fused candidates, means fuse's
// max-normalization denominators are computed strictly over documents
// that survive the filter.
func (e *Engine) filterHits(ctx context.Context, ftsHits []store.FTSHit, vecHits []store.VectorHit, filters Filters) ([]store.FTSHit, []store.VectorHit, map[string]*store.Document) {
	docs := make(map[string]*store.Document)
	allowed := func(docID string) bool {
		if doc, ok := docs[docID]; ok {
			return doc != nil
		}
		doc, err := e.store.FetchDocument(ctx, docID)
		if err != nil || !matchesFilters(doc, filters) {
			docs[docID] = nil
			return false
		}
		docs[docID] = doc
		return true
	}

	keptFTS := make([]store.FTSHit, 0, len(ftsHits))
	for _, h := range ftsHits {
		if allowed(h.DocID) {
			keptFTS = append(keptFTS, h)
		}
	}
	keptVec := make([]store.VectorHit, 0, len(vecHits))
	for _, h := range vecHits {
		if allowed(h.DocID) {
			keptVec = append(keptVec, h)
		}
	}

	for docID, doc := range docs {
		if doc == nil {
			delete(docs, docID)
		}
	}
	return keptFTS, keptVec, docs
}

func matchesFilters(doc *store.Document, f Filters) bool {
	if len(f.Sources) > 0 && !containsSource(f.Sources, doc.Source) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, doc.Kind) {
		return false
	}
	if f.TimeRange != nil && (doc.UpdatedAt < f.TimeRange.From || doc.UpdatedAt > f.TimeRange.To) {
		return false
	}
	if len(f.Participants) > 0 && !hasParticipant(doc, f.Participants) {
		return false
	}
	return true
}

func containsSource(sources []store.Source, s store.Source) bool {
	for _, x := range sources {
		if x == s {
			return true
		}
	}
	return false
}

func containsKind(kinds []store.Kind, k store.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// hasParticipant checks whether any of a document's typed participant
// fields (sender, attendees, handle, ...) matches one of the requested
// participants, case-insensitively.
func hasParticipant(doc *store.Document, participants []string) bool {
	candidates := participantStrings(doc)
	for _, want := range participants {
		want = strings.ToLower(want)
		for _, have := range candidates {
			if strings.Contains(strings.ToLower(have), want) {
				return true
			}
		}
	}
	return false
}

func participantStrings(doc *store.Document) []string {
	var out []string
	switch {
	case doc.Email != nil:
		out = append(out, doc.Email.From)
		out = append(out, doc.Email.To...)
		out = append(out, doc.Email.CC...)
	case doc.Event != nil:
		out = append(out, doc.Event.Organizer)
		out = append(out, doc.Event.Attendees...)
	case doc.Message != nil:
		out = append(out, doc.Message.Handle)
	case doc.ChatMessage != nil:
		out = append(out, doc.ChatMessage.Sender)
	case doc.Contact != nil:
		out = append(out, doc.Contact.PrimaryEmail, doc.Contact.PrimaryPhone)
	}
	return out
}

// progressiveFilter implements step 6: try each threshold in order, keeping
// the first that yields at least max(1, limit/2) survivors, falling back
// to the unconditional lastResortThreshold pass if none do.
func progressiveFilter(candidates []candidate, limit int) []candidate {
	minSurvivors := limit / 2
	if minSurvivors < 1 {
		minSurvivors = 1
	}

	for _, threshold := range progressiveThresholds {
		survivors := filterByThreshold(candidates, threshold)
		if len(survivors) >= minSurvivors {
			return survivors
		}
	}
	return filterByThreshold(candidates, lastResortThreshold)
}

func filterByThreshold(candidates []candidate, threshold float64) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.fused >= threshold {
			out = append(out, c)
		}
	}
	return out
}
