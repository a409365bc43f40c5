// Package pipeline keeps every document's chunks and embeddings current
// for the active embedding model, per spec.md §4.4.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kenny-assistant/kenny/chunker"
	"github.com/kenny-assistant/kenny/embedder"
	"github.com/kenny-assistant/kenny/store"
)

// Config controls one Pipeline's pacing. Zero-value fields fall back to
// spec.md §4.4's defaults.
type Config struct {
	ModelID     string
	Concurrency int // P: max in-flight embed calls, default 4.
	PageSize    int // documents/chunks fetched per Store round-trip, default 200.
	EmbedBatch  int // texts per embedder.Embed call, default 32 (teacher's embedChunks batch size).
}

func (c Config) normalized() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	if c.EmbedBatch <= 0 {
		c.EmbedBatch = 32
	}
	return c
}

// Report summarizes one Run.
type Report struct {
	DocumentsChunked  int
	ChunksEmbedded    int
	DocumentsDeferred int
}

// Pipeline rebuilds stale chunks and backfills missing embeddings. At most
// one Run is active at a time; a concurrent call returns ErrAlreadyRunning
// rather than blocking, matching the Ingest Manager's single-run discipline.
type Pipeline struct {
	store    *store.Store
	chunker  *chunker.Chunker
	embedder *embedder.Client
	cfg      Config
	logger   *slog.Logger
	running  atomic.Bool
}

func New(st *store.Store, ch *chunker.Chunker, emb *embedder.Client, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		chunker:  ch,
		embedder: emb,
		cfg:      cfg.normalized(),
		logger:   logger.With("component", "pipeline"),
	}
}

// Run performs one pass: rebuild chunks for documents whose content_hash
// has moved since their last chunking, then backfill embeddings for every
// chunk lacking one under the active model. Both phases commit progress
// per document/batch, so a cancellation loses at most the unit in flight.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	report := &Report{}
	if err := p.rebuildChunks(ctx, report); err != nil {
		return report, err
	}
	if err := p.backfillEmbeddings(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Pipeline) rebuildChunks(ctx context.Context, report *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := p.store.DocumentsPendingChunk(ctx, p.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunks := p.chunker.Chunk(doc.DocID, doc.Content)
			if err := p.store.InsertChunks(ctx, doc.DocID, chunks); err != nil {
				p.logger.Warn("chunk rebuild failed", "doc_id", doc.DocID, "error", err)
				continue
			}
			if err := p.store.MarkChunked(ctx, doc.DocID, doc.ContentHash); err != nil {
				return err
			}
			report.DocumentsChunked++
		}
	}
}

// backfillEmbeddings pages through chunks missing an embedding for the
// active model, sending EmbedBatch-sized groups to the embedder with up to
// Concurrency groups in flight at once (spec.md §4.4's semaphore-bounded
// P in-flight calls). A chunk whose individual embed ultimately fails
// defers its whole document, which removes every one of that document's
// chunks from the next page's query — guaranteeing the loop terminates.
func (p *Pipeline) backfillEmbeddings(ctx context.Context, report *Report) error {
	seenDeferred := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := p.store.ChunksMissingEmbedding(ctx, p.cfg.ModelID, p.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}

		batches := chunkBatches(chunks, p.cfg.EmbedBatch)

		var (
			wg       sync.WaitGroup
			sem      = make(chan struct{}, p.cfg.Concurrency)
			mu       sync.Mutex
			firstErr error
		)
		for _, batch := range batches {
			batch := batch
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				embedded, deferredDocIDs, err := p.embedBatch(ctx, batch)

				mu.Lock()
				report.ChunksEmbedded += embedded
				if err != nil && firstErr == nil {
					firstErr = err
				}
				for _, docID := range deferredDocIDs {
					if _, ok := seenDeferred[docID]; !ok {
						seenDeferred[docID] = struct{}{}
						report.DocumentsDeferred++
					}
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}
	}
}

func chunkBatches(chunks []store.Chunk, size int) [][]store.Chunk {
	var out [][]store.Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}

// embedBatch embeds one group of chunks. A whole-batch failure falls back
// to embedding each chunk individually, grounded on the teacher's
// embedChunks, so one oversized or malformed chunk doesn't lose the rest
// of the batch.
func (p *Pipeline) embedBatch(ctx context.Context, batch []store.Chunk) (embedded int, deferredDocIDs []string, err error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, embedErr := p.embedder.Embed(ctx, texts)
	if embedErr == nil {
		for i, v := range vectors {
			if err := p.store.InsertEmbedding(ctx, batch[i].ID, v, p.cfg.ModelID); err != nil {
				p.logger.Warn("storing embedding failed", "chunk_id", batch[i].ID, "error", err)
				deferredDocIDs = append(deferredDocIDs, p.deferDoc(ctx, batch[i].DocID))
				continue
			}
			embedded++
		}
		return embedded, compact(deferredDocIDs), nil
	}

	p.logger.Warn("embedding batch failed, falling back to individual chunks",
		"batch_size", len(batch), "error", embedErr)

	for i, text := range texts {
		single, serr := p.embedder.Embed(ctx, []string{text})
		if serr != nil || len(single) == 0 {
			p.logger.Warn("embedding chunk failed, deferring its document", "chunk_id", batch[i].ID, "error", serr)
			deferredDocIDs = append(deferredDocIDs, p.deferDoc(ctx, batch[i].DocID))
			continue
		}
		if err := p.store.InsertEmbedding(ctx, batch[i].ID, single[0], p.cfg.ModelID); err != nil {
			p.logger.Warn("storing embedding failed", "chunk_id", batch[i].ID, "error", err)
			deferredDocIDs = append(deferredDocIDs, p.deferDoc(ctx, batch[i].DocID))
			continue
		}
		embedded++
	}
	return embedded, compact(deferredDocIDs), nil
}

// deferDoc marks docID embedding_deferred and returns its id for the
// caller's dedup set, or "" if the mark itself failed (logged, not fatal:
// the document simply reappears on the next pass).
func (p *Pipeline) deferDoc(ctx context.Context, docID string) string {
	if err := p.store.SetEmbeddingDeferred(ctx, docID, true); err != nil {
		p.logger.Warn("marking embedding_deferred failed", "doc_id", docID, "error", err)
		return ""
	}
	return docID
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
