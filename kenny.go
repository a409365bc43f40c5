// Package kenny wires the Store, Source Adapters, Ingest Manager,
// Embedding Pipeline, Hybrid Search and Query Planner into the five
// operations of the Control Surface, per SPEC_FULL.md §4.7.
package kenny

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kenny-assistant/kenny/adapter"
	"github.com/kenny-assistant/kenny/chunker"
	"github.com/kenny-assistant/kenny/embedder"
	"github.com/kenny-assistant/kenny/filetext"
	"github.com/kenny-assistant/kenny/ingest"
	"github.com/kenny-assistant/kenny/pipeline"
	"github.com/kenny-assistant/kenny/planner"
	"github.com/kenny-assistant/kenny/retrieval"
	"github.com/kenny-assistant/kenny/store"
)

// Engine is the Control Surface: a thin facade exposing status, ingest,
// search, nl_query and fetch_document, with no escape hatch into the
// Store's internals, per SPEC_FULL.md §4.7.
type Engine interface {
	Status(ctx context.Context) (Status, error)
	Ingest(ctx context.Context, sources []store.Source, opts ...IngestOption) (*ingest.Report, error)
	Search(ctx context.Context, query string, filters retrieval.Filters, opts ...SearchOption) (*retrieval.Result, error)
	NLQuery(ctx context.Context, text string, opts ...SearchOption) (*retrieval.Result, error)
	FetchDocument(ctx context.Context, docID string) (*store.Document, error)
	Close() error
}

// Status summarizes engine state for the status() control-surface call.
type Status struct {
	Stats   store.Stats
	Sources []store.Source
}

// Readers bundles the platform-specific source readers the adapters need.
// Each is optional: an adapter is only registered when its reader is
// non-nil (or, for Files, when FilesRoot is set), so a deployment that
// can only supply some sources still gets a working engine for the rest.
type Readers struct {
	Calendar  adapter.CalendarReader
	Chat      adapter.ChatBridgeReader
	Contacts  adapter.ContactsReader
	Mail      adapter.MailReader
	Messages  adapter.MessagesReader
	Notes     adapter.NotesReader
	Reminders adapter.RemindersReader
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingest.Options)

func WithFullSync() IngestOption { return func(o *ingest.Options) { o.FullSync = true } }
func WithDryRun() IngestOption   { return func(o *ingest.Options) { o.DryRun = true } }

func WithIngestBatchSize(n int) IngestOption {
	return func(o *ingest.Options) { o.BatchSize = n }
}
func WithMaxItems(n int) IngestOption {
	return func(o *ingest.Options) { o.MaxItems = &n }
}

// SearchOption configures a single Search or NLQuery call.
type SearchOption func(*retrieval.Options)

func WithLimit(n int) SearchOption {
	return func(o *retrieval.Options) { o.Limit = n }
}
func WithWeights(bm25, vec float64) SearchOption {
	return func(o *retrieval.Options) { o.WeightBM25, o.WeightVec = bm25, vec }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	registry  *adapter.Registry
	ingester  *ingest.Manager
	pipeline  *pipeline.Pipeline
	retriever *retrieval.Engine
	planner   *planner.Planner
	logger    *slog.Logger
}

// New opens the store at cfg's resolved path, wires every adapter whose
// reader was supplied, and returns a ready-to-use Engine. Run the
// Embedding Pipeline yourself (RunPipeline) on whatever cadence the
// deployment wants; New does not start any background goroutine, matching
// spec.md §5's "runs as a background task, or synchronously on demand".
func New(cfg Config, readers Readers, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(context.Background(), cfg.ResolveDBPath(), cfg.Embedder.Dim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := adapter.NewRegistry()
	registerAdapters(registry, cfg, readers)

	ingester := ingest.New(st, registry, logger)

	emb := embedder.New(embedder.Config{
		BaseURL: cfg.Embedder.BaseURL,
		Model:   cfg.Embedder.Model,
		Dim:     cfg.Embedder.Dim,
		Timeout: cfg.EmbedCallTimeout,
	})
	ch := chunker.New(chunker.Config{
		SoftCapTokens: cfg.ChunkSoftCapTokens,
		HardCapTokens: cfg.ChunkHardCapTokens,
	})
	pl := pipeline.New(st, ch, emb, pipeline.Config{
		ModelID:     cfg.Embedder.Model,
		Concurrency: cfg.EmbedConcurrency,
		EmbedBatch:  cfg.EmbedBatchSize,
	}, logger)

	retriever := retrieval.New(st, emb, cfg.Embedder.Model, logger)
	plnr := planner.New(st, retriever, logger)

	return &engine{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		ingester:  ingester,
		pipeline:  pl,
		retriever: retriever,
		planner:   plnr,
		logger:    logger.With("component", "engine"),
	}, nil
}

func registerAdapters(registry *adapter.Registry, cfg Config, r Readers) {
	if r.Calendar != nil {
		registry.Register(adapter.NewCalendarAdapter(r.Calendar))
	}
	if r.Chat != nil {
		registry.Register(adapter.NewChatAdapter(r.Chat))
	}
	if r.Contacts != nil {
		registry.Register(adapter.NewContactsAdapter(r.Contacts))
	}
	if r.Mail != nil {
		registry.Register(adapter.NewMailAdapter(r.Mail))
	}
	if r.Messages != nil {
		registry.Register(adapter.NewMessagesAdapter(r.Messages))
	}
	if r.Notes != nil {
		registry.Register(adapter.NewNotesAdapter(r.Notes))
	}
	if r.Reminders != nil {
		registry.Register(adapter.NewRemindersAdapter(r.Reminders))
	}
	if cfg.FilesRoot != "" {
		registry.Register(adapter.NewFilesAdapter(cfg.FilesRoot, filetext.NewDefaultRegistry()))
	}
}

func (e *engine) Status(ctx context.Context) (Status, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading stats: %w", err)
	}
	return Status{Stats: stats, Sources: e.registry.Sources()}, nil
}

func (e *engine) Ingest(ctx context.Context, sources []store.Source, opts ...IngestOption) (*ingest.Report, error) {
	if len(sources) == 0 {
		sources = e.registry.Sources()
	}
	options := ingest.DefaultOptions()
	options.BatchSize = e.cfg.IngestBatchSize
	for _, opt := range opts {
		opt(&options)
	}
	return e.ingester.Ingest(ctx, sources, options)
}

// RunPipeline runs one Embedding Pipeline pass. Not part of the Engine
// interface's five control-surface operations (spec.md §4.7 names only
// status/ingest/search/nl_query/fetch_document); exposed as a method on
// the concrete engine for whatever caller schedules it.
func (e *engine) RunPipeline(ctx context.Context) (*pipeline.Report, error) {
	return e.pipeline.Run(ctx)
}

func (e *engine) Search(ctx context.Context, query string, filters retrieval.Filters, opts ...SearchOption) (*retrieval.Result, error) {
	options := retrieval.Options{WeightBM25: e.cfg.WeightBM25, WeightVec: e.cfg.WeightVector}
	for _, opt := range opts {
		opt(&options)
	}
	result, err := e.retriever.Search(ctx, query, filters, options)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return result, nil
}

func (e *engine) NLQuery(ctx context.Context, text string, opts ...SearchOption) (*retrieval.Result, error) {
	plan, err := e.planner.Plan(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanFailed, err)
	}

	options := retrieval.Options{WeightBM25: e.cfg.WeightBM25, WeightVec: e.cfg.WeightVector}
	for _, opt := range opts {
		opt(&options)
	}
	limit := options.Limit
	if limit <= 0 {
		limit = 20
	}
	result, err := e.planner.Execute(ctx, plan, limit)
	if err != nil {
		return nil, fmt.Errorf("nl_query: %w", err)
	}
	return result, nil
}

func (e *engine) FetchDocument(ctx context.Context, docID string) (*store.Document, error) {
	doc, err := e.store.FetchDocument(ctx, docID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}
