// Package adapter holds the source adapters: the only components allowed to
// know anything about a native data source's shape. Adapters are strictly
// producers — they translate native records into canonical RawItems and
// never touch the Store.
package adapter

import (
	"context"
	"fmt"
	"iter"

	"github.com/kenny-assistant/kenny/store"
)

// RawItem is an adapter's canonical output: everything the Ingest Manager
// needs to upsert a document, before any store-specific identity hashing.
type RawItem struct {
	SourceNativeID string
	Kind           store.Kind
	Title          string
	Content        string
	CreatedAt      int64
	UpdatedAt      int64
	Metadata       map[string]string
	TypedFields    any

	// Cursor is the adapter's opaque resumption position immediately after
	// this item. The Ingest Manager advances the persisted cursor to the
	// Cursor of the last item in the last successfully committed batch, so
	// a crash loses at most the current batch rather than the whole pull.
	Cursor string
}

// RawItemError reports a single record's parse failure without aborting
// the rest of the pull.
type RawItemError struct {
	NativeID string
	Reason   string
}

func (e RawItemError) Error() string {
	return fmt.Sprintf("adapter: record %s: %s", e.NativeID, e.Reason)
}

// ProbeStatus is an adapter's self-reported readiness.
type ProbeStatus int

const (
	Ready ProbeStatus = iota
	NeedsPermission
	Unavailable
)

// ProbeResult is the outcome of Probe. Hint is set only for
// NeedsPermission (what the user must grant); Reason only for Unavailable
// (why the source can't be reached at all).
type ProbeResult struct {
	Status ProbeStatus
	Hint   string
	Reason string
}

// Pulled is one event from a Pull sequence: either a successfully
// canonicalized item, or an in-band per-record error. Exactly one of Item/
// Err is meaningful, discriminated by Err being non-nil.
type Pulled struct {
	Item RawItem
	Err  *RawItemError
}

// Adapter is the uniform producer contract every source implements.
type Adapter interface {
	// Name identifies which source this adapter produces documents for.
	Name() store.Source

	// Probe reports whether the source can currently be pulled from,
	// without performing a pull.
	Probe(ctx context.Context) ProbeResult

	// Pull returns a lazy sequence of canonical items (or per-record
	// errors), optionally resuming from a prior cursor and capped at
	// maxItems. The sequence stops early if the consuming range loop
	// breaks, or if ctx is canceled.
	Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled]
}

// Registry maps a Source to the Adapter that produces it, grounded on the
// teacher's parser.Registry (map[string]Parser + Get/Register), keyed here
// by Source instead of file format.
type Registry struct {
	adapters map[store.Source]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[store.Source]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(source store.Source) (Adapter, bool) {
	a, ok := r.adapters[source]
	return a, ok
}

func (r *Registry) Sources() []store.Source {
	sources := make([]store.Source, 0, len(r.adapters))
	for s := range r.adapters {
		sources = append(sources, s)
	}
	return sources
}
