package adapter

import (
	"context"
	"fmt"
	"iter"

	"github.com/kenny-assistant/kenny/store"
)

type NoteRecord struct {
	NativeID  string
	Title     string
	Body      string
	CreatedAt int64
	UpdatedAt int64
}

type NotesReader interface {
	FetchNotes(ctx context.Context, since string, limit int) (records []NoteRecord, nextPosition string, err error)
}

// NotesAdapter has no typed side-table: a note's Title/Content are already
// the whole of its canonical shape.
type NotesAdapter struct {
	reader NotesReader
}

func NewNotesAdapter(reader NotesReader) *NotesAdapter {
	return &NotesAdapter{reader: reader}
}

func (a *NotesAdapter) Name() store.Source { return store.SourceNotes }

func (a *NotesAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchNotes(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *NotesAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
	position := ""
	if since != nil {
		position = since.Position
	}

	return func(yield func(Pulled) bool) {
		emitted := 0
		for {
			if ctx.Err() != nil {
				return
			}
			records, next, err := a.reader.FetchNotes(ctx, position, 200)
			if err != nil {
				yield(Pulled{Err: &RawItemError{Reason: err.Error()}})
				return
			}
			if len(records) == 0 {
				return
			}
			for _, rec := range records {
				if maxItems != nil && emitted >= *maxItems {
					return
				}
				if rec.NativeID == "" {
					if !yield(Pulled{Err: &RawItemError{Reason: fmt.Sprintf("note missing native id, title %q", rec.Title)}}) {
						return
					}
					continue
				}
				item := RawItem{
					SourceNativeID: rec.NativeID,
					Kind:           store.KindNote,
					Title:          rec.Title,
					Content:        rec.Body,
					CreatedAt:      rec.CreatedAt,
					UpdatedAt:      rec.UpdatedAt,
					Cursor:         next,
				}
				if !yield(Pulled{Item: item}) {
					return
				}
				emitted++
			}
			position = next
		}
	}
}
