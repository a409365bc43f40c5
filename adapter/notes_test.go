package adapter

import (
	"context"
	"testing"
)

type fakeNotesReader struct{ records []NoteRecord }

func (f fakeNotesReader) FetchNotes(ctx context.Context, since string, limit int) ([]NoteRecord, string, error) {
	if since != "" {
		return nil, since, nil
	}
	return f.records, "done", nil
}

func TestNotesAdapterPassesBodyThroughVerbatim(t *testing.T) {
	reader := fakeNotesReader{records: []NoteRecord{{NativeID: "n1", Title: "Groceries", Body: "milk\n\neggs"}}}
	a := NewNotesAdapter(reader)

	got := collectPulled(a.Pull(context.Background(), nil, nil))
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got[0].Item.Content != "milk\n\neggs" {
		t.Errorf("got %q", got[0].Item.Content)
	}
	if got[0].Item.TypedFields != nil {
		t.Errorf("expected no typed side-table fields for a note, got %v", got[0].Item.TypedFields)
	}
}

func TestNotesAdapterMissingNativeIDIsInBandError(t *testing.T) {
	reader := fakeNotesReader{records: []NoteRecord{{NativeID: "", Title: "untitled"}}}
	a := NewNotesAdapter(reader)

	got := collectPulled(a.Pull(context.Background(), nil, nil))
	if len(got) != 1 || got[0].Err == nil {
		t.Fatalf("expected an in-band error, got %+v", got)
	}
}
