package adapter

import (
	"context"
	"strings"
	"testing"
)

type fakeCalendarReader struct{ records []EventRecord }

func (f fakeCalendarReader) FetchEvents(ctx context.Context, since string, limit int) ([]EventRecord, string, error) {
	if since != "" {
		return nil, since, nil
	}
	return f.records, "done", nil
}

func TestCalendarAdapterSynthesizesContentFromTitleNotesLocationAttendees(t *testing.T) {
	reader := fakeCalendarReader{records: []EventRecord{
		{
			NativeID:  "e1",
			Title:     "Team sync",
			Notes:     "weekly check-in",
			Location:  "Room 4",
			Attendees: []string{"alice@example.com", "bob@example.com"},
		},
	}}
	a := NewCalendarAdapter(reader)

	got := collectPulled(a.Pull(context.Background(), nil, nil))
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	content := got[0].Item.Content
	for _, want := range []string{"Team sync", "weekly check-in", "Location: Room 4", "alice@example.com"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected content to contain %q, got %q", want, content)
		}
	}
}
