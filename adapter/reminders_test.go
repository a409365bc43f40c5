package adapter

import (
	"context"
	"testing"
)

type fakeRemindersReader struct{ records []ReminderRecord }

func (f fakeRemindersReader) FetchReminders(ctx context.Context, since string, limit int) ([]ReminderRecord, string, error) {
	if since != "" {
		return nil, since, nil
	}
	return f.records, "done", nil
}

func TestRemindersAdapterJoinsTitleAndNotes(t *testing.T) {
	reader := fakeRemindersReader{records: []ReminderRecord{
		{NativeID: "r1", Title: "Call plumber", Notes: "about the leak", Completed: false, DueAt: 123},
	}}
	a := NewRemindersAdapter(reader)

	got := collectPulled(a.Pull(context.Background(), nil, nil))
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got[0].Item.Content != "Call plumber\n\nabout the leak" {
		t.Errorf("got %q", got[0].Item.Content)
	}
	if got[0].Item.Metadata["completed"] != "false" {
		t.Errorf("expected completed=false in metadata, got %v", got[0].Item.Metadata)
	}
}
