package adapter

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

type ReminderRecord struct {
	NativeID  string
	Title     string
	Notes     string
	DueAt     int64
	Completed bool
	CreatedAt int64
	UpdatedAt int64
}

type RemindersReader interface {
	FetchReminders(ctx context.Context, since string, limit int) (records []ReminderRecord, nextPosition string, err error)
}

type RemindersAdapter struct {
	reader RemindersReader
}

func NewRemindersAdapter(reader RemindersReader) *RemindersAdapter {
	return &RemindersAdapter{reader: reader}
}

func (a *RemindersAdapter) Name() store.Source { return store.SourceReminders }

func (a *RemindersAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchReminders(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *RemindersAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
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
			records, next, err := a.reader.FetchReminders(ctx, position, 200)
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
					if !yield(Pulled{Err: &RawItemError{Reason: fmt.Sprintf("reminder missing native id, title %q", rec.Title)}}) {
						return
					}
					continue
				}
				content := rec.Title
				if rec.Notes != "" {
					content = strings.Join([]string{content, rec.Notes}, "\n\n")
				}
				item := RawItem{
					SourceNativeID: rec.NativeID,
					Kind:           store.KindReminder,
					Title:          rec.Title,
					Content:        content,
					CreatedAt:      rec.CreatedAt,
					UpdatedAt:      rec.UpdatedAt,
					Cursor:         next,
					Metadata: map[string]string{
						"completed": strconvBool(rec.Completed),
						"due_at":    strconvInt64(rec.DueAt),
					},
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

func strconvBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func strconvInt64(v int64) string {
	return fmt.Sprintf("%d", v)
}
