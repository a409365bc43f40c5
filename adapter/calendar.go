package adapter

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

type EventRecord struct {
	NativeID   string
	Title      string
	Notes      string
	Location   string
	Organizer  string
	Attendees  []string
	Status     string
	Recurrence string
	Start      int64
	End        int64
	CreatedAt  int64
	UpdatedAt  int64
}

type CalendarReader interface {
	FetchEvents(ctx context.Context, since string, limit int) (records []EventRecord, nextPosition string, err error)
}

type CalendarAdapter struct {
	reader CalendarReader
}

func NewCalendarAdapter(reader CalendarReader) *CalendarAdapter {
	return &CalendarAdapter{reader: reader}
}

func (a *CalendarAdapter) Name() store.Source { return store.SourceCalendar }

func (a *CalendarAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchEvents(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *CalendarAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
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
			records, next, err := a.reader.FetchEvents(ctx, position, 200)
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
				item, err := canonicalizeEvent(rec, next)
				if err != nil {
					if !yield(Pulled{Err: &RawItemError{NativeID: rec.NativeID, Reason: err.Error()}}) {
						return
					}
					continue
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

func canonicalizeEvent(rec EventRecord, cursorAfter string) (RawItem, error) {
	if rec.NativeID == "" {
		return RawItem{}, fmt.Errorf("event record missing native id")
	}

	var parts []string
	if rec.Title != "" {
		parts = append(parts, rec.Title)
	}
	if rec.Notes != "" {
		parts = append(parts, rec.Notes)
	}
	if rec.Location != "" {
		parts = append(parts, "Location: "+rec.Location)
	}
	if len(rec.Attendees) > 0 {
		parts = append(parts, "Attendees: "+strings.Join(rec.Attendees, ", "))
	}

	return RawItem{
		SourceNativeID: rec.NativeID,
		Kind:           store.KindEvent,
		Title:          rec.Title,
		Content:        strings.Join(parts, "\n\n"),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Cursor:         cursorAfter,
		TypedFields: &store.EventFields{
			Start:      rec.Start,
			End:        rec.End,
			Location:   rec.Location,
			Organizer:  rec.Organizer,
			Attendees:  rec.Attendees,
			Status:     rec.Status,
			Recurrence: rec.Recurrence,
		},
	}, nil
}
