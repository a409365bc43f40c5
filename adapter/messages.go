package adapter

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

// MessageRecord is one native message as a small reader sees it. A real
// deployment's reader implementation is the only code that ever touches
// the OS message store; everything in this file is pure translation.
type MessageRecord struct {
	NativeID  string
	Handle    string
	Service   string
	Text      string
	ChatID    string
	IsFromMe  bool
	CreatedAt int64
	UpdatedAt int64
}

// MessagesReader is the narrow contract a real message-store reader must
// satisfy. Position is an opaque, reader-defined resumption token (e.g. a
// row id or a timestamp), never interpreted by the adapter.
type MessagesReader interface {
	FetchMessages(ctx context.Context, since string, limit int) (records []MessageRecord, nextPosition string, err error)
}

// MessagesAdapter canonicalizes native messages into RawItems, prefixing
// content with the sending service/handle per spec.md §4.2.
type MessagesAdapter struct {
	reader MessagesReader
}

func NewMessagesAdapter(reader MessagesReader) *MessagesAdapter {
	return &MessagesAdapter{reader: reader}
}

func (a *MessagesAdapter) Name() store.Source { return store.SourceMessages }

func (a *MessagesAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchMessages(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *MessagesAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
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
			batchLimit := 200
			records, next, err := a.reader.FetchMessages(ctx, position, batchLimit)
			if err != nil {
				yield(Pulled{Err: &RawItemError{NativeID: "", Reason: err.Error()}})
				return
			}
			if len(records) == 0 {
				return
			}
			for _, rec := range records {
				if maxItems != nil && emitted >= *maxItems {
					return
				}
				item, err := canonicalizeMessage(rec, next)
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

func canonicalizeMessage(rec MessageRecord, cursorAfter string) (RawItem, error) {
	if rec.NativeID == "" {
		return RawItem{}, fmt.Errorf("message record missing native id")
	}

	var b strings.Builder
	if rec.Service != "" {
		b.WriteString("[" + rec.Service + "] ")
	}
	if rec.Handle != "" {
		b.WriteString(rec.Handle + ": ")
	}
	b.WriteString(rec.Text)

	return RawItem{
		SourceNativeID: rec.NativeID,
		Kind:           store.KindMessage,
		Title:          rec.Handle,
		Content:        b.String(),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Cursor:         cursorAfter,
		TypedFields: &store.MessageFields{
			Handle:   rec.Handle,
			Service:  rec.Service,
			IsFromMe: rec.IsFromMe,
			ChatID:   rec.ChatID,
		},
	}, nil
}
