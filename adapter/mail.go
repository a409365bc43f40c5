package adapter

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

// MailRecord is one native email as a small reader sees it. Body is plain
// text; quoted-reply collapsing is the adapter's job, not the reader's, so
// readers stay a thin translation over whatever native API they wrap.
type MailRecord struct {
	NativeID  string
	From      string
	To        []string
	CC        []string
	Subject   string
	Body      string
	ThreadID  string
	MessageID string
	InReplyTo string
	CreatedAt int64
	UpdatedAt int64
}

type MailReader interface {
	FetchMail(ctx context.Context, since string, limit int) (records []MailRecord, nextPosition string, err error)
}

type MailAdapter struct {
	reader MailReader
}

func NewMailAdapter(reader MailReader) *MailAdapter {
	return &MailAdapter{reader: reader}
}

func (a *MailAdapter) Name() store.Source { return store.SourceMail }

func (a *MailAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchMail(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

func (a *MailAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
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
			records, next, err := a.reader.FetchMail(ctx, position, 200)
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
				item, err := canonicalizeMail(rec, next)
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

// quotedReplyMarker matches the conventional "On <date>, <name> wrote:"
// header that precedes a verbatim quoted reply chain in plain-text mail.
var quotedReplyMarker = regexp.MustCompile(`(?m)^(On .+ wrote:|-{2,}\s*Original Message\s*-{2,}|>.*)$`)

// collapseQuotedReply keeps the first line matching the quote marker and
// drops everything after it, preserving that line verbatim rather than
// paraphrasing or stripping the marker itself, per spec.md §4.2.
func collapseQuotedReply(body string) string {
	loc := quotedReplyMarker.FindStringIndex(body)
	if loc == nil {
		return body
	}
	lineEnd := strings.IndexByte(body[loc[0]:], '\n')
	if lineEnd == -1 {
		return body
	}
	return strings.TrimRight(body[:loc[0]+lineEnd], "\n")
}

func canonicalizeMail(rec MailRecord, cursorAfter string) (RawItem, error) {
	if rec.NativeID == "" {
		return RawItem{}, fmt.Errorf("mail record missing native id")
	}

	content := collapseQuotedReply(rec.Body)
	if rec.Subject != "" {
		content = rec.Subject + "\n\n" + content
	}

	return RawItem{
		SourceNativeID: rec.NativeID,
		Kind:           store.KindEmail,
		Title:          rec.Subject,
		Content:        content,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Cursor:         cursorAfter,
		TypedFields: &store.EmailFields{
			From:      rec.From,
			To:        rec.To,
			CC:        rec.CC,
			Subject:   rec.Subject,
			ThreadID:  rec.ThreadID,
			MessageID: rec.MessageID,
			InReplyTo: rec.InReplyTo,
		},
	}, nil
}
