package adapter

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kenny-assistant/kenny/store"
)

// ChatMessageRecord is one row from the live chat bridge (spec.md §6's
// external SQLite file, read-only from Kenny's side).
type ChatMessageRecord struct {
	ID        string
	ChatJID   string
	Sender    string
	Text      string
	IsFromMe  bool
	MediaKind string
	Timestamp int64
}

type ChatBridgeReader interface {
	FetchChatMessages(ctx context.Context, since string, limit int) (records []ChatMessageRecord, nextPosition string, err error)
}

// ChatAdapter is hybrid: Pull drains the live bridge for recent traffic;
// ImportArchive separately parses an archival text export. The two are
// distinct entry points rather than one Pull mode flag, since an archival
// import has no cursor-based resumption contract of its own (spec.md §4.2
// calls it a "bulk-import hint"). The Ingest Manager only calls Pull;
// ImportArchive is called directly on the ChatAdapter by its holder.
type ChatAdapter struct {
	reader ChatBridgeReader
}

func NewChatAdapter(reader ChatBridgeReader) *ChatAdapter {
	return &ChatAdapter{reader: reader}
}

func (a *ChatAdapter) Name() store.Source { return store.SourceChat }

func (a *ChatAdapter) Probe(ctx context.Context) ProbeResult {
	if _, _, err := a.reader.FetchChatMessages(ctx, "", 1); err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	return ProbeResult{Status: Ready}
}

// chatNativeID joins chat JID and bridge row id so a reinstalled bridge
// reusing row ids in a different chat database still produces a distinct
// identity; a reused (id, chat_jid) pair under the same bridge is treated
// as an update of the existing document rather than a new one.
func chatNativeID(chatJID, id string) string {
	return chatJID + "\x00" + id
}

func (a *ChatAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
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
			records, next, err := a.reader.FetchChatMessages(ctx, position, 200)
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
				if rec.ID == "" || rec.ChatJID == "" {
					if !yield(Pulled{Err: &RawItemError{NativeID: rec.ID, Reason: "chat message missing id or chat_jid"}}) {
						return
					}
					continue
				}
				item := RawItem{
					SourceNativeID: chatNativeID(rec.ChatJID, rec.ID),
					Kind:           store.KindChat,
					Title:          rec.Sender,
					Content:        normalizeMediaPlaceholder(rec.Text),
					CreatedAt:      rec.Timestamp,
					UpdatedAt:      rec.Timestamp,
					Cursor:         next,
					TypedFields: &store.ChatMessageFields{
						ChatJID:   rec.ChatJID,
						Sender:    rec.Sender,
						IsFromMe:  rec.IsFromMe,
						MediaKind: rec.MediaKind,
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

// archivalHeaderRe matches the conventional WhatsApp-style export line
// "[date, time] Sender: message", tolerating a non-breaking space (U+00A0)
// anywhere whitespace is conventionally used, since export tools commonly
// insert one between the time and the following bracket.
var archivalHeaderRe = regexp.MustCompile(`^\[([0-9/.\-]+),?[\s\x{00A0}]+([0-9:]+(?:[\s\x{00A0}]?[AaPp][Mm])?)\]\s*([^:]+):[\s\x{00A0}](.*)$`)

var mediaPlaceholderRe = regexp.MustCompile(`(?i)<?\s*(image|video|audio|sticker|gif|document)\s+omitted\s*>?`)

func normalizeMediaPlaceholder(text string) string {
	return mediaPlaceholderRe.ReplaceAllString(text, "[media]")
}

var archivalTimeLayouts = []string{
	"1/2/06, 15:04",
	"1/2/2006, 15:04",
	"01/02/06, 3:04 PM",
	"01/02/2006, 3:04 PM",
	"2006-01-02, 15:04",
}

func parseArchivalTimestamp(date, clock string) int64 {
	combined := date + ", " + clock
	for _, layout := range archivalTimeLayouts {
		if t, err := time.Parse(layout, combined); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// ImportArchive parses a single archival text export (spec.md §4.2's
// "bulk-import hint" path): one RawItem per message, continuation lines
// without a timestamp header folded into the preceding message, ordinal
// position in the file used as the synthetic native id suffix since
// archival exports carry no stable per-message id of their own.
func (a *ChatAdapter) ImportArchive(ctx context.Context, chatJID, path string) iter.Seq[Pulled] {
	return func(yield func(Pulled) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Pulled{Err: &RawItemError{Reason: fmt.Sprintf("opening archive %s: %v", path, err)}})
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var (
			ordinal   int
			sender    string
			timestamp int64
			body      strings.Builder
			pending   bool
		)

		flush := func() bool {
			if !pending {
				return true
			}
			ordinal++
			item := RawItem{
				SourceNativeID: chatNativeID(chatJID, fmt.Sprintf("archive:%d", ordinal)),
				Kind:           store.KindChat,
				Title:          sender,
				Content:        normalizeMediaPlaceholder(strings.TrimRight(body.String(), "\n")),
				CreatedAt:      timestamp,
				UpdatedAt:      timestamp,
				TypedFields: &store.ChatMessageFields{
					ChatJID: chatJID,
					Sender:  sender,
				},
			}
			body.Reset()
			pending = false
			return yield(Pulled{Item: item})
		}

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if m := archivalHeaderRe.FindStringSubmatch(line); m != nil {
				if !flush() {
					return
				}
				timestamp = parseArchivalTimestamp(m[1], m[2])
				sender = strings.TrimSpace(m[3])
				body.WriteString(m[4])
				pending = true
				continue
			}
			if pending {
				body.WriteString("\n")
				body.WriteString(line)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Pulled{Err: &RawItemError{Reason: fmt.Sprintf("reading archive %s: %v", path, err)}})
			return
		}
		flush()
	}
}
