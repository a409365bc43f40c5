package store

import "crypto/sha256"
import "encoding/hex"
import "strings"

// Source identifies which collaborator produced a document.
type Source string

const (
	SourceMessages Source = "messages"
	SourceMail     Source = "mail"
	SourceCalendar Source = "calendar"
	SourceContacts Source = "contacts"
	SourceChat     Source = "chat"
	SourceNotes    Source = "notes"
	SourceReminders Source = "reminders"
	SourceFiles    Source = "files"
)

// Kind is the document's content shape, independent of which source
// produced it (a source maps to exactly one kind today, but the fields are
// kept distinct per the data model in SPEC_FULL.md §3).
type Kind string

const (
	KindMessage  Kind = "message"
	KindEmail    Kind = "email"
	KindEvent    Kind = "event"
	KindContact  Kind = "contact"
	KindNote     Kind = "note"
	KindReminder Kind = "reminder"
	KindFile     Kind = "file"
	KindChat     Kind = "chat_message"
)

// UpsertResult reports what UpsertDocument actually did.
type UpsertResult string

const (
	Inserted  UpsertResult = "inserted"
	Updated   UpsertResult = "updated"
	Unchanged UpsertResult = "unchanged"
)

// Document is a row in the documents table plus whichever typed side-table
// fields apply to its Kind. Exactly one of the typed-field pointers should
// be set, matching Kind.
type Document struct {
	DocID            string
	Source           Source
	Kind             Kind
	Title            string
	Content          string
	CreatedAt        int64
	UpdatedAt        int64
	IngestedAt       int64
	SourceNativeID   string
	ContentHash      string
	EmbeddingDeferred bool
	Metadata         map[string]string

	Email       *EmailFields
	Event       *EventFields
	Message     *MessageFields
	Contact     *ContactFields
	ChatMessage *ChatMessageFields
}

type EmailFields struct {
	From      string
	To        []string
	CC        []string
	Subject   string
	ThreadID  string
	MessageID string
	InReplyTo string
}

type EventFields struct {
	Start      int64
	End        int64
	Location   string
	Organizer  string
	Attendees  []string
	Status     string
	Recurrence string
}

type MessageFields struct {
	Handle    string
	Service   string
	IsFromMe  bool
	ChatID    string
}

type ContactFields struct {
	PrimaryPhone    string
	SecondaryPhone  string
	PrimaryEmail    string
	SecondaryEmail  string
	Organization    string
	Title           string
}

type ChatMessageFields struct {
	ChatJID   string
	Sender    string
	IsFromMe  bool
	MediaKind string
}

// Chunk is a row in the chunks table: a deterministic, ordinal-ordered
// slice of a document's content.
type Chunk struct {
	ID          int64
	DocID       string
	Ordinal     int
	Text        string
	CharStart   int
	CharEnd     int
	ContentHash string
}

// Cursor is a source's resumption point for incremental ingestion.
type Cursor struct {
	Source        Source
	Position      string
	LastSuccessAt int64
}

// FTSHit is one row of a lexical search result.
type FTSHit struct {
	DocID   string
	BM25    float64
	Snippet string
}

// VectorHit is one row of a vector search result, already collapsed to its
// originating document by the caller where required.
type VectorHit struct {
	ChunkID int64
	DocID   string
	Cosine  float64
}

// Stats summarizes store contents for the status() control-surface call.
type Stats struct {
	Documents  int64
	Chunks     int64
	Embeddings int64
	BySource   map[Source]int64
}

// DocID computes a document's identity as a pure function of (source,
// source_native_id), per SPEC_FULL.md §3.
func DocID(source Source, sourceNativeID string) string {
	return Hash(string(source), sourceNativeID)
}

// Hash returns a stable hex digest of its parts, joined by a separator that
// cannot appear inside any single part's expected alphabet (source names
// and native IDs are never NUL-containing).
func Hash(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
