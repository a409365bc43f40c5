// Package store is Kenny's SQLite persistence layer: document registry,
// chunk table, FTS5 lexical index and sqlite-vec vector index, plus the
// typed side-tables for each document kind.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlitevec.Auto()
}

// Store owns a single SQLite database file. Writes are serialized through
// writeMu because SQLite's single-writer model otherwise surfaces as
// SQLITE_BUSY under concurrent ingestion + embedding workers; reads pass
// straight through to database/sql's own pool.
type Store struct {
	db           *sql.DB
	embeddingDim int
	writeMu      sync.Mutex
}

// Open opens (creating if absent) the database at path, applies pending
// migrations and bootstraps the vector table at embeddingDim. WAL mode and
// a busy timeout let concurrent readers coexist with the single writer.
func Open(ctx context.Context, path string, embeddingDim int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrCorrupt, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrCorrupt, err)
	}

	s := &Store{db: db, embeddingDim: embeddingDim}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// inTx runs fn inside a transaction, committing on success and rolling
// back on any error including a panic, which it re-raises after rollback.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// repeatPlaceholders returns ",?" repeated n times, for building IN (?...)
// clauses whose first placeholder is already written by the caller.
func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(",?")
	}
	return b.String()
}

// serializeFloat32 little-endian-encodes a vector for sqlite-vec's blob
// input format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// UpsertDocument inserts a new document, updates a changed one in place, or
// leaves an unchanged one's content and chunks untouched (only ingested_at
// advances). It never deletes-then-reinserts the documents row: the row's
// own rowid must stay stable so the FTS5 external-content triggers and the
// row's existing chunk references remain valid across an update.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (UpsertResult, error) {
	var result UpsertResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := s.upsertDocumentTx(ctx, tx, doc)
		result = r
		return err
	})
	return result, err
}

// upsertDocumentTx does the actual work against an already-open
// transaction, shared by UpsertDocument's own single-call transaction and
// by Batch.UpsertDocument, which groups many of these into one transaction
// per spec.md §4.3 ("each batch is one transaction").
func (s *Store) upsertDocumentTx(ctx context.Context, tx *sql.Tx, doc Document) (result UpsertResult, err error) {
	result = Unchanged

	err = func() error {
		var existingHash string
		err := tx.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE doc_id = ?`, doc.DocID).Scan(&existingHash)

		switch {
		case err == sql.ErrNoRows:
			result = Inserted
		case err != nil:
			return fmt.Errorf("reading existing document: %w", err)
		case existingHash == doc.ContentHash:
			result = Unchanged
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET ingested_at = ? WHERE doc_id = ?`,
				doc.IngestedAt, doc.DocID); err != nil {
				return fmt.Errorf("touching ingested_at: %w", err)
			}
			return nil
		default:
			result = Updated
		}

		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		deferred := 0
		if doc.EmbeddingDeferred {
			deferred = 1
		}

		switch result {
		case Inserted:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (
					doc_id, source, kind, title, content, created_at, updated_at,
					ingested_at, source_native_id, content_hash, embedding_deferred, metadata
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				doc.DocID, string(doc.Source), string(doc.Kind), doc.Title, doc.Content,
				doc.CreatedAt, doc.UpdatedAt, doc.IngestedAt, doc.SourceNativeID,
				doc.ContentHash, deferred, string(metadataJSON))
		case Updated:
			_, err = tx.ExecContext(ctx, `
				UPDATE documents SET
					title = ?, content = ?, updated_at = ?, ingested_at = ?,
					content_hash = ?, embedding_deferred = ?, metadata = ?
				WHERE doc_id = ?`,
				doc.Title, doc.Content, doc.UpdatedAt, doc.IngestedAt,
				doc.ContentHash, deferred, string(metadataJSON), doc.DocID)
		}
		if err != nil {
			return fmt.Errorf("%w: writing document row: %v", ErrConstraintViolation, err)
		}

		return upsertSideTable(ctx, tx, doc)
	}()

	return result, err
}

func upsertSideTable(ctx context.Context, tx *sql.Tx, doc Document) error {
	switch doc.Kind {
	case KindEmail:
		if doc.Email == nil {
			return nil
		}
		to, _ := json.Marshal(doc.Email.To)
		cc, _ := json.Marshal(doc.Email.CC)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO emails (doc_id, from_addr, to_addrs, cc_addrs, subject, thread_id, message_id, in_reply_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				from_addr = excluded.from_addr, to_addrs = excluded.to_addrs, cc_addrs = excluded.cc_addrs,
				subject = excluded.subject, thread_id = excluded.thread_id,
				message_id = excluded.message_id, in_reply_to = excluded.in_reply_to`,
			doc.DocID, doc.Email.From, string(to), string(cc), doc.Email.Subject,
			doc.Email.ThreadID, doc.Email.MessageID, doc.Email.InReplyTo)
		return err

	case KindEvent:
		if doc.Event == nil {
			return nil
		}
		attendees, _ := json.Marshal(doc.Event.Attendees)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (doc_id, start_at, end_at, location, organizer, attendees, status, recurrence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				start_at = excluded.start_at, end_at = excluded.end_at, location = excluded.location,
				organizer = excluded.organizer, attendees = excluded.attendees,
				status = excluded.status, recurrence = excluded.recurrence`,
			doc.DocID, doc.Event.Start, doc.Event.End, doc.Event.Location,
			doc.Event.Organizer, string(attendees), doc.Event.Status, doc.Event.Recurrence)
		return err

	case KindMessage:
		if doc.Message == nil {
			return nil
		}
		isFromMe := 0
		if doc.Message.IsFromMe {
			isFromMe = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (doc_id, handle, service, is_from_me, chat_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				handle = excluded.handle, service = excluded.service,
				is_from_me = excluded.is_from_me, chat_id = excluded.chat_id`,
			doc.DocID, doc.Message.Handle, doc.Message.Service, isFromMe, doc.Message.ChatID)
		return err

	case KindContact:
		if doc.Contact == nil {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (doc_id, primary_phone, secondary_phone, primary_email, secondary_email, organization, title)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				primary_phone = excluded.primary_phone, secondary_phone = excluded.secondary_phone,
				primary_email = excluded.primary_email, secondary_email = excluded.secondary_email,
				organization = excluded.organization, title = excluded.title`,
			doc.DocID, doc.Contact.PrimaryPhone, doc.Contact.SecondaryPhone,
			doc.Contact.PrimaryEmail, doc.Contact.SecondaryEmail, doc.Contact.Organization, doc.Contact.Title)
		return err

	case KindChat:
		if doc.ChatMessage == nil {
			return nil
		}
		isFromMe := 0
		if doc.ChatMessage.IsFromMe {
			isFromMe = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (doc_id, chat_jid, sender, is_from_me, media_kind)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				chat_jid = excluded.chat_jid, sender = excluded.sender,
				is_from_me = excluded.is_from_me, media_kind = excluded.media_kind`,
			doc.DocID, doc.ChatMessage.ChatJID, doc.ChatMessage.Sender, isFromMe, doc.ChatMessage.MediaKind)
		return err

	default:
		// Notes, reminders and files carry no typed side-table: their full
		// content already lives on the documents row.
		return nil
	}
}

// DeleteBySource removes every document (and, via ON DELETE CASCADE, its
// chunks, embeddings metadata and typed side-table row) for source. Used by
// full_sync to establish a clean baseline before re-ingesting. vec_chunks
// rows are cleaned up explicitly first since sqlite-vec's virtual table
// does not participate in foreign-key cascades.
func (s *Store) DeleteBySource(ctx context.Context, source Source) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		count, err := deleteBySourceTx(ctx, tx, source)
		n = count
		return err
	})
	return n, err
}

func deleteBySourceTx(ctx context.Context, tx *sql.Tx, source Source) (int64, error) {
	var n int64
	err := func() error {
		rows, err := tx.QueryContext(ctx, `
			SELECT c.id FROM chunks c JOIN documents d ON d.doc_id = c.doc_id WHERE d.source = ?`, string(source))
		if err != nil {
			return fmt.Errorf("listing chunks to purge: %w", err)
		}
		var chunkIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			chunkIDs = append(chunkIDs, id)
		}
		rows.Close()

		for _, id := range chunkIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id = ?`, id); err != nil {
				return fmt.Errorf("purging vector row %d: %w", id, err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source = ?`, string(source))
		if err != nil {
			return fmt.Errorf("deleting documents for source %s: %w", source, err)
		}
		n, err = res.RowsAffected()
		return err
	}()
	return n, err
}

// InsertChunks reconciles a document's chunk set against freshly computed
// chunks. A chunk at an ordinal whose text and offsets are byte-identical
// to what's already stored is left untouched, preserving its row id and
// any embedding already computed for it. Anything else at that ordinal is
// overwritten and its embedding invalidated, since the text it was computed
// over no longer exists. Ordinals beyond the new chunk count are dropped
// entirely, for documents that got shorter on re-ingestion.
func (s *Store) InsertChunks(ctx context.Context, docID string, chunks []Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertChunksTx(ctx, tx, docID, chunks)
	})
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, docID string, chunks []Chunk) error {
	{
		type existingChunk struct {
			id                 int64
			text               string
			charStart, charEnd int
		}
		existing := map[int]existingChunk{}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, ordinal, text, char_start, char_end FROM chunks WHERE doc_id = ?`, docID)
		if err != nil {
			return fmt.Errorf("reading existing chunks: %w", err)
		}
		for rows.Next() {
			var ord int
			var ec existingChunk
			if err := rows.Scan(&ec.id, &ord, &ec.text, &ec.charStart, &ec.charEnd); err != nil {
				rows.Close()
				return err
			}
			existing[ord] = ec
		}
		rows.Close()

		for _, c := range chunks {
			ex, ok := existing[c.Ordinal]
			if ok && ex.text == c.Text && ex.charStart == c.CharStart && ex.charEnd == c.CharEnd {
				continue
			}
			if ok {
				if _, err := tx.ExecContext(ctx,
					`UPDATE chunks SET text = ?, char_start = ?, char_end = ?, content_hash = ? WHERE id = ?`,
					c.Text, c.CharStart, c.CharEnd, c.ContentHash, ex.id); err != nil {
					return fmt.Errorf("updating chunk %d: %w", ex.id, err)
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id = ?`, ex.id); err != nil {
					return fmt.Errorf("invalidating vector for chunk %d: %w", ex.id, err)
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings_meta WHERE chunk_id = ?`, ex.id); err != nil {
					return fmt.Errorf("invalidating embedding metadata for chunk %d: %w", ex.id, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (doc_id, ordinal, text, char_start, char_end, content_hash) VALUES (?, ?, ?, ?, ?, ?)`,
				docID, c.Ordinal, c.Text, c.CharStart, c.CharEnd, c.ContentHash); err != nil {
				return fmt.Errorf("%w: inserting chunk: %v", ErrConstraintViolation, err)
			}
		}

		staleRows, err := tx.QueryContext(ctx,
			`SELECT id FROM chunks WHERE doc_id = ? AND ordinal >= ?`, docID, len(chunks))
		if err != nil {
			return fmt.Errorf("listing stale chunks: %w", err)
		}
		var staleIDs []int64
		for staleRows.Next() {
			var id int64
			if err := staleRows.Scan(&id); err != nil {
				staleRows.Close()
				return err
			}
			staleIDs = append(staleIDs, id)
		}
		staleRows.Close()

		for _, id := range staleIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id = ?`, id); err != nil {
				return fmt.Errorf("purging stale vector %d: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ? AND ordinal >= ?`, docID, len(chunks)); err != nil {
			return fmt.Errorf("deleting stale chunks: %w", err)
		}
		return nil
	}
}

// InsertEmbedding writes chunkID's vector and records which model produced
// it. Re-embedding the same chunk with the same or a different model
// overwrites both rows in place.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, vector []float32, modelID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`,
			chunkID, serializeFloat32(vector)); err != nil {
			return fmt.Errorf("writing vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings_meta (chunk_id, model_id, dim, created_at) VALUES (?, ?, ?, unixepoch())
			ON CONFLICT(chunk_id) DO UPDATE SET model_id = excluded.model_id, dim = excluded.dim, created_at = excluded.created_at`,
			chunkID, modelID, len(vector)); err != nil {
			return fmt.Errorf("writing embedding metadata: %w", err)
		}
		return nil
	})
}

// SearchFTS runs a BM25 lexical search. Scores are FTS5's own bm25() output
// negated to a positive, higher-is-better scale; snippets come from
// FTS5's snippet(), never a stored column.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc_id, -bm25(documents_fts) AS score, snippet(documents_fts, 1, '[', ']', '…', 12)
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.DocID, &h.BM25, &h.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchVectors runs an approximate k-nearest-neighbors search against
// vec_chunks and post-filters to the requested embedding model, since
// vec0's MATCH clause cannot itself express a join predicate. It
// over-fetches to absorb whatever the filter discards.
func (s *Store) SearchVectors(ctx context.Context, vector []float32, limit int, modelID string) ([]VectorHit, error) {
	overfetch := limit * 4
	if overfetch < limit {
		overfetch = limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, distance FROM vec_chunks WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		serializeFloat32(vector), overfetch)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	distanceByID := map[int64]float64{}
	var ids []int64
	for rows.Next() {
		var id int64
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			rows.Close()
			return nil, err
		}
		distanceByID[id] = dist
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	joinRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.doc_id, m.model_id FROM chunks c
		JOIN embeddings_meta m ON m.chunk_id = c.id
		WHERE c.id IN (?`+repeatPlaceholders(len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("joining chunk metadata: %w", err)
	}
	defer joinRows.Close()

	var hits []VectorHit
	for joinRows.Next() {
		var id int64
		var docID, mID string
		if err := joinRows.Scan(&id, &docID, &mID); err != nil {
			return nil, err
		}
		if mID != modelID {
			continue
		}
		hits = append(hits, VectorHit{ChunkID: id, DocID: docID, Cosine: 1 - distanceByID[id]})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Cosine > hits[j].Cosine })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, joinRows.Err()
}

// FetchDocument returns a document and its typed side-table fields, or
// ErrNotFound.
func (s *Store) FetchDocument(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	var metadataJSON string
	var deferred int
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, source, kind, title, content, created_at, updated_at,
		       ingested_at, source_native_id, content_hash, embedding_deferred, metadata
		FROM documents WHERE doc_id = ?`, docID).Scan(
		&doc.DocID, &doc.Source, &doc.Kind, &doc.Title, &doc.Content,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.IngestedAt, &doc.SourceNativeID,
		&doc.ContentHash, &deferred, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	doc.EmbeddingDeferred = deferred != 0
	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	if err := fetchSideTable(ctx, s.db, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func fetchSideTable(ctx context.Context, db *sql.DB, doc *Document) error {
	switch doc.Kind {
	case KindEmail:
		var f EmailFields
		var to, cc string
		err := db.QueryRowContext(ctx, `
			SELECT from_addr, to_addrs, cc_addrs, subject, thread_id, message_id, in_reply_to
			FROM emails WHERE doc_id = ?`, doc.DocID).Scan(
			&f.From, &to, &cc, &f.Subject, &f.ThreadID, &f.MessageID, &f.InReplyTo)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching email fields: %w", err)
		}
		json.Unmarshal([]byte(to), &f.To)
		json.Unmarshal([]byte(cc), &f.CC)
		doc.Email = &f

	case KindEvent:
		var f EventFields
		var attendees string
		err := db.QueryRowContext(ctx, `
			SELECT start_at, end_at, location, organizer, attendees, status, recurrence
			FROM events WHERE doc_id = ?`, doc.DocID).Scan(
			&f.Start, &f.End, &f.Location, &f.Organizer, &attendees, &f.Status, &f.Recurrence)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching event fields: %w", err)
		}
		json.Unmarshal([]byte(attendees), &f.Attendees)
		doc.Event = &f

	case KindMessage:
		var f MessageFields
		var isFromMe int
		err := db.QueryRowContext(ctx, `
			SELECT handle, service, is_from_me, chat_id FROM messages WHERE doc_id = ?`, doc.DocID).Scan(
			&f.Handle, &f.Service, &isFromMe, &f.ChatID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching message fields: %w", err)
		}
		f.IsFromMe = isFromMe != 0
		doc.Message = &f

	case KindContact:
		var f ContactFields
		err := db.QueryRowContext(ctx, `
			SELECT primary_phone, secondary_phone, primary_email, secondary_email, organization, title
			FROM contacts WHERE doc_id = ?`, doc.DocID).Scan(
			&f.PrimaryPhone, &f.SecondaryPhone, &f.PrimaryEmail, &f.SecondaryEmail, &f.Organization, &f.Title)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching contact fields: %w", err)
		}
		doc.Contact = &f

	case KindChat:
		var f ChatMessageFields
		var isFromMe int
		err := db.QueryRowContext(ctx, `
			SELECT chat_jid, sender, is_from_me, media_kind FROM chat_messages WHERE doc_id = ?`, doc.DocID).Scan(
			&f.ChatJID, &f.Sender, &isFromMe, &f.MediaKind)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching chat message fields: %w", err)
		}
		f.IsFromMe = isFromMe != 0
		doc.ChatMessage = &f
	}
	return nil
}

// GetCursor returns a source's resumption point, or a zero-value Cursor if
// the source has never completed a batch.
func (s *Store) GetCursor(ctx context.Context, source Source) (Cursor, error) {
	c := Cursor{Source: source}
	err := s.db.QueryRowContext(ctx,
		`SELECT position, last_success_at FROM sources_cursor WHERE source = ?`, string(source)).
		Scan(&c.Position, &c.LastSuccessAt)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading cursor: %w", err)
	}
	return c, nil
}

// SetCursor advances source's resumption point after a successfully
// committed batch.
func (s *Store) SetCursor(ctx context.Context, c Cursor) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setCursorTx(ctx, tx, c)
	})
}

func setCursorTx(ctx context.Context, tx *sql.Tx, c Cursor) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sources_cursor (source, position, last_success_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET position = excluded.position, last_success_at = excluded.last_success_at`,
		string(c.Source), c.Position, c.LastSuccessAt)
	return err
}

// Stats reports document/chunk/embedding counts for the status() operation.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	st.BySource = map[Source]int64{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return st, fmt.Errorf("counting documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, fmt.Errorf("counting chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings_meta`).Scan(&st.Embeddings); err != nil {
		return st, fmt.Errorf("counting embeddings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM documents GROUP BY source`)
	if err != nil {
		return st, fmt.Errorf("counting documents by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return st, err
		}
		st.BySource[Source(src)] = n
	}
	return st, rows.Err()
}

// ContactNames returns every contact document's title, for the Query
// Planner's person-name extractor to match against (spec.md §4.6).
func (s *Store) ContactNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title FROM documents WHERE kind = ?`, string(KindContact))
	if err != nil {
		return nil, fmt.Errorf("querying contact names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DocumentsPendingChunk returns up to limit documents whose content has
// changed since their chunks were last built (or which have never been
// chunked at all), per spec.md §4.4.
func (s *Store) DocumentsPendingChunk(ctx context.Context, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, source, kind, title, content, created_at, updated_at,
		       ingested_at, source_native_id, content_hash, embedding_deferred, metadata
		FROM documents
		WHERE chunked_hash != content_hash
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying documents pending chunk: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadataJSON string
		var deferred int
		if err := rows.Scan(&doc.DocID, &doc.Source, &doc.Kind, &doc.Title, &doc.Content,
			&doc.CreatedAt, &doc.UpdatedAt, &doc.IngestedAt, &doc.SourceNativeID,
			&doc.ContentHash, &deferred, &metadataJSON); err != nil {
			return nil, err
		}
		doc.EmbeddingDeferred = deferred != 0
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkChunked records the content_hash a document's chunks were just built
// from, so DocumentsPendingChunk stops returning it until its content
// changes again.
func (s *Store) MarkChunked(ctx context.Context, docID, contentHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET chunked_hash = ? WHERE doc_id = ?`, contentHash, docID)
	return err
}

// ChunksMissingEmbedding returns up to limit chunks with no embedding row
// for modelID, skipping documents already marked embedding_deferred.
func (s *Store) ChunksMissingEmbedding(ctx context.Context, modelID string, limit int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.doc_id, c.ordinal, c.text, c.char_start, c.char_end, c.content_hash
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		LEFT JOIN embeddings_meta m ON m.chunk_id = c.id AND m.model_id = ?
		WHERE m.chunk_id IS NULL AND d.embedding_deferred = 0
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chunks missing embedding: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Ordinal, &c.Text, &c.CharStart, &c.CharEnd, &c.ContentHash); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetEmbeddingDeferred marks a document as having exhausted embedding
// retries for the current pass, or clears that mark once it succeeds.
func (s *Store) SetEmbeddingDeferred(ctx context.Context, docID string, deferred bool) error {
	v := 0
	if deferred {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET embedding_deferred = ? WHERE doc_id = ?`, v, docID)
	return err
}

// ChunksByID batch-fetches chunk text for a set of chunk IDs, used by
// Hybrid Search to recover the winning chunk's text for a vector hit's
// snippet after VectorHit has discarded everything but the score.
func (s *Store) ChunksByID(ctx context.Context, ids []int64) (map[int64]Chunk, error) {
	out := map[int64]Chunk{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, ordinal, text, char_start, char_end, content_hash
		FROM chunks WHERE id IN (?`+repeatPlaceholders(len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Ordinal, &c.Text, &c.CharStart, &c.CharEnd, &c.ContentHash); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}
