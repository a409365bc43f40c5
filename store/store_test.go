//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(ctx, dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(source Source, nativeID, content string) Document {
	return Document{
		DocID:          DocID(source, nativeID),
		Source:         source,
		Kind:           KindNote,
		Title:          "note title",
		Content:        content,
		CreatedAt:      100,
		UpdatedAt:      100,
		IngestedAt:     100,
		SourceNativeID: nativeID,
		ContentHash:    Hash(content),
		Metadata:       map[string]string{"k": "v"},
	}
}

func TestOpenBootstrapsSchema(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats on empty store: %v", err)
	}
	if st.Documents != 0 || st.Chunks != 0 || st.Embeddings != 0 {
		t.Fatalf("expected empty store, got %+v", st)
	}
}

func TestDocIDIsPureFunctionOfSourceAndNativeID(t *testing.T) {
	a := DocID(SourceNotes, "note-1")
	b := DocID(SourceNotes, "note-1")
	c := DocID(SourceNotes, "note-2")
	d := DocID(SourceMail, "note-1")
	if a != b {
		t.Fatal("expected identical inputs to produce identical doc_id")
	}
	if a == c || a == d {
		t.Fatal("expected different inputs to produce different doc_id")
	}
}

func TestUpsertDocumentInsertThenUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "hello world")
	result, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("inserting: %v", err)
	}
	if result != Inserted {
		t.Fatalf("expected Inserted, got %s", result)
	}

	doc.IngestedAt = 200
	result, err = s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("re-upserting identical content: %v", err)
	}
	if result != Unchanged {
		t.Fatalf("expected Unchanged for identical content hash, got %s", result)
	}

	got, err := s.FetchDocument(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if got.IngestedAt != 200 {
		t.Errorf("expected ingested_at to advance to 200, got %d", got.IngestedAt)
	}
	if got.Content != "hello world" {
		t.Errorf("content should be untouched: got %q", got.Content)
	}
}

func TestUpsertDocumentUpdatesInPlaceOnContentChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "version one")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	doc.Content = "version two"
	doc.ContentHash = Hash(doc.Content)
	doc.UpdatedAt = 300
	result, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	if result != Updated {
		t.Fatalf("expected Updated, got %s", result)
	}

	got, err := s.FetchDocument(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if got.Content != "version two" {
		t.Errorf("expected updated content, got %q", got.Content)
	}
	if got.DocID != doc.DocID {
		t.Error("doc_id must stay stable across an update")
	}
}

func TestFetchDocumentRoundTripsTypedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceMail, "m1", "subject body")
	doc.Kind = KindEmail
	doc.Email = &EmailFields{
		From:    "a@example.com",
		To:      []string{"b@example.com", "c@example.com"},
		Subject: "hello",
	}

	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	got, err := s.FetchDocument(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if got.Email == nil {
		t.Fatal("expected email fields to round-trip")
	}
	if got.Email.From != "a@example.com" || len(got.Email.To) != 2 {
		t.Errorf("email fields did not round-trip: %+v", got.Email)
	}
}

func TestFetchDocumentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FetchDocument(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBySourceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "content")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	if err := s.InsertChunks(ctx, doc.DocID, []Chunk{
		{Ordinal: 0, Text: "content", CharStart: 0, CharEnd: 7, ContentHash: Hash("content")},
	}); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	n, err := s.DeleteBySource(ctx, SourceNotes)
	if err != nil {
		t.Fatalf("deleting by source: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 document deleted, got %d", n)
	}

	if _, err := s.FetchDocument(ctx, doc.DocID); err != ErrNotFound {
		t.Fatalf("expected document gone, got %v", err)
	}

	var chunkCount int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, doc.DocID).Scan(&chunkCount); err != nil {
		t.Fatalf("counting chunks: %v", err)
	}
	if chunkCount != 0 {
		t.Fatalf("expected chunks cascaded away, found %d", chunkCount)
	}
}

func TestInsertChunksPreservesUnchangedOrdinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "para one\n\npara two")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting doc: %v", err)
	}

	chunks := []Chunk{
		{Ordinal: 0, Text: "para one", CharStart: 0, CharEnd: 8, ContentHash: Hash("para one")},
		{Ordinal: 1, Text: "para two", CharStart: 10, CharEnd: 18, ContentHash: Hash("para two")},
	}
	if err := s.InsertChunks(ctx, doc.DocID, chunks); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	var firstID int64
	if err := s.DB().QueryRowContext(ctx,
		`SELECT id FROM chunks WHERE doc_id = ? AND ordinal = 0`, doc.DocID).Scan(&firstID); err != nil {
		t.Fatalf("reading chunk id: %v", err)
	}
	if err := s.InsertEmbedding(ctx, firstID, []float32{1, 0, 0, 0}, "test-model"); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	// Re-chunk with ordinal 0 identical, ordinal 1 changed, and a new ordinal 2.
	newChunks := []Chunk{
		{Ordinal: 0, Text: "para one", CharStart: 0, CharEnd: 8, ContentHash: Hash("para one")},
		{Ordinal: 1, Text: "para two edited", CharStart: 10, CharEnd: 25, ContentHash: Hash("para two edited")},
		{Ordinal: 2, Text: "para three", CharStart: 27, CharEnd: 37, ContentHash: Hash("para three")},
	}
	if err := s.InsertChunks(ctx, doc.DocID, newChunks); err != nil {
		t.Fatalf("re-inserting chunks: %v", err)
	}

	var afterID int64
	if err := s.DB().QueryRowContext(ctx,
		`SELECT id FROM chunks WHERE doc_id = ? AND ordinal = 0`, doc.DocID).Scan(&afterID); err != nil {
		t.Fatalf("reading chunk id after re-chunk: %v", err)
	}
	if afterID != firstID {
		t.Fatalf("expected ordinal 0's chunk id to survive re-chunking, got %d want %d", afterID, firstID)
	}

	var embeddingStillPresent int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings_meta WHERE chunk_id = ?`, firstID).Scan(&embeddingStillPresent); err != nil {
		t.Fatalf("checking embedding survival: %v", err)
	}
	if embeddingStillPresent != 1 {
		t.Fatal("expected unchanged chunk's embedding to survive re-chunking")
	}

	var ordinal1Embedding int
	var ordinal1ID int64
	if err := s.DB().QueryRowContext(ctx,
		`SELECT id FROM chunks WHERE doc_id = ? AND ordinal = 1`, doc.DocID).Scan(&ordinal1ID); err != nil {
		t.Fatalf("reading ordinal 1 id: %v", err)
	}
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings_meta WHERE chunk_id = ?`, ordinal1ID).Scan(&ordinal1Embedding); err != nil {
		t.Fatalf("checking ordinal 1 embedding: %v", err)
	}
	if ordinal1Embedding != 0 {
		t.Fatal("expected changed chunk's embedding to be invalidated")
	}
}

func TestInsertChunksDropsTrailingOrdinalsOnShrink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "one\n\ntwo\n\nthree")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting doc: %v", err)
	}
	if err := s.InsertChunks(ctx, doc.DocID, []Chunk{
		{Ordinal: 0, Text: "one", CharStart: 0, CharEnd: 3, ContentHash: Hash("one")},
		{Ordinal: 1, Text: "two", CharStart: 5, CharEnd: 8, ContentHash: Hash("two")},
		{Ordinal: 2, Text: "three", CharStart: 10, CharEnd: 15, ContentHash: Hash("three")},
	}); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	if err := s.InsertChunks(ctx, doc.DocID, []Chunk{
		{Ordinal: 0, Text: "one", CharStart: 0, CharEnd: 3, ContentHash: Hash("one")},
	}); err != nil {
		t.Fatalf("shrinking chunks: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, doc.DocID).Scan(&count); err != nil {
		t.Fatalf("counting chunks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected trailing chunks dropped, found %d", count)
	}
}

func TestSearchFTSFindsInsertedDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "the quick brown fox jumps over the lazy dog")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	hits, err := s.SearchFTS(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 fts hit, got %d", len(hits))
	}
	if hits[0].DocID != doc.DocID {
		t.Errorf("expected hit for %s, got %s", doc.DocID, hits[0].DocID)
	}
}

func TestSearchFTSReflectsUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "alpha content")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	doc.Content = "beta content"
	doc.ContentHash = Hash(doc.Content)
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("updating: %v", err)
	}

	hits, err := s.SearchFTS(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected stale term to be gone from the fts index, got %d hits", len(hits))
	}

	hits, err = s.SearchFTS(ctx, "beta", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected new term to be indexed, got %d hits", len(hits))
	}
}

func TestSearchVectorsFiltersByModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc(SourceNotes, "n1", "content")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	if err := s.InsertChunks(ctx, doc.DocID, []Chunk{
		{Ordinal: 0, Text: "content", CharStart: 0, CharEnd: 7, ContentHash: Hash("content")},
	}); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	var chunkID int64
	if err := s.DB().QueryRowContext(ctx, `SELECT id FROM chunks WHERE doc_id = ?`, doc.DocID).Scan(&chunkID); err != nil {
		t.Fatalf("reading chunk id: %v", err)
	}
	if err := s.InsertEmbedding(ctx, chunkID, []float32{1, 0, 0, 0}, "model-a"); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	hits, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, 5, "model-a")
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != doc.DocID {
		t.Fatalf("expected one hit for model-a, got %+v", hits)
	}

	hits, err = s.SearchVectors(ctx, []float32{1, 0, 0, 0}, 5, "model-b")
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for a model that never embedded this chunk, got %+v", hits)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCursor(ctx, SourceMail)
	if err != nil {
		t.Fatalf("getting cursor for unseen source: %v", err)
	}
	if got.Position != "" || got.LastSuccessAt != 0 {
		t.Fatalf("expected zero-value cursor, got %+v", got)
	}

	want := Cursor{Source: SourceMail, Position: "batch-42", LastSuccessAt: 999}
	if err := s.SetCursor(ctx, want); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	got, err = s.GetCursor(ctx, SourceMail)
	if err != nil {
		t.Fatalf("getting cursor: %v", err)
	}
	if got.Position != want.Position || got.LastSuccessAt != want.LastSuccessAt {
		t.Fatalf("cursor round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestStatsCountsBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertDocument(ctx, sampleDoc(SourceNotes, "n1", "a")); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	if _, err := s.UpsertDocument(ctx, sampleDoc(SourceNotes, "n2", "b")); err != nil {
		t.Fatalf("inserting: %v", err)
	}
	if _, err := s.UpsertDocument(ctx, sampleDoc(SourceMail, "m1", "c")); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Documents != 3 {
		t.Errorf("expected 3 documents, got %d", st.Documents)
	}
	if st.BySource[SourceNotes] != 2 {
		t.Errorf("expected 2 notes documents, got %d", st.BySource[SourceNotes])
	}
	if st.BySource[SourceMail] != 1 {
		t.Errorf("expected 1 mail document, got %d", st.BySource[SourceMail])
	}
}
