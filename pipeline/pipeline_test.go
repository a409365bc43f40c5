//go:build cgo

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kenny-assistant/kenny/chunker"
	"github.com/kenny-assistant/kenny/embedder"
	"github.com/kenny-assistant/kenny/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(ctx, dbPath, 3)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dim        int         `json:"dim"`
}

func fixedVectorServer(t *testing.T, model string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{Model: model, Dim: 3}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2, 0.3})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newPipeline(t *testing.T, s *store.Store, embURL string) *Pipeline {
	t.Helper()
	ch := chunker.New(chunker.Config{})
	emb := embedder.New(embedder.Config{BaseURL: embURL, Model: "test-model", Dim: 3})
	return New(s, ch, emb, Config{ModelID: "test-model"}, nil)
}

func seedDoc(t *testing.T, s *store.Store, docID, content string) {
	t.Helper()
	doc := store.Document{
		DocID:          docID,
		Source:         store.SourceNotes,
		Kind:           store.KindNote,
		Title:          "t",
		Content:        content,
		CreatedAt:      1,
		UpdatedAt:      1,
		IngestedAt:     1,
		SourceNativeID: docID,
		ContentHash:    store.Hash(content),
	}
	if _, err := s.UpsertDocument(context.Background(), doc); err != nil {
		t.Fatalf("seeding document: %v", err)
	}
}

func TestRunChunksNewDocumentsAndMarksThemChunked(t *testing.T) {
	s := newTestStore(t)
	srv := fixedVectorServer(t, "test-model")
	defer srv.Close()

	seedDoc(t, s, "doc1", "hello world\n\nsecond paragraph")

	p := newPipeline(t, s, srv.URL)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.DocumentsChunked != 1 {
		t.Fatalf("expected 1 document chunked, got %d", report.DocumentsChunked)
	}

	// A second pass should find nothing left to chunk.
	report2, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report2.DocumentsChunked != 0 {
		t.Fatalf("expected no re-chunking on an unchanged document, got %d", report2.DocumentsChunked)
	}
}

func TestRunRechunksOnContentChange(t *testing.T) {
	s := newTestStore(t)
	srv := fixedVectorServer(t, "test-model")
	defer srv.Close()

	seedDoc(t, s, "doc1", "original content")
	p := newPipeline(t, s, srv.URL)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	seedDoc(t, s, "doc1", "updated content, now longer")
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.DocumentsChunked != 1 {
		t.Fatalf("expected the changed document to be rechunked, got %d", report.DocumentsChunked)
	}
}

func TestRunBackfillsEmbeddingsForChunksMissingThem(t *testing.T) {
	s := newTestStore(t)
	srv := fixedVectorServer(t, "test-model")
	defer srv.Close()

	seedDoc(t, s, "doc1", "hello world")

	p := newPipeline(t, s, srv.URL)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ChunksEmbedded == 0 {
		t.Fatalf("expected at least 1 chunk embedded")
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Embeddings != st.Chunks {
		t.Fatalf("expected every chunk to have an embedding, got %d embeddings for %d chunks", st.Embeddings, st.Chunks)
	}
}

func TestRunLeavesPriorEmbeddingsUntouchedOnSecondPass(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{Model: "test-model", Dim: 3}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2, 0.3})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	seedDoc(t, s, "doc1", "hello world")
	p := newPipeline(t, s, srv.URL)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := calls

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.ChunksEmbedded != 0 {
		t.Fatalf("expected nothing new to embed on the second pass, got %d", report.ChunksEmbedded)
	}
	if calls != firstCalls {
		t.Fatalf("expected no additional embedder calls on the second pass, went from %d to %d", firstCalls, calls)
	}
}

func TestRunDefersDocumentOnPersistentEmbedFailure(t *testing.T) {
	s := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	seedDoc(t, s, "doc1", "hello world")
	p := newPipeline(t, s, srv.URL)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.DocumentsDeferred != 1 {
		t.Fatalf("expected 1 document deferred after persistent embed failure, got %d", report.DocumentsDeferred)
	}

	doc, err := s.FetchDocument(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("fetch document: %v", err)
	}
	if !doc.EmbeddingDeferred {
		t.Fatalf("expected doc1.embedding_deferred to be set")
	}
}

func TestRunSecondCallWhileRunningIsRejected(t *testing.T) {
	s := newTestStore(t)
	p := newPipeline(t, s, "http://unreachable.invalid")
	p.running.Store(true)
	defer p.running.Store(false)

	_, err := p.Run(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
