package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kenny-assistant/kenny"
	"github.com/kenny-assistant/kenny/retrieval"
	"github.com/kenny-assistant/kenny/store"
)

type handler struct {
	engine kenny.Engine
	logger *slog.Logger
}

func newHandler(e kenny.Engine, logger *slog.Logger) *handler {
	return &handler{engine: e, logger: logger}
}

// GET /status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.writeEngineError(w, "status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /ingest
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 30*time.Minute)
	defer cancel()

	var req struct {
		Sources   []store.Source `json:"sources,omitempty"`
		FullSync  bool           `json:"full_sync,omitempty"`
		DryRun    bool           `json:"dry_run,omitempty"`
		MaxItems  *int           `json:"max_items,omitempty"`
		BatchSize int            `json:"batch_size,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	var opts []kenny.IngestOption
	if req.FullSync {
		opts = append(opts, kenny.WithFullSync())
	}
	if req.DryRun {
		opts = append(opts, kenny.WithDryRun())
	}
	if req.MaxItems != nil {
		opts = append(opts, kenny.WithMaxItems(*req.MaxItems))
	}
	if req.BatchSize > 0 {
		opts = append(opts, kenny.WithIngestBatchSize(req.BatchSize))
	}

	report, err := h.engine.Ingest(ctx, req.Sources, opts...)
	if err != nil {
		h.writeEngineError(w, "ingest failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 2*time.Minute)
	defer cancel()

	var req struct {
		Query   string            `json:"query"`
		Filters retrieval.Filters `json:"filters,omitempty"`
		Limit   int               `json:"limit,omitempty"`
		Weights *[2]float64       `json:"weights,omitempty"` // [bm25, vector]
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var opts []kenny.SearchOption
	if req.Limit > 0 {
		opts = append(opts, kenny.WithLimit(req.Limit))
	}
	if req.Weights != nil {
		opts = append(opts, kenny.WithWeights(req.Weights[0], req.Weights[1]))
	}

	result, err := h.engine.Search(ctx, req.Query, req.Filters, opts...)
	if err != nil {
		h.writeEngineError(w, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /nl_query
func (h *handler) handleNLQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, 2*time.Minute)
	defer cancel()

	var req struct {
		Text  string `json:"text"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	var opts []kenny.SearchOption
	if req.Limit > 0 {
		opts = append(opts, kenny.WithLimit(req.Limit))
	}

	result, err := h.engine.NLQuery(ctx, req.Text, opts...)
	if err != nil {
		h.writeEngineError(w, "nl_query failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /documents/{id}
func (h *handler) handleFetchDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	doc, err := h.engine.FetchDocument(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "fetch_document failed", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// writeEngineError maps an error's ErrorKind to an HTTP status, per
// SPEC_FULL.md §7's propagation rules: not-found is a 404, invalid input is
// a 400, a busy store is a 503, everything else is a 500; the error itself
// is logged but not echoed verbatim to the caller.
func (h *handler) writeEngineError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	if errors.Is(err, kenny.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch kenny.KindOf(err) {
	case kenny.KindQueryInvalidFilter:
		writeError(w, http.StatusBadRequest, "invalid search filter")
	case kenny.KindStoreBusy:
		writeError(w, http.StatusServiceUnavailable, "store is busy")
	default:
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
