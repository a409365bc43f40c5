package kenny

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the Kenny engine. It is loaded once at
// process start and passed explicitly into every constructor — there is no
// process-wide mutable configuration state.
type Config struct {
	// DBPath is the full path to the SQLite database file. If empty,
	// defaults to ~/.kenny/kenny.db. Overridden at process start by the
	// KENNY_DB_PATH environment variable (the only environment input that
	// affects Kenny's semantics, per SPEC_FULL.md §6).
	DBPath string `json:"db_path"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. "home" (default) uses ~/.kenny/, "local" uses the
	// current working directory.
	StorageDir string `json:"storage_dir"`

	// Embedder is the loopback HTTP endpoint implementing the /embed
	// contract (SPEC_FULL.md §6). Kenny never manages its lifecycle.
	Embedder EmbedderConfig `json:"embedder"`

	// FilesRoot is the directory the Files source adapter walks. Empty
	// disables the Files source.
	FilesRoot string `json:"files_root"`

	// ChatBridgeDBPath names the external chat bridge SQLite file. New does
	// not read it: the Chat adapter is registered only when Readers.Chat is
	// supplied, whatever this field holds.
	ChatBridgeDBPath string `json:"chat_bridge_db_path"`

	// Chunking (SPEC_FULL.md §4.4).
	ChunkSoftCapTokens int `json:"chunk_soft_cap_tokens"`
	ChunkHardCapTokens int `json:"chunk_hard_cap_tokens"`

	// Embedding pipeline backpressure: max in-flight /embed calls.
	EmbedConcurrency int `json:"embed_concurrency"`
	EmbedBatchSize   int `json:"embed_batch_size"`

	// Ingest defaults.
	IngestBatchSize int `json:"ingest_batch_size"`

	// Hybrid search fusion weights (SPEC_FULL.md §4.5). Must sum to a
	// positive number; Search normalizes by max per channel before applying
	// these.
	WeightBM25   float64 `json:"weight_bm25"`
	WeightVector float64 `json:"weight_vector"`

	// Timeouts, defaults per SPEC_FULL.md §5. Only EmbedCallTimeout is
	// applied (as the embedder client's HTTP timeout); AdapterPullTimeout,
	// FTSQueryTimeout and VectorScanTimeout are not read by the engine.
	AdapterPullTimeout time.Duration `json:"adapter_pull_timeout"`
	EmbedCallTimeout   time.Duration `json:"embed_call_timeout"`
	FTSQueryTimeout    time.Duration `json:"fts_query_timeout"`
	VectorScanTimeout  time.Duration `json:"vector_scan_timeout"`
}

// EmbedderConfig configures the loopback embedding HTTP endpoint.
type EmbedderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Dim     int    `json:"dim"`
}

// DefaultConfig returns a Config with sensible local-first defaults.
func DefaultConfig() Config {
	return Config{
		StorageDir: "home",
		Embedder: EmbedderConfig{
			BaseURL: "http://127.0.0.1:8420",
			Model:   "nomic-embed-text",
			Dim:     768,
		},
		ChunkSoftCapTokens: 512,
		ChunkHardCapTokens: 1024,
		EmbedConcurrency:   4,
		EmbedBatchSize:     32,
		IngestBatchSize:    500,
		WeightBM25:         0.5,
		WeightVector:       0.5,
		AdapterPullTimeout: 30 * time.Second,
		EmbedCallTimeout:   10 * time.Second,
		FTSQueryTimeout:    2 * time.Second,
		VectorScanTimeout:  5 * time.Second,
	}
}

// ResolveDBPath computes the final database path, honoring KENNY_DB_PATH
// first, then DBPath, then StorageDir.
func (c *Config) ResolveDBPath() string {
	if env := os.Getenv("KENNY_DB_PATH"); env != "" {
		return env
	}
	if c.DBPath != "" {
		return c.DBPath
	}

	switch c.StorageDir {
	case "local", "cwd":
		return "kenny.db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return "kenny.db"
		}
		return filepath.Join(home, ".kenny", "kenny.db")
	}
}
