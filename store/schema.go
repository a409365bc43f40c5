package store

import "fmt"

// vecTableSQL returns the DDL for the vector virtual table. Its dimension
// is fixed per database at Open time (spec: "dim constant per model_id"),
// so it cannot live in a static embedded migration file — it is bootstrapped
// once, idempotently, after the file-based migrations have run.
func vecTableSQL(embeddingDim int) string {
	return fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
)`, embeddingDim)
}
