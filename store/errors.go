package store

import "errors"

// Sentinel errors forming the StoreError taxonomy from SPEC_FULL.md §7.
// Callers classify with errors.Is; wrapped errors carry additional context
// (e.g. a migration's statement excerpt) via %w.
var (
	// ErrCorrupt is fatal: the database file is unreadable or inconsistent.
	ErrCorrupt = errors.New("store: corrupt")

	// ErrBusy is retryable up to a small attempt cap with backoff.
	ErrBusy = errors.New("store: busy")

	// ErrMigrationFailed is fatal and wraps the offending version/statement.
	ErrMigrationFailed = errors.New("store: migration failed")

	// ErrConstraintViolation indicates a bug: a write violated a DB
	// constraint the caller should have prevented.
	ErrConstraintViolation = errors.New("store: constraint violation")

	// ErrNotFound is the normal "no such row" result, not a failure.
	ErrNotFound = errors.New("store: not found")
)
