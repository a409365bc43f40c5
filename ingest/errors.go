package ingest

import "errors"

var (
	// ErrAlreadyRunning is returned when Ingest is called while a previous
	// call against the same Manager has not yet returned, per
	// SPEC_FULL.md §5's process-wide single-run-per-DB rule.
	ErrAlreadyRunning = errors.New("ingest: a run is already in progress")

	// ErrUnknownSource is a per-source report status: no adapter is
	// registered for the requested source.
	ErrUnknownSource = errors.New("ingest: no adapter registered for source")
)
