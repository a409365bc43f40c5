package pipeline

import "errors"

// ErrAlreadyRunning is returned when Run is called while a previous call
// against the same Pipeline has not yet returned, per SPEC_FULL.md §5's
// "at most one active pass" rule.
var ErrAlreadyRunning = errors.New("pipeline: a pass is already running")
