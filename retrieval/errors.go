package retrieval

import "errors"

// ErrSearchFailed wraps a Store read failure encountered while answering a
// search, per spec.md §4.5's failure semantics.
var ErrSearchFailed = errors.New("retrieval: search failed")
