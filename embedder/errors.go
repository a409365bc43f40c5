package embedder

import "errors"

var (
	// ErrConnection means the embedder process could not be reached at all.
	ErrConnection = errors.New("embedder: connection failed")

	// ErrTimeout means a request or its retries ran past the deadline.
	ErrTimeout = errors.New("embedder: timeout")

	// ErrHTTP wraps a non-2xx response the embedder returned after retries
	// were exhausted (or that wasn't retryable at all).
	ErrHTTP = errors.New("embedder: http error")

	// ErrShapeMismatch means the response's embedding count, model name or
	// dimension didn't match what was requested.
	ErrShapeMismatch = errors.New("embedder: shape mismatch")
)
