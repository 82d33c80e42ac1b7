package entity

import "errors"

// Error taxonomy shared across the pipeline. Callers match with errors.Is.
var (
	// ErrUnavailable means an optional detector could not run. The
	// pipeline degrades to the remaining detectors instead of failing.
	ErrUnavailable = errors.New("detector unavailable")

	// ErrInvalidArgument means a user edit was malformed (empty
	// replacement, bad span). The mutation is rejected, never partially
	// applied.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSpanConflict means a manual entity overlaps an existing one.
	ErrSpanConflict = errors.New("span conflict")

	// ErrOverlap means selected spans overlap at rewrite time. This is an
	// internal invariant violation and aborts document generation.
	ErrOverlap = errors.New("overlapping spans")

	// ErrNotFound means an operation referenced a non-existent entity id.
	ErrNotFound = errors.New("entity not found")
)
