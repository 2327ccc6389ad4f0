package store

import "errors"

var (
	// ErrNotFound means a memory, session, or relationship id did not
	// resolve to a live row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRelationshipType means the type is outside the fixed set.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrDimensionMismatch means a vector's length disagrees with its
	// model's declared dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrAtomicWriteFailed means a compound write was rolled back in full.
	ErrAtomicWriteFailed = errors.New("atomic write failed")

	// ErrInvalidInput covers malformed caller input such as empty content.
	ErrInvalidInput = errors.New("invalid input")
)
