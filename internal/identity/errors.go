package identity

import "errors"

var (
	// ErrInvalidName is returned when a name contains no usable letters
	// for id derivation.
	ErrInvalidName = errors.New("name must contain at least one letter")

	// ErrAllocationExhausted is returned when more than MaxSuffix people
	// share one id base. This is an explicit capacity boundary; the
	// operator must rename or widen the suffix, it is never wrapped
	// around silently.
	ErrAllocationExhausted = errors.New("id base has no free suffix left")

	// ErrDimensionMismatch is returned when an embedding's length
	// disagrees with the configured vector dimensionality. Checked
	// before any write.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
