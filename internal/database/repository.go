package database

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced identity or centroid does
	// not exist. On a fold's update path this indicates an internal
	// consistency bug and must not be retried.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert lost a race on a unique
	// constraint, e.g. two concurrent enrollments picking the same id.
	// The caller re-reads and retries once.
	ErrConflict = errors.New("conflicting concurrent write")
)

// IdentityReader provides read-only access to identities.
type IdentityReader interface {
	// Get retrieves an identity by id, ErrNotFound if absent.
	Get(ctx context.Context, id string) (*StoredIdentity, error)
	// List returns all identities ordered by id.
	List(ctx context.Context) ([]StoredIdentity, error)
	// Count returns the number of registered identities.
	Count(ctx context.Context) (int, error)
	// FindByBase returns all identities whose id starts with the given
	// 5-character base, ordered by id.
	FindByBase(ctx context.Context, base string) ([]StoredIdentity, error)
}

// IdentityWriter provides write access to identities.
type IdentityWriter interface {
	IdentityReader

	// CreateWithCentroid inserts a new identity together with its first
	// centroid (sample count 1) in a single transaction, so an identity
	// never exists without its centroid. Returns ErrConflict if the id
	// was taken by a concurrent enrollment.
	CreateWithCentroid(ctx context.Context, ident StoredIdentity, embedding []float32) error

	// SetThumbnail records the thumbnail reference for an identity. The
	// reference is settable exactly once; a second call is rejected.
	SetThumbnail(ctx context.Context, id, ref string) error
}

// CentroidReader provides read-only access to centroids.
type CentroidReader interface {
	// GetCentroid retrieves the centroid for an identity, ErrNotFound if
	// absent.
	GetCentroid(ctx context.Context, identityID string) (*StoredCentroid, error)
	// AllCentroids returns a snapshot of every centroid.
	AllCentroids(ctx context.Context) ([]StoredCentroid, error)
}

// CentroidWriter provides write access to centroids.
type CentroidWriter interface {
	CentroidReader

	// FoldCentroid folds an embedding into an identity's running mean
	// under per-identity exclusivity: no two concurrent folds on the same
	// identity may interleave. Returns the updated centroid, or
	// ErrNotFound if the identity has no centroid.
	FoldCentroid(ctx context.Context, identityID string, embedding []float32) (*StoredCentroid, error)
}

// EventWriter provides append-only access to the audit log. There is no
// update or delete: the audit trail is immutable.
type EventWriter interface {
	// AppendEvent appends one audit entry and returns its assigned
	// event id. The store sets the timestamp.
	AppendEvent(ctx context.Context, event StoredEvent) (int64, error)
	// FetchEvents returns all events newest-first.
	FetchEvents(ctx context.Context) ([]StoredEvent, error)
	// FetchRecentEvents returns at most n events newest-first.
	FetchRecentEvents(ctx context.Context, n int) ([]StoredEvent, error)
}

// Store is the full persistence surface the engine composes over.
type Store interface {
	IdentityWriter
	CentroidWriter
	EventWriter
}
