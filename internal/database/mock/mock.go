// Package mock provides an in-memory implementation of the database
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/panopticon-door/panopticon/internal/identity"
)

// Store is an in-memory database.Store. A single mutex covers all three
// record kinds, which also gives the per-base and per-identity
// exclusivity the real store gets from transactions and row locks.
type Store struct {
	mu          sync.Mutex
	identities  map[string]*database.StoredIdentity
	centroids   map[string]*database.StoredCentroid
	events      []database.StoredEvent
	nextEventID int64

	// Error injection
	GetError    error
	CreateError error
	FoldError   error
	AppendError error

	// FailNextCreate makes exactly one CreateWithCentroid return
	// ErrConflict, simulating a lost allocation race.
	FailNextCreate bool
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{
		identities:  make(map[string]*database.StoredIdentity),
		centroids:   make(map[string]*database.StoredCentroid),
		nextEventID: 1,
	}
}

// Get retrieves an identity by id.
func (s *Store) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *ident
	return &copied, nil
}

// List returns all identities ordered by id.
func (s *Store) List(ctx context.Context) ([]database.StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idents := make([]database.StoredIdentity, 0, len(s.identities))
	for _, ident := range s.identities {
		idents = append(idents, *ident)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].ID < idents[j].ID })
	return idents, nil
}

// Count returns the number of registered identities.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities), nil
}

// FindByBase returns all identities whose id starts with the given base.
func (s *Store) FindByBase(ctx context.Context, base string) ([]database.StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idents []database.StoredIdentity
	for id, ident := range s.identities {
		if strings.HasPrefix(id, base) {
			idents = append(idents, *ident)
		}
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].ID < idents[j].ID })
	return idents, nil
}

// CreateWithCentroid inserts a new identity with its first centroid.
func (s *Store) CreateWithCentroid(ctx context.Context, ident database.StoredIdentity, embedding []float32) error {
	if s.CreateError != nil {
		return s.CreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextCreate {
		s.FailNextCreate = false
		return database.ErrConflict
	}
	if _, exists := s.identities[ident.ID]; exists {
		return database.ErrConflict
	}

	ident.CreatedAt = time.Now()
	s.identities[ident.ID] = &ident

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	s.centroids[ident.ID] = &database.StoredCentroid{
		IdentityID:  ident.ID,
		Embedding:   vec,
		SampleCount: 1,
		UpdatedAt:   time.Now(),
	}
	return nil
}

// SetThumbnail records the thumbnail reference, exactly once.
func (s *Store) SetThumbnail(ctx context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok || ident.ThumbnailRef != "" {
		return fmt.Errorf("identity %s missing or thumbnail already set: %w", id, database.ErrNotFound)
	}
	ident.ThumbnailRef = ref
	return nil
}

// GetCentroid retrieves the centroid for an identity.
func (s *Store) GetCentroid(ctx context.Context, identityID string) (*database.StoredCentroid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	centroid, ok := s.centroids[identityID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyCentroid(centroid), nil
}

// AllCentroids returns a snapshot of every centroid, ordered by identity.
func (s *Store) AllCentroids(ctx context.Context) ([]database.StoredCentroid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	centroids := make([]database.StoredCentroid, 0, len(s.centroids))
	for _, centroid := range s.centroids {
		centroids = append(centroids, *copyCentroid(centroid))
	}
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].IdentityID < centroids[j].IdentityID })
	return centroids, nil
}

// FoldCentroid folds an embedding into an identity's running mean.
func (s *Store) FoldCentroid(ctx context.Context, identityID string, embedding []float32) (*database.StoredCentroid, error) {
	if s.FoldError != nil {
		return nil, s.FoldError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	centroid, ok := s.centroids[identityID]
	if !ok {
		return nil, database.ErrNotFound
	}

	count, err := identity.FoldMean(centroid.Embedding, centroid.SampleCount, embedding)
	if err != nil {
		return nil, err
	}
	centroid.SampleCount = count
	centroid.UpdatedAt = time.Now()
	return copyCentroid(centroid), nil
}

// AppendEvent appends one audit entry.
func (s *Store) AppendEvent(ctx context.Context, event database.StoredEvent) (int64, error) {
	if s.AppendError != nil {
		return 0, s.AppendError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event.EventID = s.nextEventID
	s.nextEventID++
	event.CreatedAt = time.Now()
	s.events = append(s.events, event)
	return event.EventID, nil
}

// FetchEvents returns all events newest-first.
func (s *Store) FetchEvents(ctx context.Context) ([]database.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]database.StoredEvent, len(s.events))
	for i, event := range s.events {
		events[len(s.events)-1-i] = event
	}
	return events, nil
}

// FetchRecentEvents returns at most n events newest-first.
func (s *Store) FetchRecentEvents(ctx context.Context, n int) ([]database.StoredEvent, error) {
	events, err := s.FetchEvents(ctx)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if len(events) > n {
		events = events[:n]
	}
	return events, nil
}

func copyCentroid(c *database.StoredCentroid) *database.StoredCentroid {
	vec := make([]float32, len(c.Embedding))
	copy(vec, c.Embedding)
	return &database.StoredCentroid{
		IdentityID:  c.IdentityID,
		Embedding:   vec,
		SampleCount: c.SampleCount,
		UpdatedAt:   c.UpdatedAt,
	}
}
