// Package engine composes id allocation, centroid folding, matching and
// the audit log into the two public operations of the system: Enroll and
// Verify.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/panopticon-door/panopticon/internal/identity"
)

// Options configures an Engine. Zero values fall back to the package
// defaults in internal/database and internal/identity.
type Options struct {
	// Dim is the required embedding dimension; every probe and
	// enrollment embedding is checked against it before any write.
	Dim int
	// MatchThreshold is the maximum distance for a verification match.
	MatchThreshold float64
	// RefineThreshold is the tighter bound below which a verified
	// sighting is folded back into the matched centroid.
	RefineThreshold float64
	// RefineEnabled gates fold-on-verify entirely.
	RefineEnabled bool
	// HNSWEnabled switches matching to the in-memory ANN index once the
	// identity count reaches HNSWMinIdentities.
	HNSWEnabled       bool
	HNSWMinIdentities int
	// StoreTimeout bounds every store operation. The engine never blocks
	// indefinitely on an unreachable store.
	StoreTimeout time.Duration
	// Policy decides whether an enrollment folds into an existing
	// identity sharing the id base. Defaults to exact full-name match.
	Policy identity.SamePersonPolicy
}

// Engine is the identity store facade. It owns no goroutines; all
// concurrency is driven by callers.
type Engine struct {
	store   database.Store
	opts    Options
	index   *database.CentroidIndex // nil unless HNSW is enabled
	version atomic.Uint64
}

// EnrollResult reports the identity an enrollment resolved to and whether
// a brand-new identity record was created.
type EnrollResult struct {
	IdentityID string
	Created    bool
}

// VerifyResult reports the outcome of a verification.
type VerifyResult struct {
	// IdentityID is set when Matched; empty means unknown face.
	IdentityID string
	Matched    bool
	// Distance to the nearest centroid, valid when HasDistance. An empty
	// identity set yields no distance at all.
	Distance    float64
	HasDistance bool
	// Refined reports whether the probe was folded back into the matched
	// centroid.
	Refined bool
}

// New creates an Engine over the given store.
func New(store database.Store, opts Options) *Engine {
	if opts.Dim <= 0 {
		opts.Dim = database.EmbeddingDim
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = identity.DefaultThreshold
	}
	if opts.RefineThreshold <= 0 {
		opts.RefineThreshold = identity.DefaultThreshold
	}
	if opts.HNSWMinIdentities <= 0 {
		opts.HNSWMinIdentities = database.HNSWMinIdentities
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = identity.ExactNameMatch{}
	}

	e := &Engine{store: store, opts: opts}
	if opts.HNSWEnabled {
		e.index = database.NewCentroidIndex()
	}
	return e
}

// withTimeout bounds a store operation by the configured timeout.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func (e *Engine) checkDim(embedding []float32) error {
	if len(embedding) != e.opts.Dim {
		return fmt.Errorf("embedding has %d components, store expects %d: %w",
			len(embedding), e.opts.Dim, identity.ErrDimensionMismatch)
	}
	return nil
}

// afterWrite keeps collaborator-visible state in sync with a committed
// centroid change: the version counter for read-through caches and the
// ANN index when enabled.
func (e *Engine) afterWrite(identityID string, embedding []float32) {
	e.version.Add(1)
	if e.index != nil {
		e.index.Upsert(identityID, embedding)
	}
}

// Version returns a counter bumped on every committed centroid change.
// Recognition-loop collaborators cache FetchKnownCentroids and refresh
// when the version moves.
func (e *Engine) Version() uint64 {
	return e.version.Load()
}

// Enroll registers an embedding under a name. When the same-person policy
// resolves the name to an existing identity, the embedding is folded into
// that identity's centroid and Created is false; otherwise a new identity
// is allocated with the next free suffix on the name's id base.
func (e *Engine) Enroll(ctx context.Context, givenName, familyName string, embedding []float32) (EnrollResult, error) {
	if err := e.checkDim(embedding); err != nil {
		return EnrollResult{}, err
	}

	base, err := identity.Base(givenName, familyName)
	if err != nil {
		return EnrollResult{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	candidate := identity.Person{GivenName: givenName, FamilyName: familyName}

	// The count-then-insert below can lose a race against a concurrent
	// enrollment on the same base; the id's primary key catches that and
	// one re-read resolves it.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := e.store.FindByBase(ctx, base)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("lookup base %s: %w", base, err)
		}

		for i := range existing {
			known := identity.Person{GivenName: existing[i].GivenName, FamilyName: existing[i].FamilyName}
			if !e.opts.Policy.SamePerson(candidate, known) {
				continue
			}

			centroid, err := e.store.FoldCentroid(ctx, existing[i].ID, embedding)
			if err != nil {
				// ErrNotFound here means an identity without a centroid,
				// which CreateWithCentroid's transaction rules out; treat
				// it as fatal to the operation, never retry.
				return EnrollResult{}, fmt.Errorf("fold into %s: %w", existing[i].ID, err)
			}

			detail := fmt.Sprintf("Known face %s was used to update the reference embedding (%d samples).",
				givenName, centroid.SampleCount)
			if err := e.appendEvent(ctx, database.EventEnrollUpdate, existing[i].ID, detail); err != nil {
				return EnrollResult{}, err
			}

			e.afterWrite(existing[i].ID, centroid.Embedding)
			return EnrollResult{IdentityID: existing[i].ID}, nil
		}

		suffix, err := identity.NextSuffix(len(existing))
		if err != nil {
			return EnrollResult{}, fmt.Errorf("allocate id on base %s: %w", base, err)
		}
		id := identity.FormatID(base, suffix)

		err = e.store.CreateWithCentroid(ctx, database.StoredIdentity{
			ID:         id,
			GivenName:  givenName,
			FamilyName: familyName,
		}, embedding)
		if errors.Is(err, database.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return EnrollResult{}, fmt.Errorf("create identity %s: %w", id, err)
		}

		detail := fmt.Sprintf("New face %s registered with id %s.", givenName, id)
		if err := e.appendEvent(ctx, database.EventEnrollNew, id, detail); err != nil {
			return EnrollResult{}, err
		}

		e.afterWrite(id, embedding)
		return EnrollResult{IdentityID: id, Created: true}, nil
	}

	return EnrollResult{}, fmt.Errorf("enrollment on base %s kept conflicting: %w", base, database.ErrConflict)
}

// Verify matches a probe embedding against all known centroids. A match
// within the refine bound additionally folds the probe into the matched
// centroid, so recognized faces keep sharpening their own reference
// vector (when enabled). Every call appends exactly one audit event.
func (e *Engine) Verify(ctx context.Context, probe []float32) (VerifyResult, error) {
	if err := e.checkDim(probe); err != nil {
		return VerifyResult{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	match, err := e.match(ctx, probe)
	if err != nil {
		return VerifyResult{}, err
	}

	if !match.HasDistance {
		// Nobody enrolled yet.
		if err := e.appendEvent(ctx, database.EventVerifyUnknown, "",
			"Unregistered face tried to verify on the system."); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{}, nil
	}

	if !match.Matched {
		detail := fmt.Sprintf("Unregistered face tried to verify on the system (nearest distance %.3f).", match.Distance)
		if err := e.appendEvent(ctx, database.EventVerifyUnknown, "", detail); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Distance: match.Distance, HasDistance: true}, nil
	}

	ident, err := e.store.Get(ctx, match.IdentityID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load matched identity %s: %w", match.IdentityID, err)
	}

	result := VerifyResult{
		IdentityID:  match.IdentityID,
		Matched:     true,
		Distance:    match.Distance,
		HasDistance: true,
	}

	if e.opts.RefineEnabled && match.Distance <= e.opts.RefineThreshold {
		centroid, err := e.store.FoldCentroid(ctx, match.IdentityID, probe)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("refine centroid %s: %w", match.IdentityID, err)
		}
		e.afterWrite(match.IdentityID, centroid.Embedding)
		result.Refined = true
	}

	detail := fmt.Sprintf("%s was verified on the system.", ident.GivenName)
	if result.Refined {
		detail += " Reference embedding refined."
	}
	if err := e.appendEvent(ctx, database.EventVerifyMatch, match.IdentityID, detail); err != nil {
		return VerifyResult{}, err
	}

	return result, nil
}

// match runs the nearest-centroid decision, through the ANN index when it
// is enabled and large enough to pay off, otherwise by exact linear scan.
func (e *Engine) match(ctx context.Context, probe []float32) (identity.MatchResult, error) {
	if e.index != nil && e.index.Count() >= e.opts.HNSWMinIdentities {
		id, dist, err := e.index.Nearest(probe)
		if err == nil {
			result := identity.MatchResult{Distance: dist, HasDistance: true}
			if dist <= e.opts.MatchThreshold {
				result.Matched = true
				result.IdentityID = id
			}
			return result, nil
		}
		// Index trouble falls back to the exact scan.
	}

	stored, err := e.store.AllCentroids(ctx)
	if err != nil {
		return identity.MatchResult{}, fmt.Errorf("load centroids: %w", err)
	}

	centroids := make([]identity.Centroid, len(stored))
	for i := range stored {
		centroids[i] = identity.Centroid{IdentityID: stored[i].IdentityID, Vector: stored[i].Embedding}
	}
	return identity.Match(probe, centroids, e.opts.MatchThreshold)
}

func (e *Engine) appendEvent(ctx context.Context, kind database.EventKind, identityID, detail string) error {
	if _, err := e.store.AppendEvent(ctx, database.StoredEvent{
		IdentityID: identityID,
		Kind:       kind,
		Detail:     detail,
	}); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

// RebuildIndex loads the full centroid set into the ANN index. No-op when
// HNSW is disabled.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.index == nil {
		return nil
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	centroids, err := e.store.AllCentroids(ctx)
	if err != nil {
		return fmt.Errorf("load centroids for index: %w", err)
	}
	return e.index.Build(centroids)
}

// FetchKnownCentroids returns a read-only snapshot mapping identity id to
// reference vector, for collaborators that keep a local cache.
func (e *Engine) FetchKnownCentroids(ctx context.Context) (map[string][]float32, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	centroids, err := e.store.AllCentroids(ctx)
	if err != nil {
		return nil, fmt.Errorf("load centroids: %w", err)
	}

	known := make(map[string][]float32, len(centroids))
	for i := range centroids {
		known[centroids[i].IdentityID] = centroids[i].Embedding
	}
	return known, nil
}

// IdentityCount returns the number of registered identities.
func (e *Engine) IdentityCount(ctx context.Context) (int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.Count(ctx)
}

// Identities returns all registered identities ordered by id.
func (e *Engine) Identities(ctx context.Context) ([]database.StoredIdentity, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.List(ctx)
}

// EventHistory returns the full audit trail newest-first.
func (e *Engine) EventHistory(ctx context.Context) ([]database.StoredEvent, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.FetchEvents(ctx)
}

// RecentEvents returns at most n audit entries newest-first.
func (e *Engine) RecentEvents(ctx context.Context, n int) ([]database.StoredEvent, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.FetchRecentEvents(ctx, n)
}

// SetThumbnail records an identity's representative image reference,
// settable exactly once after first enrollment.
func (e *Engine) SetThumbnail(ctx context.Context, id, ref string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.SetThumbnail(ctx, id, ref)
}
