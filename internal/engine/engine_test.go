package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/panopticon-door/panopticon/internal/database/mock"
	"github.com/panopticon-door/panopticon/internal/identity"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *mock.Store) {
	t.Helper()
	store := mock.NewStore()
	if opts.Dim == 0 {
		opts.Dim = 3
	}
	return New(store, opts), store
}

func TestEnroll_CreatesIdentityWithCentroid(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	result, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if !result.Created {
		t.Error("first enrollment should create a new identity")
	}
	if result.IdentityID != "KmMin001" {
		t.Errorf("identity id = %q, want KmMin001", result.IdentityID)
	}

	centroid, err := store.GetCentroid(ctx, result.IdentityID)
	if err != nil {
		t.Fatalf("GetCentroid returned error: %v", err)
	}
	if centroid.SampleCount != 1 {
		t.Errorf("sample count = %d, want 1", centroid.SampleCount)
	}
}

func TestEnroll_SecondEnrollmentFoldsIntoSameIdentity(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	first, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("first Enroll returned error: %v", err)
	}

	second, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0.2})
	if err != nil {
		t.Fatalf("second Enroll returned error: %v", err)
	}
	if second.Created {
		t.Error("re-enrollment of the same name must not create a new identity")
	}
	if second.IdentityID != first.IdentityID {
		t.Errorf("re-enrollment resolved to %q, want %q", second.IdentityID, first.IdentityID)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("identity count = %d, want 1", count)
	}

	// Mean of [1,0,0] and [1,0,0.2] is [1,0,0.1].
	centroid, err := store.GetCentroid(ctx, first.IdentityID)
	if err != nil {
		t.Fatalf("GetCentroid returned error: %v", err)
	}
	if centroid.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", centroid.SampleCount)
	}
	expected := []float32{1, 0, 0.1}
	for i := range expected {
		if math.Abs(float64(centroid.Embedding[i]-expected[i])) > 1e-6 {
			t.Errorf("centroid[%d] = %v, want %v", i, centroid.Embedding[i], expected[i])
		}
	}
}

func TestEnroll_NameCollisionGetsNextSuffix(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	// "Ann Lee" and "Ana Lee" share the base "LeAn"+first letters; pick
	// names that collide on the full 5-char base but differ as people.
	first, err := e.Enroll(ctx, "Anna", "Lee", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll Anna returned error: %v", err)
	}
	second, err := e.Enroll(ctx, "Annika", "Lie", []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Enroll Annika returned error: %v", err)
	}

	if first.IdentityID != "LeAnn001" {
		t.Errorf("first id = %q, want LeAnn001", first.IdentityID)
	}
	if second.IdentityID != "LeAnn002" {
		t.Errorf("second id = %q, want LeAnn002", second.IdentityID)
	}
	if !second.Created {
		t.Error("different person on the same base must create a new identity")
	}

	// Both remain independently verifiable.
	v1, err := e.Verify(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if v1.IdentityID != first.IdentityID {
		t.Errorf("verify resolved %q, want %q", v1.IdentityID, first.IdentityID)
	}
	v2, err := e.Verify(ctx, []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if v2.IdentityID != second.IdentityID {
		t.Errorf("verify resolved %q, want %q", v2.IdentityID, second.IdentityID)
	}
}

func TestEnroll_RetriesOnceOnConflict(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	store.FailNextCreate = true

	result, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll should survive one conflict, got error: %v", err)
	}
	if !result.Created {
		t.Error("expected identity creation after retry")
	}
}

func TestEnroll_DimensionMismatchRejectedBeforeWrite(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0})
	if !errors.Is(err, identity.ErrDimensionMismatch) {
		t.Fatalf("error = %v, want ErrDimensionMismatch", err)
	}

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("identity count after rejected enroll = %d, want 0", count)
	}
	events, _ := store.FetchEvents(ctx)
	if len(events) != 0 {
		t.Errorf("event count after rejected enroll = %d, want 0", len(events))
	}
}

func TestVerify_SelfConsistency(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	probe := []float32{0.25, -0.5, 0.75}
	result, err := e.Enroll(ctx, "Min", "Kim", probe)
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}

	verify, err := e.Verify(ctx, probe)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !verify.Matched {
		t.Fatal("verifying the enrolled probe must match")
	}
	if verify.IdentityID != result.IdentityID {
		t.Errorf("verify resolved %q, want %q", verify.IdentityID, result.IdentityID)
	}
	if verify.Distance > 1e-6 {
		t.Errorf("self-verification distance = %v, want 0", verify.Distance)
	}
}

func TestVerify_EmptyStoreIsUnknownWithoutDistance(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	result, err := e.Verify(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Matched || result.HasDistance {
		t.Errorf("empty store must yield unknown without distance, got %+v", result)
	}

	events, _ := store.FetchEvents(ctx)
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	if events[0].Kind != database.EventVerifyUnknown {
		t.Errorf("event kind = %q, want %q", events[0].Kind, database.EventVerifyUnknown)
	}
	if events[0].IdentityID != "" {
		t.Errorf("unknown verification must have no identity, got %q", events[0].IdentityID)
	}
}

func TestVerify_BeyondThresholdIsUnknownWithDistance(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}

	result, err := e.Verify(ctx, []float32{-5, 5, 5})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Matched {
		t.Error("probe far from every centroid must not match")
	}
	if !result.HasDistance {
		t.Error("nearest distance should still be reported")
	}
}

func TestVerify_RefinesCentroidWithinRefineBound(t *testing.T) {
	e, store := newTestEngine(t, Options{RefineEnabled: true, RefineThreshold: 0.7})
	ctx := context.Background()

	result, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}

	verify, err := e.Verify(ctx, []float32{1, 0, 0.2})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !verify.Matched || !verify.Refined {
		t.Fatalf("expected a refined match, got %+v", verify)
	}

	centroid, err := store.GetCentroid(ctx, result.IdentityID)
	if err != nil {
		t.Fatalf("GetCentroid returned error: %v", err)
	}
	if centroid.SampleCount != 2 {
		t.Errorf("sample count after refine = %d, want 2", centroid.SampleCount)
	}
}

func TestVerify_RefineDisabledLeavesCentroidAlone(t *testing.T) {
	e, store := newTestEngine(t, Options{RefineEnabled: false})
	ctx := context.Background()

	result, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}

	verify, err := e.Verify(ctx, []float32{1, 0, 0.2})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !verify.Matched {
		t.Fatal("expected a match")
	}
	if verify.Refined {
		t.Error("refine disabled, centroid must not be folded")
	}

	centroid, _ := store.GetCentroid(ctx, result.IdentityID)
	if centroid.SampleCount != 1 {
		t.Errorf("sample count = %d, want 1", centroid.SampleCount)
	}
}

func TestAuditCompleteness(t *testing.T) {
	e, _ := newTestEngine(t, Options{RefineEnabled: true})
	ctx := context.Background()

	calls := []func() error{
		func() error { _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); return err },
		func() error { _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0.2}); return err },
		func() error { _, err := e.Verify(ctx, []float32{1, 0, 0.1}); return err },
		func() error { _, err := e.Verify(ctx, []float32{9, 9, 9}); return err },
	}

	for i, call := range calls {
		before, err := e.EventHistory(ctx)
		if err != nil {
			t.Fatalf("EventHistory returned error: %v", err)
		}
		if err := call(); err != nil {
			t.Fatalf("call %d returned error: %v", i, err)
		}
		after, err := e.EventHistory(ctx)
		if err != nil {
			t.Fatalf("EventHistory returned error: %v", err)
		}
		if len(after) != len(before)+1 {
			t.Errorf("call %d appended %d events, want exactly 1", i, len(after)-len(before))
		}
	}

	// Newest first.
	events, _ := e.EventHistory(ctx)
	for i := 1; i < len(events); i++ {
		if events[i-1].EventID < events[i].EventID {
			t.Errorf("events out of order at %d: %d before %d", i, events[i-1].EventID, events[i].EventID)
		}
	}

	expected := []database.EventKind{
		database.EventVerifyUnknown,
		database.EventVerifyMatch,
		database.EventEnrollUpdate,
		database.EventEnrollNew,
	}
	for i, kind := range expected {
		if events[i].Kind != kind {
			t.Errorf("events[%d].Kind = %q, want %q", i, events[i].Kind, kind)
		}
	}
}

func TestRecentEvents_Bounded(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("Person%c", 'A'+i)
		if _, err := e.Enroll(ctx, name, "Tester", []float32{float32(i), 0, 0}); err != nil {
			t.Fatalf("Enroll returned error: %v", err)
		}
	}

	recent, err := e.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent length = %d, want 3", len(recent))
	}
	if recent[0].EventID < recent[2].EventID {
		t.Error("recent events should be newest-first")
	}
}

func TestFetchKnownCentroids_Snapshot(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	a, _ := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	b, _ := e.Enroll(ctx, "Jan", "Novak", []float32{0, 1, 0})

	known, err := e.FetchKnownCentroids(ctx)
	if err != nil {
		t.Fatalf("FetchKnownCentroids returned error: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(known))
	}
	if _, ok := known[a.IdentityID]; !ok {
		t.Errorf("snapshot missing %q", a.IdentityID)
	}
	if _, ok := known[b.IdentityID]; !ok {
		t.Errorf("snapshot missing %q", b.IdentityID)
	}
}

func TestVersion_BumpsOnCentroidChanges(t *testing.T) {
	e, _ := newTestEngine(t, Options{RefineEnabled: true})
	ctx := context.Background()

	if e.Version() != 0 {
		t.Fatalf("initial version = %d, want 0", e.Version())
	}

	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if e.Version() != 1 {
		t.Errorf("version after enroll = %d, want 1", e.Version())
	}

	if _, err := e.Verify(ctx, []float32{1, 0, 0.1}); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if e.Version() != 2 {
		t.Errorf("version after refining verify = %d, want 2", e.Version())
	}

	// A verify without refinement leaves the version alone.
	if _, err := e.Verify(ctx, []float32{9, 9, 9}); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if e.Version() != 2 {
		t.Errorf("version after unknown verify = %d, want 2", e.Version())
	}
}

func TestSetThumbnail_OnlyOnce(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	result, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}

	if err := e.SetThumbnail(ctx, result.IdentityID, "thumbs/abc.jpg"); err != nil {
		t.Fatalf("SetThumbnail returned error: %v", err)
	}

	ident, _ := store.Get(ctx, result.IdentityID)
	if ident.ThumbnailRef != "thumbs/abc.jpg" {
		t.Errorf("thumbnail ref = %q, want thumbs/abc.jpg", ident.ThumbnailRef)
	}

	if err := e.SetThumbnail(ctx, result.IdentityID, "thumbs/other.jpg"); err == nil {
		t.Error("second SetThumbnail should be rejected")
	}
}

func TestEnroll_ConcurrentSameNameKeepsOneIdentity(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, errs[w] = e.Enroll(ctx, "Min", "Kim", []float32{1, 0, float32(w) / 100})
		}(w)
	}
	wg.Wait()

	for w, err := range errs {
		if err != nil {
			t.Fatalf("worker %d error: %v", w, err)
		}
	}

	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("identity count after concurrent same-name enrollments = %d, want 1", count)
	}

	centroid, err := store.GetCentroid(ctx, "KmMin001")
	if err != nil {
		t.Fatalf("GetCentroid returned error: %v", err)
	}
	if centroid.SampleCount != workers {
		t.Errorf("sample count = %d, want %d", centroid.SampleCount, workers)
	}
}

func TestVerify_UsesHNSWIndexAtScale(t *testing.T) {
	e, _ := newTestEngine(t, Options{
		HNSWEnabled:       true,
		HNSWMinIdentities: 2,
		RefineEnabled:     false,
	})
	ctx := context.Background()

	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if _, err := e.Enroll(ctx, "Jan", "Novak", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if err := e.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex returned error: %v", err)
	}

	result, err := e.Verify(ctx, []float32{0.95, 0.05, 0})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Matched || result.IdentityID != "KmMin001" {
		t.Errorf("index-backed verify = %+v, want match on KmMin001", result)
	}
}

func TestHNSW_FoldsUpdateIndexInPlace(t *testing.T) {
	e, store := newTestEngine(t, Options{
		HNSWEnabled:       true,
		HNSWMinIdentities: 2,
		RefineEnabled:     true,
		RefineThreshold:   0.5,
	})
	ctx := context.Background()

	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if _, err := e.Enroll(ctx, "Jan", "Novak", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if err := e.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex returned error: %v", err)
	}

	// Re-enrollment folds into an already-indexed identity.
	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0.2}); err != nil {
		t.Fatalf("Enroll fold returned error: %v", err)
	}

	// A refining verify folds and re-indexes the same identity again.
	result, err := e.Verify(ctx, []float32{1, 0, 0.1})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Matched || result.IdentityID != "KmMin001" {
		t.Fatalf("verify = %+v, want match on KmMin001", result)
	}
	if !result.Refined {
		t.Error("expected the verify to refine the centroid")
	}

	centroid, err := store.GetCentroid(ctx, "KmMin001")
	if err != nil {
		t.Fatalf("GetCentroid returned error: %v", err)
	}
	if centroid.SampleCount != 3 {
		t.Errorf("sample count = %d, want 3", centroid.SampleCount)
	}

	// The index must still resolve the identity after both updates.
	result, err = e.Verify(ctx, []float32{1, 0, 0.1})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Matched || result.IdentityID != "KmMin001" {
		t.Errorf("post-fold verify = %+v, want match on KmMin001", result)
	}
}

func TestEnroll_StoreUnavailableSurfaces(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	store.AppendError = errors.New("connection refused")
	if _, err := e.Enroll(ctx, "Min", "Kim", []float32{1, 0, 0}); err == nil {
		t.Error("expected error when the audit append fails")
	}
}
