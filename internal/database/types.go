package database

import (
	"time"
)

// EventKind classifies an audit event.
type EventKind string

const (
	// EventEnrollNew records the creation of a brand-new identity.
	EventEnrollNew EventKind = "enroll_new"
	// EventEnrollUpdate records a fold into an existing centroid.
	EventEnrollUpdate EventKind = "enroll_update"
	// EventVerifyMatch records a verification that cleared the threshold.
	EventVerifyMatch EventKind = "verify_match"
	// EventVerifyUnknown records a verification attempt by an
	// unregistered face.
	EventVerifyUnknown EventKind = "verify_unknown"
)

// StoredIdentity represents one real person known to the system.
// ID is immutable once assigned; the name fields are set at first
// enrollment and never change (renaming is out of scope).
type StoredIdentity struct {
	ID           string
	GivenName    string
	FamilyName   string
	ThumbnailRef string // opaque reference to a representative image, empty = unset
	CreatedAt    time.Time
}

// StoredCentroid is the reference embedding for one identity: the running
// arithmetic mean of every embedding folded into it, exactly one per
// identity.
type StoredCentroid struct {
	IdentityID  string
	Embedding   []float32
	SampleCount int
	UpdatedAt   time.Time
}

// StoredEvent is one immutable audit entry. IdentityID is empty for
// events without a matching identity (unregistered verification
// attempts).
type StoredEvent struct {
	EventID    int64
	IdentityID string
	Kind       EventKind
	Detail     string
	CreatedAt  time.Time
}
