package identity

// Person is the display-name pair as given at enrollment time.
type Person struct {
	GivenName  string
	FamilyName string
}

// SamePersonPolicy decides whether an enrollment request refers to the
// same real person as an already registered identity sharing the id base.
// The decision is a policy, not a fact: pick the variant that fits the
// deployment (exact name match, operator confirmation, a secondary check).
type SamePersonPolicy interface {
	SamePerson(candidate, existing Person) bool
}

// ExactNameMatch treats two enrollments as the same person when both name
// parts match exactly. Two different people with an identical full name
// are indistinguishable under this policy.
type ExactNameMatch struct{}

func (ExactNameMatch) SamePerson(candidate, existing Person) bool {
	return candidate.GivenName == existing.GivenName &&
		candidate.FamilyName == existing.FamilyName
}

// NeverSamePerson always allocates a fresh identity. Useful when
// enrollments are deduplicated upstream, e.g. by an operator.
type NeverSamePerson struct{}

func (NeverSamePerson) SamePerson(candidate, existing Person) bool {
	return false
}
