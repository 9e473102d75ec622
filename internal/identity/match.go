package identity

import "math"

// DefaultThreshold is the maximum embedding distance at which a probe is
// considered the same identity as a stored centroid, in the embedding's
// native distance units.
const DefaultThreshold = 0.7

// Centroid pairs an identity with its reference embedding.
type Centroid struct {
	IdentityID string
	Vector     []float32
}

// MatchResult is the outcome of matching a probe against the known
// centroid set.
type MatchResult struct {
	// IdentityID is the nearest identity when Matched, empty otherwise.
	IdentityID string
	// Distance to the nearest centroid. Only meaningful when HasDistance;
	// an empty centroid set yields no distance at all.
	Distance    float64
	Matched     bool
	HasDistance bool
}

// Match finds the centroid nearest to probe by Euclidean distance and
// applies the decision threshold. This is a linear scan over all known
// centroids, which is fine at tens to low thousands of identities; larger
// deployments swap in an ANN index behind the same contract.
func Match(probe []float32, centroids []Centroid, threshold float64) (MatchResult, error) {
	if len(probe) == 0 {
		return MatchResult{}, ErrDimensionMismatch
	}
	if len(centroids) == 0 {
		return MatchResult{}, nil
	}

	best := -1
	bestDist := math.Inf(1)
	for i := range centroids {
		if len(centroids[i].Vector) != len(probe) {
			return MatchResult{}, ErrDimensionMismatch
		}
		if d := EuclideanDistance(probe, centroids[i].Vector); d < bestDist {
			best = i
			bestDist = d
		}
	}

	result := MatchResult{Distance: bestDist, HasDistance: true}
	if bestDist <= threshold {
		result.Matched = true
		result.IdentityID = centroids[best].IdentityID
	}
	return result, nil
}
