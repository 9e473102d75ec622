package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/panopticon-door/panopticon/internal/identity"
)

// CentroidIndex wraps an HNSW graph over identity centroids for
// approximate nearest-neighbor matching. The byID map holds the current
// vectors: folds mutate centroids in place, so graph node values can lag
// behind until the next rebuild, and exact distances are always
// recomputed from the map.
type CentroidIndex struct {
	graph *hnsw.Graph[string]
	byID  map[string][]float32
	mu    sync.RWMutex
}

// NewCentroidIndex creates a new empty centroid index.
func NewCentroidIndex() *CentroidIndex {
	return &CentroidIndex{
		byID: make(map[string][]float32),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with the given centroid snapshot.
func (c *CentroidIndex) Build(centroids []StoredCentroid) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(centroids) == 0 {
		c.graph = nil
		c.byID = make(map[string][]float32)
		return nil
	}

	g := newGraph()
	c.byID = make(map[string][]float32, len(centroids))

	for i := range centroids {
		cent := &centroids[i]
		if len(cent.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(cent.IdentityID, cent.Embedding))
		c.byID[cent.IdentityID] = cent.Embedding
	}

	c.graph = g
	return nil
}

// Upsert adds or refreshes a single identity's vector.
func (c *CentroidIndex) Upsert(identityID string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		c.graph = newGraph()
	}
	// Add panics on a duplicate key; a known id must be deleted first.
	if _, ok := c.byID[identityID]; ok {
		c.graph.Delete(identityID)
	}
	c.graph.Add(hnsw.MakeNode(identityID, embedding))
	c.byID[identityID] = embedding
}

// Nearest returns the identity closest to the probe along with its exact
// Euclidean distance.
func (c *CentroidIndex) Nearest(probe []float32) (string, float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph == nil || len(c.byID) == 0 {
		return "", 0, errors.New("index not initialized")
	}

	// Over-fetch candidates, then rank by exact distance against the
	// current vectors; approximate ranking can be off after folds.
	neighbors := c.graph.Search(probe, 8)
	bestID := ""
	bestDist := 0.0
	for _, n := range neighbors {
		vec, ok := c.byID[n.Key]
		if !ok {
			continue
		}
		d := identity.EuclideanDistance(probe, vec)
		if bestID == "" || d < bestDist {
			bestID = n.Key
			bestDist = d
		}
	}

	if bestID == "" {
		return "", 0, errors.New("no candidates in index")
	}
	return bestID, bestDist, nil
}

// Count returns the number of indexed identities.
func (c *CentroidIndex) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
