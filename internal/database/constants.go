package database

// EmbeddingDim is the default dimension for face embeddings (128 for
// SFace/FaceNet-style recognition models). Deployments using a different
// recognition model override it via EMBEDDING_DIM.
const EmbeddingDim = 128

// HNSW index parameters for the in-memory centroid index.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWMinIdentities is the identity count below which the engine
	// sticks to the exact linear scan; the index only pays off at scale.
	HNSWMinIdentities = 512
)
