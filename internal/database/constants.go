package database

// HNSW index parameters for 128-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3
)

// DefaultNearDuplicateDistance is the cosine distance under which a newly enrolled
// embedding is reported as already resembling another identity.
const DefaultNearDuplicateDistance = 0.35
