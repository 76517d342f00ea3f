package database

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	log "github.com/sirupsen/logrus"
)

// ErrStaleIndex is returned by LoadHNSWIndex when the snapshot no longer matches the
// reference embeddings in the database.
var ErrStaleIndex = errors.New("hnsw index snapshot is stale")

// IndexState identifies the set of reference embeddings an index was built from.
// Embeddings are append-only, so count and max ID change with every insert.
type IndexState struct {
	EmbeddingCount int64
	MaxEmbeddingID int64
}

// indexSnapshot is the on-disk form of an index. The graph is rebuilt on load.
type indexSnapshot struct {
	State   IndexState
	SavedAt time.Time
	Refs    []ReferenceEmbedding
}

// HNSWIndex is an in-memory cosine index over reference embeddings of one dimension.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	refs  map[int64]ReferenceEmbedding
	dim   int
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{refs: make(map[int64]ReferenceEmbedding)}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromEmbeddings replaces the index content. The first non-empty embedding fixes
// the dimension; embeddings of another dimension are skipped.
func (h *HNSWIndex) BuildFromEmbeddings(refs []ReferenceEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = newGraph()
	h.refs = make(map[int64]ReferenceEmbedding, len(refs))
	h.dim = 0
	for _, ref := range refs {
		if err := h.addLocked(ref); err != nil {
			log.WithFields(log.Fields{
				"embedding_id": ref.ID,
				"identity_id":  ref.IdentityID,
				"dim":          len(ref.Embedding),
				"index_dim":    h.dim,
			}).Warn("Skipping reference embedding with mismatched dimension")
		}
	}
	return nil
}

// Add indexes one more reference embedding.
func (h *HNSWIndex) Add(ref ReferenceEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil {
		h.graph = newGraph()
	}
	return h.addLocked(ref)
}

func (h *HNSWIndex) addLocked(ref ReferenceEmbedding) error {
	if len(ref.Embedding) == 0 {
		return nil
	}
	if h.dim == 0 {
		h.dim = len(ref.Embedding)
	} else if len(ref.Embedding) != h.dim {
		return fmt.Errorf("embedding %d has dimension %d, index has %d", ref.ID, len(ref.Embedding), h.dim)
	}
	h.graph.Add(hnsw.MakeNode(ref.ID, ref.Embedding))
	h.refs[ref.ID] = ref
	return nil
}

// SearchWithDistance returns up to k embeddings within maxDistance, nearest first.
// An empty index or a query of another dimension yields no results.
func (h *HNSWIndex) SearchWithDistance(query []float32, k int, maxDistance float64) ([]ReferenceEmbedding, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.refs) == 0 || k <= 0 {
		return nil, nil, nil
	}
	if len(query) != h.dim {
		return nil, nil, fmt.Errorf("query has dimension %d, index has %d", len(query), h.dim)
	}

	type hit struct {
		ref  ReferenceEmbedding
		dist float64
	}
	var hits []hit
	for _, n := range h.graph.Search(query, k*HNSWSearchMultiplier) {
		dist := float64(hnsw.CosineDistance(query, n.Value))
		if dist > maxDistance {
			continue
		}
		hits = append(hits, hit{ref: h.refs[n.Key], dist: dist})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if len(hits) > k {
		hits = hits[:k]
	}

	refs := make([]ReferenceEmbedding, len(hits))
	dists := make([]float64, len(hits))
	for i, hh := range hits {
		refs[i] = hh.ref
		dists[i] = hh.dist
	}
	return refs, dists, nil
}

// Count returns the number of indexed embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.refs)
}

// Save writes a snapshot of the indexed embeddings tagged with state. The file is
// replaced atomically.
func (h *HNSWIndex) Save(path string, state IndexState) error {
	h.mu.RLock()
	snap := indexSnapshot{State: state, SavedAt: time.Now(), Refs: make([]ReferenceEmbedding, 0, len(h.refs))}
	for _, ref := range h.refs {
		snap.Refs = append(snap.Refs, ref)
	}
	h.mu.RUnlock()
	sort.Slice(snap.Refs, func(i, j int) bool { return snap.Refs[i].ID < snap.Refs[j].ID })

	tmp := path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("create index snapshot: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index snapshot: %w", err)
	}
	return nil
}

// LoadHNSWIndex rebuilds an index from a snapshot. It returns ErrStaleIndex when the
// snapshot was taken for a different state than want.
func LoadHNSWIndex(path string, want IndexState) (*HNSWIndex, error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	defer f.Close()

	var snap indexSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	if snap.State != want {
		return nil, fmt.Errorf("%w: snapshot %+v, database %+v", ErrStaleIndex, snap.State, want)
	}

	index := NewHNSWIndex()
	if err := index.BuildFromEmbeddings(snap.Refs); err != nil {
		return nil, err
	}
	return index, nil
}
