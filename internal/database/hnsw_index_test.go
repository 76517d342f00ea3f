package database

import (
	"errors"
	"path/filepath"
	"testing"
)

func testRefs() []ReferenceEmbedding {
	return []ReferenceEmbedding{
		{ID: 1, IdentityID: "emp-001", Embedding: []float32{1, 0, 0, 0}},
		{ID: 2, IdentityID: "emp-001", Embedding: []float32{0.9, 0.1, 0, 0}},
		{ID: 3, IdentityID: "emp-002", Embedding: []float32{0, 1, 0, 0}},
		{ID: 4, IdentityID: "emp-003", Embedding: []float32{0, 0, 1, 0}},
	}
}

func TestHNSWIndex_SearchWithDistance(t *testing.T) {
	idx := NewHNSWIndex()
	if err := idx.BuildFromEmbeddings(testRefs()); err != nil {
		t.Fatalf("BuildFromEmbeddings() error: %v", err)
	}
	if idx.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", idx.Count())
	}

	refs, dists, err := idx.SearchWithDistance([]float32{1, 0, 0, 0}, 2, 0.1)
	if err != nil {
		t.Fatalf("SearchWithDistance() error: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 results within distance, got %d", len(refs))
	}
	for i, ref := range refs {
		if ref.IdentityID != "emp-001" {
			t.Errorf("result %d identity = %s, want emp-001", i, ref.IdentityID)
		}
		if dists[i] > 0.1 {
			t.Errorf("result %d distance = %v, want <= 0.1", i, dists[i])
		}
	}
}

func TestHNSWIndex_SkipsMismatchedDimension(t *testing.T) {
	refs := append(testRefs(), ReferenceEmbedding{ID: 5, IdentityID: "emp-004", Embedding: []float32{1, 0}})

	idx := NewHNSWIndex()
	if err := idx.BuildFromEmbeddings(refs); err != nil {
		t.Fatalf("BuildFromEmbeddings() error: %v", err)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want 4", idx.Count())
	}
	if err := idx.Add(ReferenceEmbedding{ID: 6, Embedding: []float32{0, 1}}); err == nil {
		t.Error("expected error adding embedding of another dimension")
	}
	if _, _, err := idx.SearchWithDistance([]float32{1, 0}, 1, 2); err == nil {
		t.Error("expected error searching with query of another dimension")
	}
}

func TestHNSWIndex_AddAfterBuild(t *testing.T) {
	idx := NewHNSWIndex()
	if err := idx.BuildFromEmbeddings(testRefs()); err != nil {
		t.Fatalf("BuildFromEmbeddings() error: %v", err)
	}
	if err := idx.Add(ReferenceEmbedding{ID: 7, IdentityID: "emp-005", Embedding: []float32{0, 0, 0, 1}}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	refs, _, err := idx.SearchWithDistance([]float32{0, 0, 0, 1}, 1, 0.05)
	if err != nil {
		t.Fatalf("SearchWithDistance() error: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != 7 {
		t.Errorf("search = %+v, want embedding 7", refs)
	}
}

func TestHNSWIndex_EmptySearch(t *testing.T) {
	idx := NewHNSWIndex()
	refs, dists, err := idx.SearchWithDistance([]float32{1, 0}, 1, 2)
	if err != nil {
		t.Fatalf("SearchWithDistance() error: %v", err)
	}
	if len(refs) != 0 || len(dists) != 0 {
		t.Errorf("empty index returned %d results", len(refs))
	}
}

func TestHNSWIndex_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.hnsw")
	state := IndexState{EmbeddingCount: 4, MaxEmbeddingID: 4}

	idx := NewHNSWIndex()
	if err := idx.BuildFromEmbeddings(testRefs()); err != nil {
		t.Fatalf("BuildFromEmbeddings() error: %v", err)
	}
	if err := idx.Save(path, state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadHNSWIndex(path, state)
	if err != nil {
		t.Fatalf("LoadHNSWIndex() error: %v", err)
	}
	if loaded.Count() != 4 {
		t.Errorf("loaded Count() = %d, want 4", loaded.Count())
	}

	refs, _, err := loaded.SearchWithDistance([]float32{0, 0, 1, 0}, 1, 0.05)
	if err != nil {
		t.Fatalf("SearchWithDistance() error: %v", err)
	}
	if len(refs) != 1 || refs[0].IdentityID != "emp-003" {
		t.Errorf("search after load = %+v, want emp-003", refs)
	}

	if err := loaded.Add(ReferenceEmbedding{ID: 9, IdentityID: "emp-009", Embedding: []float32{0, 0, 0, 1}}); err != nil {
		t.Errorf("Add() to loaded index error: %v", err)
	}
	if loaded.Count() != 5 {
		t.Errorf("Count() after Add = %d, want 5", loaded.Count())
	}
}

func TestLoadHNSWIndex_Stale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.hnsw")

	idx := NewHNSWIndex()
	if err := idx.BuildFromEmbeddings(testRefs()); err != nil {
		t.Fatalf("BuildFromEmbeddings() error: %v", err)
	}
	if err := idx.Save(path, IndexState{EmbeddingCount: 4, MaxEmbeddingID: 4}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	_, err := LoadHNSWIndex(path, IndexState{EmbeddingCount: 5, MaxEmbeddingID: 5})
	if !errors.Is(err, ErrStaleIndex) {
		t.Errorf("LoadHNSWIndex() error = %v, want ErrStaleIndex", err)
	}

	if _, err := LoadHNSWIndex(filepath.Join(t.TempDir(), "missing.hnsw"), IndexState{}); err == nil {
		t.Error("expected error loading missing snapshot")
	}
}
