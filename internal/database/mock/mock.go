// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/facematch"
)

// MockIdentityStore is a mock implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*database.EnrolledIdentity
	nextEmbID  int64

	// Error injection
	ListActiveError   error
	ListError         error
	GetError          error
	FindSimilarError  error
	SaveError         error
	AddEmbeddingError error
	SetActiveError    error
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*database.EnrolledIdentity),
	}
}

// AddIdentity adds an identity with its embeddings to the mock store.
// Embeddings without an ID get the next sequential one.
func (m *MockIdentityStore) AddIdentity(identity database.EnrolledIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range identity.Embeddings {
		if identity.Embeddings[i].ID == 0 {
			m.nextEmbID++
			identity.Embeddings[i].ID = m.nextEmbID
		} else if identity.Embeddings[i].ID > m.nextEmbID {
			m.nextEmbID = identity.Embeddings[i].ID
		}
		identity.Embeddings[i].IdentityID = identity.ID
		identity.Embeddings[i].Dim = len(identity.Embeddings[i].Embedding)
	}
	m.identities[identity.ID] = &identity
}

func inScope(identity *database.EnrolledIdentity, scope database.Scope) bool {
	if scope.OrgID != "" && identity.OrgID != scope.OrgID {
		return false
	}
	if scope.BranchID != "" && identity.BranchID != scope.BranchID {
		return false
	}
	return true
}

// sorted returns identities ordered by ID, embeddings ordered by embedding ID.
func (m *MockIdentityStore) sorted(scope database.Scope, activeOnly, withEmbeddings bool) []database.EnrolledIdentity {
	var result []database.EnrolledIdentity
	for _, identity := range m.identities {
		if !inScope(identity, scope) || (activeOnly && !identity.Active) {
			continue
		}
		cp := *identity
		if withEmbeddings {
			cp.Embeddings = append([]database.ReferenceEmbedding(nil), identity.Embeddings...)
			sort.Slice(cp.Embeddings, func(i, j int) bool { return cp.Embeddings[i].ID < cp.Embeddings[j].ID })
		} else {
			cp.Embeddings = nil
		}
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListActive returns active identities in scope
func (m *MockIdentityStore) ListActive(ctx context.Context, scope database.Scope) ([]database.EnrolledIdentity, error) {
	if m.ListActiveError != nil {
		return nil, m.ListActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(scope, true, true), nil
}

// List returns all identities in scope without embeddings
func (m *MockIdentityStore) List(ctx context.Context, scope database.Scope) ([]database.EnrolledIdentity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(scope, false, false), nil
}

// Get retrieves an identity by ID
func (m *MockIdentityStore) Get(ctx context.Context, id string) (*database.EnrolledIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *identity
	cp.Embeddings = append([]database.ReferenceEmbedding(nil), identity.Embeddings...)
	return &cp, nil
}

// FindSimilarWithDistance scans all embeddings by cosine distance
func (m *MockIdentityStore) FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.ReferenceEmbedding, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		ref  database.ReferenceEmbedding
		dist float64
	}
	var all []scored
	for _, identity := range m.identities {
		for _, ref := range identity.Embeddings {
			if len(ref.Embedding) != len(embedding) {
				continue
			}
			dist := 1 - facematch.CosineSimilarity(embedding, ref.Embedding)
			if dist <= maxDistance {
				all = append(all, scored{ref: ref, dist: dist})
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	refs := make([]database.ReferenceEmbedding, len(all))
	dists := make([]float64, len(all))
	for i, s := range all {
		refs[i] = s.ref
		dists[i] = s.dist
	}
	return refs, dists, nil
}

// Save creates or updates an identity record
func (m *MockIdentityStore) Save(ctx context.Context, identity *database.EnrolledIdentity) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	existing, ok := m.identities[identity.ID]
	if !ok {
		cp := *identity
		cp.Embeddings = nil
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.identities[identity.ID] = &cp
		return nil
	}
	existing.Name = identity.Name
	existing.OrgID = identity.OrgID
	existing.BranchID = identity.BranchID
	existing.Active = identity.Active
	existing.UpdatedAt = now
	return nil
}

// AddEmbedding stores a reference embedding for an identity
func (m *MockIdentityStore) AddEmbedding(ctx context.Context, identityID string, embedding []float32, model string) (int64, error) {
	if m.AddEmbeddingError != nil {
		return 0, m.AddEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return 0, database.ErrIdentityNotFound
	}
	m.nextEmbID++
	identity.Embeddings = append(identity.Embeddings, database.ReferenceEmbedding{
		ID:         m.nextEmbID,
		IdentityID: identityID,
		Embedding:  embedding,
		Model:      model,
		Dim:        len(embedding),
		CreatedAt:  time.Now(),
	})
	return m.nextEmbID, nil
}

// SetActive enables or disables an identity
func (m *MockIdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveError != nil {
		return m.SetActiveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return database.ErrIdentityNotFound
	}
	identity.Active = active
	return nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceStore
type MockAttendanceStore struct {
	mu     sync.RWMutex
	events []database.AttendanceEvent

	// Error injection
	InsertError      error
	LatestSinceError error
	ListError        error

	// Call tracking
	LatestSinceCalls []LatestSinceCall
}

// LatestSinceCall records a LatestSince invocation
type LatestSinceCall struct {
	IdentityID string
	Since      time.Time
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{}
}

// AddEvent seeds an event into the mock store
func (m *MockAttendanceStore) AddEvent(event database.AttendanceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of all stored events in insertion order
func (m *MockAttendanceStore) Events() []database.AttendanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AttendanceEvent(nil), m.events...)
}

// Insert stores an event
func (m *MockAttendanceStore) Insert(ctx context.Context, event *database.AttendanceEvent) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// LatestSince returns the newest event for an identity at or after since
func (m *MockAttendanceStore) LatestSince(ctx context.Context, identityID string, since time.Time) (*database.AttendanceEvent, error) {
	m.mu.Lock()
	m.LatestSinceCalls = append(m.LatestSinceCalls, LatestSinceCall{IdentityID: identityID, Since: since})
	m.mu.Unlock()

	if m.LatestSinceError != nil {
		return nil, m.LatestSinceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *database.AttendanceEvent
	for i := range m.events {
		ev := &m.events[i]
		if ev.IdentityID != identityID || ev.Timestamp.Before(since) {
			continue
		}
		if latest == nil || ev.Timestamp.After(latest.Timestamp) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// List returns events matching the filter, newest first
func (m *MockAttendanceStore) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.AttendanceEvent
	for _, ev := range m.events {
		if filter.IdentityID != "" && ev.IdentityID != filter.IdentityID {
			continue
		}
		if !filter.From.IsZero() && ev.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !ev.Timestamp.Before(filter.To) {
			continue
		}
		result = append(result, ev)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
