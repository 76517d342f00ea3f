package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to enrolled identities.
type IdentityReader interface {
	// ListActive returns active identities in scope with their embeddings. Identities are
	// ordered by ID and embeddings by embedding ID, so match tie-breaks are reproducible.
	ListActive(ctx context.Context, scope Scope) ([]EnrolledIdentity, error)
	// List returns all identities in scope (active or not) without embeddings, ordered by ID.
	List(ctx context.Context, scope Scope) ([]EnrolledIdentity, error)
	// Get retrieves an identity with its embeddings, returns nil if not found
	Get(ctx context.Context, id string) (*EnrolledIdentity, error)
	// FindSimilarWithDistance finds reference embeddings closest to the given vector and
	// returns their cosine distances.
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]ReferenceEmbedding, []float64, error)
}

// IdentityWriter provides write access to enrolled identities.
type IdentityWriter interface {
	IdentityReader

	// Save creates or updates the identity record (embeddings are not touched).
	Save(ctx context.Context, identity *EnrolledIdentity) error
	// AddEmbedding stores a new reference embedding and returns its ID.
	AddEmbedding(ctx context.Context, identityID string, embedding []float32, model string) (int64, error)
	// SetActive enables or disables an identity for matching.
	SetActive(ctx context.Context, id string, active bool) error
}

// AttendanceStore persists attendance events.
type AttendanceStore interface {
	// Insert stores a new event. Nothing is written when it fails.
	Insert(ctx context.Context, event *AttendanceEvent) error
	// LatestSince returns the most recent event for the identity with a timestamp at or
	// after since, or nil when there is none.
	LatestSince(ctx context.Context, identityID string, since time.Time) (*AttendanceEvent, error)
	// List returns events matching the filter, newest first.
	List(ctx context.Context, filter AttendanceFilter) ([]AttendanceEvent, error)
}
