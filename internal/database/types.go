package database

import (
	"time"
)

// Direction of an attendance event.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Opposite returns the direction that follows d under the day-toggle rule.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// Scope restricts identity reads to one organization and branch. Empty fields match everything.
type Scope struct {
	OrgID    string
	BranchID string
}

// ReferenceEmbedding is one enrolled face vector of an identity.
type ReferenceEmbedding struct {
	ID         int64
	IdentityID string
	Embedding  []float32
	Model      string
	Dim        int
	CreatedAt  time.Time
}

// EnrolledIdentity is a person the kiosk can verify.
type EnrolledIdentity struct {
	ID         string
	Name       string
	OrgID      string
	BranchID   string
	Active     bool
	Embeddings []ReferenceEmbedding
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AttendanceEvent is a persisted attendance decision. It is never mutated after insert
// except for Synced, which a sync collaborator flips.
type AttendanceEvent struct {
	ID          string
	IdentityID  string
	Direction   Direction
	Confidence  float64
	Timestamp   time.Time
	DeviceID    string
	OrgID       string
	BranchID    string
	EvidenceRef string
	Synced      bool
}

// AttendanceFilter selects events for listing. Zero values are ignored.
type AttendanceFilter struct {
	IdentityID string
	From       time.Time
	To         time.Time
	Limit      int
}
