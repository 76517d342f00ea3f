package kiosk

import (
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
	"github.com/kozaktomas/attendance-kiosk/internal/liveness"
)

// Frame rejection reasons reported in FrameResult.
const (
	ReasonNoFace         = "no_face"
	ReasonSubjectChanged = "subject_changed"
	ReasonTimeout        = "timeout"
)

// FrameResult is returned for every submitted frame.
type FrameResult struct {
	Passed   bool   `json:"passed"`
	Progress int    `json:"progress"`
	Reason   string `json:"reason,omitempty"`
	// Instruction changes when the challenge falls back or restarts.
	Instruction string `json:"instruction"`
	// Done is set once the attempt no longer accepts frames.
	Done bool `json:"done"`
}

// Session is one verification attempt. It owns its liveness engine, so no state
// carries over between attempts.
type Session struct {
	ID        string
	StartedAt time.Time
	Deadline  time.Time

	mu        sync.Mutex
	challenge liveness.Challenge
	engine    *liveness.Engine

	// baseFrame is the first frame that passed the quality gate; the embedding is
	// extracted from it.
	baseFrame []byte
	baseFace  face.Sample
	hasBase   bool
	lastFace  *face.Sample

	passed     bool
	progress   int
	lastReason string
	expired    bool
	finished   bool
}

// Challenge returns the challenge currently issued to the person.
func (s *Session) Challenge() liveness.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

func (s *Session) result(reason string) FrameResult {
	return FrameResult{
		Passed:      s.passed,
		Progress:    s.progress,
		Reason:      reason,
		Instruction: s.engine.Instruction(),
		Done:        s.passed || s.expired || s.finished,
	}
}

// restart issues a new challenge after the tracked subject changed.
func (s *Session) restart(frame []byte, sample face.Sample) {
	s.challenge = s.engine.GenerateChallenge()
	s.baseFrame = frame
	s.baseFace = sample
	s.hasBase = true
	s.progress = 0
}
