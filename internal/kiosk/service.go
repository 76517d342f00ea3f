// Package kiosk runs verification attempts end to end: quality gate, liveness
// challenge, embedding match and the attendance decision.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/attendance-kiosk/internal/attendance"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/face"
	"github.com/kozaktomas/attendance-kiosk/internal/facematch"
	"github.com/kozaktomas/attendance-kiosk/internal/liveness"
	"github.com/kozaktomas/attendance-kiosk/internal/vision"
)

var (
	// ErrBusy is returned when an attempt is in flight or the kiosk is cooling down.
	ErrBusy = errors.New("kiosk: verification already in progress")
	// ErrThrottled is returned when a capture is triggered again within the throttle window.
	ErrThrottled = errors.New("kiosk: capture triggered too quickly")
	// ErrSessionNotFound is returned for unknown or already finished sessions.
	ErrSessionNotFound = errors.New("kiosk: session not found")
)

// Detector finds faces in a frame.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (*vision.Detection, error)
}

// Extractor computes the embedding of a face inside a frame.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, bounds face.Bounds) ([]float32, error)
}

// Recorder persists attendance decisions.
type Recorder interface {
	LogAttendance(ctx context.Context, identityID string, confidence float64, evidenceRef string) (*attendance.Decision, error)
}

// Config tunes a Service.
type Config struct {
	Scope           database.Scope
	MatchThreshold  float64
	LivenessTimeout time.Duration
	FrameInterval   time.Duration
	CaptureThrottle time.Duration
	Cooldown        time.Duration
	MinFaceSize     float64
	// MaxFrameSize downscales larger frames before detection. Zero keeps frames as is.
	MaxFrameSize int
	Liveness     liveness.Params
}

// Service is the per-device verification coordinator. At most one Session is active.
type Service struct {
	detector   Detector
	extractor  Extractor
	identities database.IdentityReader
	recorder   Recorder
	cfg        Config
	gate       face.Gate
	clock      liveness.Clock
	newRand    func() *rand.Rand

	mu        sync.Mutex
	active    *Session
	lastStart time.Time
	readyAt   time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock for deadlines, throttling and liveness timing.
func WithClock(c liveness.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRandSource sets the factory for per-session challenge randomness.
func WithRandSource(newRand func() *rand.Rand) Option {
	return func(s *Service) { s.newRand = newRand }
}

// NewService creates a kiosk service.
func NewService(detector Detector, extractor Extractor, identities database.IdentityReader, recorder Recorder, cfg Config, opts ...Option) *Service {
	if cfg.MatchThreshold == 0 {
		cfg.MatchThreshold = facematch.DefaultThreshold
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 8 * time.Second
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 110 * time.Millisecond
	}
	if len(cfg.Liveness.Challenges) == 0 {
		cfg.Liveness = liveness.DefaultParams()
	}
	s := &Service{
		detector:   detector,
		extractor:  extractor,
		identities: identities,
		recorder:   recorder,
		cfg:        cfg,
		gate:       face.NewGate(cfg.MinFaceSize),
		clock:      liveness.SystemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new attempt and issues its liveness challenge.
func (s *Service) Start(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.active != nil {
		if !s.active.isOver(now) {
			return nil, ErrBusy
		}
		log.WithField("session_id", s.active.ID).Debug("Dropping expired session")
		s.active = nil
	}
	if now.Before(s.readyAt) {
		return nil, ErrBusy
	}
	if !s.lastStart.IsZero() && now.Sub(s.lastStart) < s.cfg.CaptureThrottle {
		return nil, ErrThrottled
	}

	opts := []liveness.Option{liveness.WithClock(s.clock)}
	if s.newRand != nil {
		opts = append(opts, liveness.WithRand(s.newRand()))
	}
	engine := liveness.NewEngine(s.cfg.Liveness, opts...)

	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: now,
		Deadline:  now.Add(s.cfg.LivenessTimeout),
		engine:    engine,
	}
	sess.challenge = engine.GenerateChallenge()

	s.active = sess
	s.lastStart = now

	log.WithFields(log.Fields{
		"session_id": sess.ID,
		"challenge":  sess.challenge.Type,
	}).Info("Verification started")
	return sess, nil
}

// isOver reports whether a session can be replaced by a new one. Expired sessions are
// kept for a grace of one timeout so the caller can still fetch their outcome.
func (sess *Session) isOver(now time.Time) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.finished || now.After(sess.Deadline.Add(sess.Deadline.Sub(sess.StartedAt)))
}

// session returns the active session with the given ID.
func (s *Service) session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != id {
		return nil, ErrSessionNotFound
	}
	return s.active, nil
}

// Active returns the in-flight session, if any.
func (s *Service) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SubmitFrame runs one captured frame through the quality gate and the liveness challenge.
func (s *Service) SubmitFrame(ctx context.Context, id string, imageData []byte) (FrameResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return FrameResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.finished {
		return FrameResult{}, ErrSessionNotFound
	}
	if sess.passed || sess.expired {
		return sess.result(""), nil
	}
	if s.clock.Now().After(sess.Deadline) {
		sess.expired = true
		log.WithField("session_id", sess.ID).Info("Liveness timed out")
		return sess.result(ReasonTimeout), nil
	}

	if s.cfg.MaxFrameSize > 0 {
		resized, err := vision.ResizeImage(imageData, s.cfg.MaxFrameSize)
		if err != nil {
			return FrameResult{}, fmt.Errorf("resize frame: %w", err)
		}
		imageData = resized
	}

	det, err := s.detector.Detect(ctx, imageData)
	if err != nil {
		return FrameResult{}, fmt.Errorf("detect faces: %w", err)
	}
	idx := face.Primary(det.Faces)
	if idx < 0 {
		sess.lastReason = ReasonNoFace
		return sess.result(ReasonNoFace), nil
	}
	sample := det.Faces[idx]

	validation := s.gate.Validate(sample)
	if !validation.Valid {
		log.WithField("session_id", sess.ID).WithError(s.gate.Err(validation)).Debug("Frame rejected")
		sess.lastReason = validation.Reason
		return sess.result(validation.Reason), nil
	}

	reason := ""
	switch {
	case !sess.hasBase:
		sess.baseFrame = imageData
		sess.baseFace = sample
		sess.hasBase = true
	case sess.lastFace != nil && !face.SameSubject(*sess.lastFace, sample):
		log.WithField("session_id", sess.ID).Warn("Tracked face changed, restarting challenge")
		sess.restart(imageData, sample)
		reason = ReasonSubjectChanged
	}
	sess.lastFace = &sample
	sess.lastReason = ""

	res, err := sess.engine.ProcessFrame(sample)
	if err != nil {
		return FrameResult{}, err
	}
	sess.progress = res.Progress
	if res.Passed {
		sess.passed = true
		log.WithFields(log.Fields{
			"session_id": sess.ID,
			"fell_back":  res.FellBack,
		}).Info("Liveness passed")
	}
	return sess.result(reason), nil
}

// Finish closes the attempt and, when liveness passed, matches the base frame and
// records attendance. Expected negative results are reported in the Outcome; the
// error is reserved for unavailable collaborators and storage failures.
func (s *Service) Finish(ctx context.Context, id string) (*Outcome, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.finished {
		sess.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	sess.finished = true
	sess.mu.Unlock()
	defer s.release(sess)

	return s.conclude(ctx, sess)
}

// conclude runs after the session stopped accepting frames, so its fields are stable.
func (s *Service) conclude(ctx context.Context, sess *Session) (*Outcome, error) {
	logger := log.WithField("session_id", sess.ID)

	if !sess.passed {
		if !sess.hasBase && sess.lastReason == face.ReasonTooSmall {
			logger.Info("Attempt rejected by quality gate")
			return newOutcome(StatusQualityRejected, s.cfg.Cooldown), nil
		}
		logger.Info("Attempt failed liveness")
		return newOutcome(StatusLivenessFailed, s.cfg.Cooldown), nil
	}

	probe, err := s.extractor.Extract(ctx, sess.baseFrame, sess.baseFace.Bounds)
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}

	candidates, err := s.identities.ListActive(ctx, s.cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	match, ok := facematch.Match(probe, candidates, s.cfg.MatchThreshold)
	if !ok {
		logger.WithField("candidates", len(candidates)).Info("No matching identity")
		return newOutcome(StatusNoMatch, s.cfg.Cooldown), nil
	}

	evidence := ""
	if hash, err := vision.FrameHash(sess.baseFrame); err != nil {
		logger.WithError(err).Warn("Could not fingerprint base frame")
	} else {
		evidence = vision.EvidenceRef(hash)
	}

	decision, err := s.recorder.LogAttendance(ctx, match.IdentityID, match.Confidence, evidence)
	var dupErr *attendance.DuplicateEventError
	switch {
	case errors.As(err, &dupErr):
		out := newOutcome(StatusDuplicate, s.cfg.Cooldown)
		out.EmployeeID = match.IdentityID
		out.EmployeeName = match.Name
		out.Confidence = match.Confidence
		out.SecondsAgo = dupErr.SecondsAgo
		return out, nil
	case err != nil:
		return nil, err
	}

	out := newOutcome(StatusRecorded, s.cfg.Cooldown)
	out.EmployeeID = decision.EmployeeID
	out.EmployeeName = decision.EmployeeName
	out.Confidence = decision.Confidence
	out.Direction = decision.Direction
	out.Timestamp = &decision.Timestamp
	return out, nil
}

// Cancel drops the attempt without an outcome.
func (s *Service) Cancel(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.finished = true
	sess.mu.Unlock()

	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
	log.WithField("session_id", id).Info("Verification canceled")
	return nil
}

// release clears the finished session and starts the cooldown.
func (s *Service) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sess {
		s.active = nil
	}
	s.readyAt = s.clock.Now().Add(s.cfg.Cooldown)
}
