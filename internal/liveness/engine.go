// Package liveness runs the interactive anti-spoofing challenge. An Engine issues a
// random challenge (blink or head turn) and consumes face samples until it passes.
package liveness

import (
	"errors"
	"math/rand/v2"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
)

// ErrInvalidState is returned by ProcessFrame when no challenge has been issued.
var ErrInvalidState = errors.New("liveness: no active challenge")

// Engine is the per-attempt liveness state machine. It is not safe for concurrent use.
type Engine struct {
	params Params
	clock  Clock
	rng    *rand.Rand

	challenge *Challenge
	blink     blinkState
	coverage  eyeCoverage
	turn      turnState
	fallback  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand sets the source used to pick challenge types.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// NewEngine creates an engine with no active challenge.
func NewEngine(params Params, opts ...Option) *Engine {
	e := &Engine{params: params, clock: SystemClock()}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if len(e.params.Challenges) == 0 {
		e.params.Challenges = DefaultParams().Challenges
	}
	return e
}

// GenerateChallenge resets all state and issues a new randomly chosen challenge.
func (e *Engine) GenerateChallenge() Challenge {
	e.Reset()
	t := e.params.Challenges[e.rng.IntN(len(e.params.Challenges))]
	e.challenge = &Challenge{Type: t, Instruction: t.Instruction()}
	switch t {
	case TurnLeft, TurnRight:
		e.turn = newTurnState(t, e.params.TurnFrames)
	}
	return *e.challenge
}

// Challenge returns the active challenge, if any.
func (e *Engine) Challenge() (Challenge, bool) {
	if e.challenge == nil {
		return Challenge{}, false
	}
	return *e.challenge, true
}

// FellBack reports whether the active blink challenge now runs as head-turn.
func (e *Engine) FellBack() bool { return e.fallback }

// Instruction returns the text for the current mode of the active challenge.
func (e *Engine) Instruction() string {
	if e.challenge == nil {
		return ""
	}
	if e.fallback {
		return FallbackInstruction
	}
	return e.challenge.Instruction
}

// ProcessFrame feeds one face sample to the active challenge.
func (e *Engine) ProcessFrame(s face.Sample) (Result, error) {
	if e.challenge == nil {
		return Result{}, ErrInvalidState
	}
	now := e.clock.Now()

	if e.challenge.Type != Blink || e.fallback {
		r := e.turn.process(s, now, e.params)
		r.FellBack = e.fallback
		return r, nil
	}

	// A completed blink is terminal; missing eye data afterwards must not trip the
	// fallback and replace the result.
	if e.blink.phase == phaseBlinkSuccess {
		return e.blink.result(), nil
	}

	avg, ok := s.EyeOpenAverage()
	if e.coverage.record(ok, e.params) && e.params.StickyFallback {
		// One-way switch for the rest of the attempt. The triggering frame is
		// already processed by head-turn.
		e.fallback = true
		e.turn = newTurnState("", e.params.FallbackTurnFrames)
		r := e.turn.process(s, now, e.params)
		r.FellBack = true
		return r, nil
	}
	if ok {
		e.blink.observe(avg, now, e.params)
	}
	return e.blink.result(), nil
}

// Reset drops the active challenge and all counters.
func (e *Engine) Reset() {
	e.challenge = nil
	e.blink = blinkState{}
	e.coverage = eyeCoverage{}
	e.turn = turnState{}
	e.fallback = false
}
