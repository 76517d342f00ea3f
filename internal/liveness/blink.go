package liveness

import "time"

type blinkPhase int

const (
	phaseOpen blinkPhase = iota
	phaseClosedConfirmed
	phaseBlinkSuccess
)

// blinkState walks OPEN -> CLOSED_CONFIRMED -> BLINK_SUCCESS.
type blinkState struct {
	phase     blinkPhase
	closedRun int
	openRun   int
	successAt time.Time
}

// observe feeds one averaged eye-open probability.
func (b *blinkState) observe(avg float64, now time.Time, p Params) {
	switch b.phase {
	case phaseOpen:
		if avg < p.ClosedThreshold {
			b.closedRun++
		} else {
			b.closedRun = 0
		}
		if b.closedRun >= p.BlinkConsecutiveFrames {
			b.phase = phaseClosedConfirmed
			b.openRun = 0
		}
	case phaseClosedConfirmed:
		if avg > p.OpenThreshold {
			b.openRun++
		} else {
			b.openRun = 0
		}
		if b.openRun >= p.BlinkConsecutiveFrames {
			b.phase = phaseBlinkSuccess
			b.successAt = now
		}
	case phaseBlinkSuccess:
		// Terminal. The engine stops feeding frames here once the blink passed,
		// so progress stays pinned at 100 through the grace period and after it.
	}
}

func (b *blinkState) result() Result {
	switch b.phase {
	case phaseClosedConfirmed:
		return Result{Progress: 50}
	case phaseBlinkSuccess:
		return Result{Passed: true, Progress: 100}
	}
	return Result{}
}

// eyeCoverage tracks how often eye data is missing during a blink challenge.
type eyeCoverage struct {
	observed int
	missing  int
	streak   int
}

// record notes one frame and reports whether the fallback condition is met.
func (c *eyeCoverage) record(present bool, p Params) bool {
	c.observed++
	if present {
		c.streak = 0
		return false
	}
	c.missing++
	c.streak++
	if c.streak >= p.MissingEyeStreak {
		return true
	}
	return c.observed >= p.MissingEyeMinSamples &&
		float64(c.missing)/float64(c.observed) > p.MissingEyeRatio
}
