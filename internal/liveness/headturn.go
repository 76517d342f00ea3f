package liveness

import (
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
)

// turnState counts frames turned past the yaw threshold. The counter decays by one per
// frame once no qualifying frame has been seen for longer than the decay delay.
type turnState struct {
	// direction is TurnLeft, TurnRight, or empty to accept either side.
	direction ChallengeType
	required  int

	counter      int
	lastDetected time.Time
	successAt    time.Time

	// yawSeen is set by the first frame carrying a yaw angle. Until then frames
	// feed the presence counter instead.
	yawSeen  bool
	presence int
}

func newTurnState(direction ChallengeType, required int) turnState {
	return turnState{direction: direction, required: required}
}

// qualifies reports whether yaw is a turn in the requested direction.
// Positive yaw is the subject's left.
func (t *turnState) qualifies(yaw, threshold float64) bool {
	switch t.direction {
	case TurnLeft:
		return yaw >= threshold
	case TurnRight:
		return yaw <= -threshold
	default:
		return yaw >= threshold || yaw <= -threshold
	}
}

func (t *turnState) decay(now time.Time, p Params) {
	if t.counter == 0 || t.lastDetected.IsZero() {
		return
	}
	if now.Sub(t.lastDetected) > p.DecayDelay {
		t.counter--
	}
}

func (t *turnState) process(s face.Sample, now time.Time, p Params) Result {
	if !t.successAt.IsZero() && now.Sub(t.successAt) <= p.SuccessGrace {
		return Result{Passed: true, Progress: 100}
	}

	yaw, ok := s.YawAngle()
	switch {
	case ok:
		t.yawSeen = true
		if t.qualifies(yaw, p.YawThreshold) {
			t.counter++
			t.lastDetected = now
		} else {
			t.decay(now, p)
		}
	case !t.yawSeen:
		t.presence++
	default:
		t.decay(now, p)
	}

	count := t.counter
	if !t.yawSeen {
		count = t.presence
	}
	if count >= t.required {
		if t.successAt.IsZero() {
			t.successAt = now
		}
		return Result{Passed: true, Progress: 100}
	}
	return Result{Progress: min(100, count*100/t.required)}
}
