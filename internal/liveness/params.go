package liveness

import (
	"errors"
	"fmt"
	"time"
)

// Params tunes both challenge sub-machines. The zero value is not usable; start
// from DefaultParams.
type Params struct {
	// Challenges lists the types GenerateChallenge may pick from.
	Challenges []ChallengeType `yaml:"challenges"`

	// ClosedThreshold is the averaged eye-open probability below which eyes count as closed.
	ClosedThreshold float64 `yaml:"closed_threshold"`
	// OpenThreshold is the averaged eye-open probability above which eyes count as open.
	OpenThreshold float64 `yaml:"open_threshold"`
	// BlinkConsecutiveFrames is the number of consecutive frames needed for each blink
	// transition. Some devices run with 1; that lets a single closed frame count as a blink.
	BlinkConsecutiveFrames int `yaml:"blink_consecutive_frames"`

	// YawThreshold is the absolute yaw in degrees a frame needs to count as turned.
	YawThreshold float64 `yaml:"yaw_threshold"`
	// TurnFrames is the detection count required to pass a head-turn challenge.
	TurnFrames int `yaml:"turn_frames"`
	// FallbackTurnFrames is the reduced requirement after a blink falls back to head-turn.
	FallbackTurnFrames int `yaml:"fallback_turn_frames"`
	// DecayDelay is how long without a qualifying frame before the counter starts decaying.
	DecayDelay time.Duration `yaml:"decay_delay"`

	// SuccessGrace pins passed=true and progress=100 after the first pass.
	SuccessGrace time.Duration `yaml:"success_grace"`

	// StickyFallback switches a blink challenge to head-turn for the rest of the attempt
	// once eye data goes missing. Disabling it leaves the blink challenge waiting instead.
	StickyFallback bool `yaml:"sticky_fallback"`
	// MissingEyeStreak is the number of consecutive frames without eye data that triggers fallback.
	MissingEyeStreak int `yaml:"missing_eye_streak"`
	// MissingEyeRatio triggers fallback when exceeded by the missing/observed ratio.
	MissingEyeRatio float64 `yaml:"missing_eye_ratio"`
	// MissingEyeMinSamples is the sample count required before MissingEyeRatio applies.
	MissingEyeMinSamples int `yaml:"missing_eye_min_samples"`
}

// DefaultParams returns the tuning used by the kiosk unless overridden.
func DefaultParams() Params {
	return Params{
		Challenges:             []ChallengeType{Blink, TurnLeft, TurnRight},
		ClosedThreshold:        0.3,
		OpenThreshold:          0.7,
		BlinkConsecutiveFrames: 2,
		YawThreshold:           20,
		TurnFrames:             3,
		FallbackTurnFrames:     2,
		DecayDelay:             300 * time.Millisecond,
		SuccessGrace:           time.Second,
		StickyFallback:         true,
		MissingEyeStreak:       2,
		MissingEyeRatio:        0.3,
		MissingEyeMinSamples:   2,
	}
}

// Validate checks the parameters for values the sub-machines cannot work with.
func (p Params) Validate() error {
	var errs []error
	if len(p.Challenges) == 0 {
		errs = append(errs, errors.New("at least one challenge type is required"))
	}
	for _, c := range p.Challenges {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("unknown challenge type %q", c))
		}
	}
	if p.ClosedThreshold <= 0 || p.OpenThreshold >= 1 || p.ClosedThreshold >= p.OpenThreshold {
		errs = append(errs, fmt.Errorf("eye thresholds must satisfy 0 < closed (%.2f) < open (%.2f) < 1",
			p.ClosedThreshold, p.OpenThreshold))
	}
	if p.BlinkConsecutiveFrames < 1 {
		errs = append(errs, fmt.Errorf("blink_consecutive_frames must be >= 1, got %d", p.BlinkConsecutiveFrames))
	}
	if p.YawThreshold <= 0 {
		errs = append(errs, fmt.Errorf("yaw_threshold must be positive, got %.1f", p.YawThreshold))
	}
	if p.TurnFrames < 1 || p.FallbackTurnFrames < 1 {
		errs = append(errs, fmt.Errorf("turn frame requirements must be >= 1, got %d/%d", p.TurnFrames, p.FallbackTurnFrames))
	}
	if p.DecayDelay < 0 || p.SuccessGrace < 0 {
		errs = append(errs, errors.New("decay_delay and success_grace must not be negative"))
	}
	if p.MissingEyeStreak < 1 || p.MissingEyeMinSamples < 1 {
		errs = append(errs, errors.New("missing eye limits must be >= 1"))
	}
	if p.MissingEyeRatio <= 0 || p.MissingEyeRatio > 1 {
		errs = append(errs, fmt.Errorf("missing_eye_ratio must be in (0, 1], got %.2f", p.MissingEyeRatio))
	}
	return errors.Join(errs...)
}
