// Package face holds the per-frame face sample produced by the geometry detector
// and the admission checks applied to it before liveness and matching.
package face

import "time"

// Bounds is a face bounding box in pixel coordinates of the source frame.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the bounding box area.
func (b Bounds) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// MinSide returns the shorter side of the box.
func (b Bounds) MinSide() float64 {
	return min(b.Width, b.Height)
}

// Corners converts the box to [x1, y1, x2, y2].
func (b Bounds) Corners() []float64 {
	return []float64{b.X, b.Y, b.X + b.Width, b.Y + b.Height}
}

// EyeOpenness holds the detector's per-eye open probabilities (0-1).
type EyeOpenness struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Average returns the mean of both eye-open probabilities.
func (e EyeOpenness) Average() float64 {
	return (e.Left + e.Right) / 2
}

// Point is a landmark position in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is a single detected face in one frame. Optional signals are nil when
// the detector could not produce them.
type Sample struct {
	Bounds     Bounds       `json:"bounds"`
	Eyes       *EyeOpenness `json:"eyes,omitempty"`
	Yaw        *float64     `json:"yaw,omitempty"`
	Roll       *float64     `json:"roll,omitempty"`
	Landmarks  []Point      `json:"landmarks,omitempty"`
	CapturedAt time.Time    `json:"captured_at"`
}

// EyeOpenAverage returns the averaged eye-open probability and whether eye data was present.
func (s Sample) EyeOpenAverage() (float64, bool) {
	if s.Eyes == nil {
		return 0, false
	}
	return s.Eyes.Average(), true
}

// YawAngle returns the yaw angle in degrees and whether it was present.
func (s Sample) YawAngle() (float64, bool) {
	if s.Yaw == nil {
		return 0, false
	}
	return *s.Yaw, true
}

// Float returns a pointer to v. Handy for building samples with optional angles.
func Float(v float64) *float64 {
	return &v
}
