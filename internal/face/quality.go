package face

import (
	"errors"
	"fmt"
)

// DefaultMinFaceSize is the minimum face side in pixels accepted at the kiosk.
const DefaultMinFaceSize = 80

// ErrFaceTooSmall is matched by every ValidationError caused by the size check.
var ErrFaceTooSmall = errors.New("face too small")

// Rejection reasons reported by the gate.
const (
	ReasonTooSmall = "face_too_small"
)

// Validation is the result of a gate check.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	// Size is the measured shorter side of the face box.
	Size float64 `json:"size"`
}

// ValidationError describes a rejected sample. The capture can be retried.
type ValidationError struct {
	Reason  string
	Size    float64
	MinSize float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("face rejected (%s): size %.0fpx, minimum %.0fpx", e.Reason, e.Size, e.MinSize)
}

// Is reports size rejections as ErrFaceTooSmall.
func (e *ValidationError) Is(target error) bool {
	return target == ErrFaceTooSmall && e.Reason == ReasonTooSmall
}

// Gate validates detected faces against minimum size constraints.
type Gate struct {
	MinSize float64
}

// NewGate creates a gate; non-positive sizes fall back to DefaultMinFaceSize.
func NewGate(minSize float64) Gate {
	if minSize <= 0 {
		minSize = DefaultMinFaceSize
	}
	return Gate{MinSize: minSize}
}

// Validate checks a single sample. It has no side effects.
func (g Gate) Validate(s Sample) Validation {
	size := s.Bounds.MinSide()
	// Written as a negated >= so NaN sizes are rejected.
	if !(size >= g.MinSize) {
		return Validation{Valid: false, Reason: ReasonTooSmall, Size: size}
	}
	return Validation{Valid: true, Size: size}
}

// Err converts a failed validation into a *ValidationError, nil when valid.
func (g Gate) Err(v Validation) error {
	if v.Valid {
		return nil
	}
	return &ValidationError{Reason: v.Reason, Size: v.Size, MinSize: g.MinSize}
}
