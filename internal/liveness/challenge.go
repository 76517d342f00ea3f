package liveness

// ChallengeType is the interactive action requested from the subject.
type ChallengeType string

const (
	Blink     ChallengeType = "blink"
	TurnLeft  ChallengeType = "turn_left"
	TurnRight ChallengeType = "turn_right"
)

// Valid reports whether t is a known challenge type.
func (t ChallengeType) Valid() bool {
	switch t {
	case Blink, TurnLeft, TurnRight:
		return true
	}
	return false
}

// Instruction returns the text shown to the subject.
func (t ChallengeType) Instruction() string {
	switch t {
	case Blink:
		return "Please blink your eyes"
	case TurnLeft:
		return "Slowly turn your head to the left"
	case TurnRight:
		return "Slowly turn your head to the right"
	}
	return ""
}

// FallbackInstruction is shown once a blink challenge has switched to head-turn.
const FallbackInstruction = "Eyes not visible. Slowly turn your head to either side"

// Challenge is an issued liveness challenge. It does not change after issue.
type Challenge struct {
	Type        ChallengeType `json:"type"`
	Instruction string        `json:"instruction"`
}

// Result is reported for every processed frame.
type Result struct {
	Passed bool `json:"passed"`
	// Progress is 0-100.
	Progress int `json:"progress"`
	// FellBack is set once a blink challenge runs as head-turn.
	FellBack bool `json:"fell_back,omitempty"`
}
