package kiosk

import (
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
)

// Status is the final result of one verification attempt.
type Status string

const (
	StatusRecorded        Status = "recorded"
	StatusNoMatch         Status = "no_match"
	StatusDuplicate       Status = "duplicate"
	StatusQualityRejected Status = "quality_rejected"
	StatusLivenessFailed  Status = "liveness_failed"
)

// MessageFor returns the short text shown to the person for a status.
func MessageFor(status Status) string {
	switch status {
	case StatusRecorded:
		return "Attendance recorded"
	case StatusNoMatch:
		return "Face not recognized. Please try again or contact your administrator"
	case StatusDuplicate:
		return "You have already been recorded. Please wait before trying again"
	case StatusQualityRejected:
		return "Please move closer to the camera"
	case StatusLivenessFailed:
		return "Liveness check failed. Please try again"
	}
	return ""
}

// Outcome is reported when an attempt finishes. The kiosk shows Message and returns to
// ready after Cooldown, whatever the status.
type Outcome struct {
	Status       Status             `json:"status"`
	Message      string             `json:"message"`
	EmployeeID   string             `json:"employee_id,omitempty"`
	EmployeeName string             `json:"employee_name,omitempty"`
	Confidence   float64            `json:"confidence,omitempty"`
	Direction    database.Direction `json:"direction,omitempty"`
	Timestamp    *time.Time         `json:"timestamp,omitempty"`
	SecondsAgo   int                `json:"seconds_ago,omitempty"`
	Cooldown     time.Duration      `json:"-"`
	CooldownMS   int64              `json:"cooldown_ms"`
}

func newOutcome(status Status, cooldown time.Duration) *Outcome {
	return &Outcome{
		Status:     status,
		Message:    MessageFor(status),
		Cooldown:   cooldown,
		CooldownMS: cooldown.Milliseconds(),
	}
}
