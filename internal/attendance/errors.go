package attendance

import (
	"fmt"
	"time"
)

// DuplicateEventError reports an attempt inside the duplicate window. It is an expected
// outcome, the kiosk just tells the person they are already recorded.
type DuplicateEventError struct {
	IdentityID string
	// SecondsAgo is the age of the previous event.
	SecondsAgo int
	Previous   time.Time
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("attendance for %s already recorded %ds ago", e.IdentityID, e.SecondsAgo)
}
