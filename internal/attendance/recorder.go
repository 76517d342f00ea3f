// Package attendance turns a verified identity into a persisted IN/OUT event.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultDuplicateWindow = 120 * time.Second
	UnknownName            = "Unknown"
)

// Config describes the device the recorder writes for.
type Config struct {
	DeviceID        string
	OrgID           string
	BranchID        string
	DuplicateWindow time.Duration
	// Location defines the calendar day for the IN/OUT toggle. Defaults to time.Local.
	Location *time.Location
}

// Decision is a recorded attendance event as reported back to the kiosk.
type Decision struct {
	EventID      string             `json:"event_id"`
	EmployeeID   string             `json:"employee_id"`
	EmployeeName string             `json:"employee_name"`
	Confidence   float64            `json:"confidence"`
	Direction    database.Direction `json:"direction"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Recorder decides and persists attendance events. All writes go through one ordered
// queue; it is safe for concurrent use.
type Recorder struct {
	events     database.AttendanceStore
	identities database.IdentityReader
	cfg        Config
	now        func() time.Time
	queue      *writeQueue
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder starts a recorder and its write queue. Call Close to stop it.
func NewRecorder(events database.AttendanceStore, identities database.IdentityReader, cfg Config, opts ...Option) *Recorder {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultDuplicateWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	r := &Recorder{
		events:     events,
		identities: identities,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = newWriteQueue(16)
	return r
}

// Close stops the write queue.
func (r *Recorder) Close() {
	r.queue.close()
}

// LogAttendance records an event for identityID. It returns *DuplicateEventError when
// the identity already has an event inside the duplicate window. Store errors are
// returned as is and leave nothing written.
func (r *Recorder) LogAttendance(ctx context.Context, identityID string, confidence float64, evidenceRef string) (*Decision, error) {
	return r.queue.submit(ctx, func(ctx context.Context) (*Decision, error) {
		return r.logAttendance(ctx, identityID, confidence, evidenceRef)
	})
}

func (r *Recorder) logAttendance(ctx context.Context, identityID string, confidence float64, evidenceRef string) (*Decision, error) {
	now := r.now()

	recent, err := r.events.LatestSince(ctx, identityID, now.Add(-r.cfg.DuplicateWindow))
	if err != nil {
		return nil, err
	}
	if recent != nil {
		dupErr := &DuplicateEventError{
			IdentityID: identityID,
			SecondsAgo: int(now.Sub(recent.Timestamp) / time.Second),
			Previous:   recent.Timestamp,
		}
		log.WithFields(log.Fields{
			"identity_id": identityID,
			"seconds_ago": dupErr.SecondsAgo,
		}).Info("Duplicate attendance suppressed")
		return nil, dupErr
	}

	direction, err := r.nextDirection(ctx, identityID, now)
	if err != nil {
		return nil, err
	}

	event := &database.AttendanceEvent{
		ID:          uuid.NewString(),
		IdentityID:  identityID,
		Direction:   direction,
		Confidence:  confidence,
		Timestamp:   now,
		DeviceID:    r.cfg.DeviceID,
		OrgID:       r.cfg.OrgID,
		BranchID:    r.cfg.BranchID,
		EvidenceRef: evidenceRef,
		Synced:      false,
	}
	if err := r.events.Insert(ctx, event); err != nil {
		return nil, err
	}

	name := r.displayName(ctx, identityID)
	log.WithFields(log.Fields{
		"identity_id": identityID,
		"direction":   direction,
		"confidence":  confidence,
		"event_id":    event.ID,
	}).Info("Attendance recorded")

	return &Decision{
		EventID:      event.ID,
		EmployeeID:   identityID,
		EmployeeName: name,
		Confidence:   confidence,
		Direction:    direction,
		Timestamp:    now,
	}, nil
}

// nextDirection applies the day-toggle rule: OUT after an IN today, IN otherwise.
func (r *Recorder) nextDirection(ctx context.Context, identityID string, now time.Time) (database.Direction, error) {
	prev, err := r.events.LatestSince(ctx, identityID, StartOfDay(now, r.cfg.Location))
	if err != nil {
		return "", err
	}
	if prev == nil {
		return database.DirectionIn, nil
	}
	return prev.Direction.Opposite(), nil
}

// displayName resolves the identity's name. Lookup failures fall back to UnknownName.
func (r *Recorder) displayName(ctx context.Context, identityID string) string {
	if r.identities == nil {
		return UnknownName
	}
	identity, err := r.identities.Get(ctx, identityID)
	if err != nil {
		log.WithError(err).WithField("identity_id", identityID).Warn("Identity name lookup failed")
		return UnknownName
	}
	if identity == nil || identity.Name == "" {
		return UnknownName
	}
	return identity.Name
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
