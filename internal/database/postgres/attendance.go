package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
)

// AttendanceRepository persists attendance events.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const eventColumns = `id, identity_id, direction, confidence, occurred_at, device_id,
	org_id, branch_id, evidence_ref, synced`

// Insert stores a new event. The error is the driver error as is, so callers see the
// store failure unchanged.
func (r *AttendanceRepository) Insert(ctx context.Context, event *database.AttendanceEvent) error {
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO attendance_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.ID,
		event.IdentityID,
		string(event.Direction),
		event.Confidence,
		event.Timestamp,
		event.DeviceID,
		event.OrgID,
		event.BranchID,
		event.EvidenceRef,
		event.Synced,
	)
	return err
}

// LatestSince returns the newest event for identityID at or after since, nil if none.
func (r *AttendanceRepository) LatestSince(ctx context.Context, identityID string, since time.Time) (*database.AttendanceEvent, error) {
	event, err := scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM attendance_events
		WHERE identity_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT 1
	`, identityID, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns events matching the filter, newest first.
func (r *AttendanceRepository) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceEvent, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.IdentityID != "" {
		add("identity_id = $%d", filter.IdentityID)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To)
	}

	query := `SELECT ` + eventColumns + ` FROM attendance_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance events: %w", err)
	}
	defer rows.Close()

	var events []database.AttendanceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance events: %w", err)
	}
	return events, nil
}

func scanEvent(scanner rowScanner) (database.AttendanceEvent, error) {
	var event database.AttendanceEvent
	var direction string
	err := scanner.Scan(
		&event.ID,
		&event.IdentityID,
		&direction,
		&event.Confidence,
		&event.Timestamp,
		&event.DeviceID,
		&event.OrgID,
		&event.BranchID,
		&event.EvidenceRef,
		&event.Synced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return event, err
	}
	if err != nil {
		return event, fmt.Errorf("scan attendance event: %w", err)
	}
	event.Direction = database.Direction(direction)
	return event, nil
}
