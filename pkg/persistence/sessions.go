package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pedagogue/pkg/proto"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeFormat matches sqlite's strftime('%Y-%m-%dT%H:%M:%fZ','now') so stored
// timestamps sort correctly as strings regardless of which side generated them.
const timeFormat = "2006-01-02T15:04:05.000Z"

// SessionRow is a persisted session.
type SessionRow struct {
	SessionID      string
	UserID         string
	CourseID       *string
	Phase          proto.Phase
	RevisionOrigin *proto.Phase
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// CreateSession inserts a new session record.
func CreateSession(db *sql.DB, row *SessionRow) error {
	var origin *string
	if row.RevisionOrigin != nil {
		s := row.RevisionOrigin.String()
		origin = &s
	}
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, user_id, course_id, phase, revision_origin, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.SessionID, row.UserID, row.CourseID, row.Phase.String(), origin,
		row.CreatedAt.UTC().Format(timeFormat), row.LastActivityAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func scanSessionRow(scan func(...any) error) (*SessionRow, error) {
	var row SessionRow
	var phase string
	var origin sql.NullString
	var createdAt, lastActivity string

	err := scan(&row.SessionID, &row.UserID, &row.CourseID, &phase, &origin, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	parsed, err := proto.ParsePhase(phase)
	if err != nil {
		return nil, fmt.Errorf("corrupt session phase: %w", err)
	}
	row.Phase = parsed

	if origin.Valid {
		originPhase, err := proto.ParsePhase(origin.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt revision origin: %w", err)
		}
		row.RevisionOrigin = &originPhase
	}

	if row.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt session created_at: %w", err)
	}
	if row.LastActivityAt, err = time.Parse(timeFormat, lastActivity); err != nil {
		return nil, fmt.Errorf("corrupt session last_activity_at: %w", err)
	}
	return &row, nil
}

// GetSession returns a session by ID. Returns ErrNotFound if it does not exist.
func GetSession(db *sql.DB, sessionID string) (*SessionRow, error) {
	row := db.QueryRow(`
		SELECT session_id, user_id, course_id, phase, revision_origin, created_at, last_activity_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID)
	return scanSessionRow(row.Scan)
}

// FindActiveSession returns the most recent session for a (user, course) pair
// whose last activity is after the staleness cutoff. courseID may be nil for
// courseless sessions. Returns ErrNotFound when no live session exists.
func FindActiveSession(db *sql.DB, userID string, courseID *string, staleBefore time.Time) (*SessionRow, error) {
	query := `
		SELECT session_id, user_id, course_id, phase, revision_origin, created_at, last_activity_at
		FROM sessions
		WHERE user_id = ? AND last_activity_at > ?
	`
	args := []any{userID, staleBefore.UTC().Format(timeFormat)}
	if courseID != nil {
		query += ` AND course_id = ?`
		args = append(args, *courseID)
	} else {
		query += ` AND course_id IS NULL`
	}
	query += ` ORDER BY last_activity_at DESC LIMIT 1`

	row := db.QueryRow(query, args...)
	return scanSessionRow(row.Scan)
}

// UpdateSessionPhase updates a session's phase, revision origin, and activity timestamp.
func UpdateSessionPhase(db *sql.DB, sessionID string, phase proto.Phase, revisionOrigin *proto.Phase) error {
	var origin *string
	if revisionOrigin != nil {
		s := revisionOrigin.String()
		origin = &s
	}
	result, err := db.Exec(`
		UPDATE sessions
		SET phase = ?, revision_origin = ?, last_activity_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE session_id = ?
	`, phase.String(), origin, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionPhaseTx is the transactional form of UpdateSessionPhase.
func UpdateSessionPhaseTx(tx *sql.Tx, sessionID string, phase proto.Phase, revisionOrigin *proto.Phase) error {
	var origin *string
	if revisionOrigin != nil {
		s := revisionOrigin.String()
		origin = &s
	}
	result, err := tx.Exec(`
		UPDATE sessions
		SET phase = ?, revision_origin = ?, last_activity_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE session_id = ?
	`, phase.String(), origin, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSession bumps a session's last-activity timestamp.
func TouchSession(db *sql.DB, sessionID string) error {
	result, err := db.Exec(`
		UPDATE sessions
		SET last_activity_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
