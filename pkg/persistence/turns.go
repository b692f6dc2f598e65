package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"pedagogue/pkg/proto"
)

// TurnRow is a persisted conversation turn.
type TurnRow struct {
	TurnID    string
	SessionID string
	Seq       int
	UserMsg   string
	AgentMsg  string
	AgentID   proto.AgentID
	CreatedAt time.Time
}

// AppendTurn inserts a turn with the next sequence number for its session.
// The UNIQUE(session_id, seq) constraint rejects concurrent duplicate appends.
func AppendTurn(db *sql.DB, turn *TurnRow) error {
	err := db.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?
	`, turn.SessionID).Scan(&turn.Seq)
	if err != nil {
		return fmt.Errorf("failed to compute turn seq: %w", err)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err = db.Exec(`
		INSERT INTO turns (turn_id, session_id, seq, user_msg, agent_msg, agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, turn.TurnID, turn.SessionID, turn.Seq, turn.UserMsg, turn.AgentMsg, turn.AgentID.String(),
		turn.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// AppendTurnTx is the transactional form of AppendTurn, used by all-or-nothing
// turn commits.
func AppendTurnTx(tx *sql.Tx, turn *TurnRow) error {
	err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?
	`, turn.SessionID).Scan(&turn.Seq)
	if err != nil {
		return fmt.Errorf("failed to compute turn seq: %w", err)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO turns (turn_id, session_id, seq, user_msg, agent_msg, agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, turn.TurnID, turn.SessionID, turn.Seq, turn.UserMsg, turn.AgentMsg, turn.AgentID.String(),
		turn.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// GetRecentTurns returns the last n turns for a session in chronological order.
func GetRecentTurns(db *sql.DB, sessionID string, n int) ([]*TurnRow, error) {
	rows, err := db.Query(`
		SELECT turn_id, session_id, seq, user_msg, agent_msg, agent_id, created_at
		FROM (
			SELECT turn_id, session_id, seq, user_msg, agent_msg, agent_id, created_at
			FROM turns
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []*TurnRow
	for rows.Next() {
		var t TurnRow
		var agentID, createdAt string
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.Seq, &t.UserMsg, &t.AgentMsg, &agentID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		parsed, err := proto.ParseAgentID(agentID)
		if err != nil {
			return nil, fmt.Errorf("corrupt turn agent_id: %w", err)
		}
		t.AgentID = parsed
		if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt turn created_at: %w", err)
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

// CountTurns returns the number of turns recorded for a session.
func CountTurns(db *sql.DB, sessionID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}
