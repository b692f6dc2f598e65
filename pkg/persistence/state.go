package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// ScopedValue is one scoped key/value pair as stored.
type ScopedValue struct {
	Scope     string
	OwnerID   string
	Key       string
	ValueJSON string
}

// UpsertScopedState writes a scoped key, replacing any previous value.
func UpsertScopedState(db *sql.DB, scope, ownerID, key, valueJSON string) error {
	_, err := db.Exec(`
		INSERT INTO scoped_state (scope, owner_id, key, value_json, updated_at)
		VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(scope, owner_id, key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, scope, ownerID, key, valueJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert scoped state: %w", err)
	}
	return nil
}

// UpsertScopedStateTx is the transactional form of UpsertScopedState, used by
// all-or-nothing turn commits.
func UpsertScopedStateTx(tx *sql.Tx, scope, ownerID, key, valueJSON string) error {
	_, err := tx.Exec(`
		INSERT INTO scoped_state (scope, owner_id, key, value_json, updated_at)
		VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(scope, owner_id, key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, scope, ownerID, key, valueJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert scoped state: %w", err)
	}
	return nil
}

// GetScopedState returns the JSON value for one scoped key.
// Returns ErrNotFound when the key has never been set.
func GetScopedState(db *sql.DB, scope, ownerID, key string) (string, error) {
	var valueJSON string
	err := db.QueryRow(`
		SELECT value_json FROM scoped_state
		WHERE scope = ? AND owner_id = ? AND key = ?
	`, scope, ownerID, key).Scan(&valueJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get scoped state: %w", err)
	}
	return valueJSON, nil
}

// SnapshotScopedState returns every key under (scope, owner) ordered by key.
func SnapshotScopedState(db *sql.DB, scope, ownerID string) ([]ScopedValue, error) {
	rows, err := db.Query(`
		SELECT scope, owner_id, key, value_json FROM scoped_state
		WHERE scope = ? AND owner_id = ?
		ORDER BY key ASC
	`, scope, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot scoped state: %w", err)
	}
	defer rows.Close()

	var values []ScopedValue
	for rows.Next() {
		var v ScopedValue
		if err := rows.Scan(&v.Scope, &v.OwnerID, &v.Key, &v.ValueJSON); err != nil {
			return nil, fmt.Errorf("failed to scan scoped state: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scoped state: %w", err)
	}
	return values, nil
}
