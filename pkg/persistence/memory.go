package persistence

import (
	"database/sql"
	"fmt"
	"time"
)

// MemoryRow is an immutable stored memory record.
type MemoryRow struct {
	RecordID     string
	RecordType   string
	UserID       string
	Content      string
	MetadataJSON string
	CreatedAt    time.Time
}

// InsertMemoryRecord appends a memory record. Records are never updated or
// deleted after insertion.
func InsertMemoryRecord(db *sql.DB, row *MemoryRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO memory_records (record_id, record_type, user_id, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.RecordID, row.RecordType, row.UserID, row.Content, row.MetadataJSON,
		row.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert memory record: %w", err)
	}
	return nil
}

// ListMemoryRecordsByUser returns all of a user's records, newest first.
func ListMemoryRecordsByUser(db *sql.DB, userID string) ([]*MemoryRow, error) {
	rows, err := db.Query(`
		SELECT record_id, record_type, user_id, content, metadata_json, created_at
		FROM memory_records
		WHERE user_id = ?
		ORDER BY created_at DESC, record_id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory records: %w", err)
	}
	defer rows.Close()

	var records []*MemoryRow
	for rows.Next() {
		var r MemoryRow
		var createdAt string
		if err := rows.Scan(&r.RecordID, &r.RecordType, &r.UserID, &r.Content, &r.MetadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt memory created_at: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory records: %w", err)
	}
	return records, nil
}
