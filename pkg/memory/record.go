// Package memory implements the append-only long-term memory index. Records
// are written once at session boundaries and retrieved by keyword relevance
// during context assembly.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record types stored in the index.
const (
	RecordTypeUserProfile    = "user_profile"
	RecordTypeCourseSnapshot = "course_snapshot"
	RecordTypeSessionSummary = "session_summary"
)

// ErrInvalidRecord is returned when a record fails validation.
var ErrInvalidRecord = errors.New("invalid memory record")

// Record is one immutable memory entry.
type Record struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func validRecordType(t string) bool {
	switch t {
	case RecordTypeUserProfile, RecordTypeCourseSnapshot, RecordTypeSessionSummary:
		return true
	}
	return false
}

// validate enforces the record contract. It runs for constructed records and
// again at the index boundary, since Record is a plain struct anyone can
// build.
func (r *Record) validate() error {
	if !validRecordType(r.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, r.Type)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRecord)
	}
	return nil
}

func newRecord(recordType, userID, content string, metadata map[string]string) (*Record, error) {
	record := &Record{
		ID:        uuid.NewString(),
		Type:      recordType,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := record.validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// NewUserProfileRecord builds a record capturing a teacher's profile and
// preferences.
func NewUserProfileRecord(userID, content string) (*Record, error) {
	return newRecord(RecordTypeUserProfile, userID, content, nil)
}

// NewCourseSnapshotRecord builds a record capturing one course's details at
// session close.
func NewCourseSnapshotRecord(userID, courseID, content string) (*Record, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("%w: course_id is required", ErrInvalidRecord)
	}
	return newRecord(RecordTypeCourseSnapshot, userID, content, map[string]string{"course_id": courseID})
}

// NewSessionSummaryRecord builds a record summarizing a completed session.
func NewSessionSummaryRecord(userID, sessionID, content string) (*Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRecord)
	}
	return newRecord(RecordTypeSessionSummary, userID, content, map[string]string{"session_id": sessionID})
}

func (r *Record) metadataJSON() (string, error) {
	if len(r.Metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(r.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record metadata: %w", err)
	}
	return string(data), nil
}
