// Package courses resolves course records for context assembly. The Provider
// port keeps the rest of the system independent of where course data lives.
package courses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pedagogue/pkg/persistence"
)

// ErrCourseUnresolved is returned when a referenced course cannot be found.
var ErrCourseUnresolved = errors.New("course unresolved")

// Course is a resolved course record. Details carries any structured fields
// beyond the flattened summary columns.
type Course struct {
	ID          string         `json:"course_id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"course_name"`
	Description string         `json:"description,omitempty"`
	Level       string         `json:"course_level,omitempty"`
	Term        string         `json:"course_session,omitempty"`
	Instructor  string         `json:"course_instructor,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Provider resolves courses for a user.
type Provider interface {
	GetCourse(ctx context.Context, courseID string) (*Course, error)
	ListCourses(ctx context.Context, userID string) ([]*Course, error)
}

// SQLProvider serves courses from the sqlite store.
type SQLProvider struct {
	db *sql.DB
}

// NewSQLProvider creates a Provider over db.
func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{db: db}
}

func courseFromRow(row *persistence.CourseRow) (*Course, error) {
	course := &Course{
		ID:          row.CourseID,
		UserID:      row.UserID,
		Title:       row.Title,
		Description: row.Description,
		Level:       row.Level,
		Term:        row.Term,
		Instructor:  row.Instructor,
	}
	if row.DetailsJSON != "" && row.DetailsJSON != "{}" {
		if err := json.Unmarshal([]byte(row.DetailsJSON), &course.Details); err != nil {
			return nil, fmt.Errorf("corrupt course details for %s: %w", row.CourseID, err)
		}
	}
	return course, nil
}

// GetCourse returns one course. Returns ErrCourseUnresolved when absent.
func (p *SQLProvider) GetCourse(ctx context.Context, courseID string) (*Course, error) {
	row, err := persistence.GetCourse(p.db, courseID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCourseUnresolved, courseID)
	}
	if err != nil {
		return nil, err
	}
	return courseFromRow(row)
}

// ListCourses returns all courses owned by a user.
func (p *SQLProvider) ListCourses(ctx context.Context, userID string) ([]*Course, error) {
	rows, err := persistence.ListCoursesByUser(p.db, userID)
	if err != nil {
		return nil, err
	}
	result := make([]*Course, 0, len(rows))
	for _, row := range rows {
		course, err := courseFromRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, course)
	}
	return result, nil
}

// Save persists a course through the provider's store.
func (p *SQLProvider) Save(course *Course) error {
	details := "{}"
	if len(course.Details) > 0 {
		data, err := json.Marshal(course.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal course details: %w", err)
		}
		details = string(data)
	}
	return persistence.UpsertCourse(p.db, &persistence.CourseRow{
		CourseID:    course.ID,
		UserID:      course.UserID,
		Title:       course.Title,
		Description: course.Description,
		Level:       course.Level,
		Term:        course.Term,
		Instructor:  course.Instructor,
		DetailsJSON: details,
	})
}
