package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CourseRow is a persisted course record.
type CourseRow struct {
	CourseID    string
	UserID      string
	Title       string
	Description string
	Level       string
	Term        string
	Instructor  string
	DetailsJSON string
}

// UserProfileRow is a persisted user profile.
type UserProfileRow struct {
	UserID          string
	Name            string
	Email           string
	PreferencesJSON string
}

// UpsertCourse inserts or replaces a course record.
func UpsertCourse(db *sql.DB, row *CourseRow) error {
	_, err := db.Exec(`
		INSERT INTO courses (course_id, user_id, title, description, level, term, instructor, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			description = excluded.description,
			level = excluded.level,
			term = excluded.term,
			instructor = excluded.instructor,
			details_json = excluded.details_json
	`, row.CourseID, row.UserID, row.Title, row.Description, row.Level, row.Term, row.Instructor, row.DetailsJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert course: %w", err)
	}
	return nil
}

// GetCourse returns a course by ID. Returns ErrNotFound when absent.
func GetCourse(db *sql.DB, courseID string) (*CourseRow, error) {
	var row CourseRow
	err := db.QueryRow(`
		SELECT course_id, user_id, title, description, level, term, instructor, details_json
		FROM courses
		WHERE course_id = ?
	`, courseID).Scan(&row.CourseID, &row.UserID, &row.Title, &row.Description, &row.Level, &row.Term, &row.Instructor, &row.DetailsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &row, nil
}

// ListCoursesByUser returns all courses owned by a user, ordered by course ID.
func ListCoursesByUser(db *sql.DB, userID string) ([]*CourseRow, error) {
	rows, err := db.Query(`
		SELECT course_id, user_id, title, description, level, term, instructor, details_json
		FROM courses
		WHERE user_id = ?
		ORDER BY course_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []*CourseRow
	for rows.Next() {
		var r CourseRow
		if err := rows.Scan(&r.CourseID, &r.UserID, &r.Title, &r.Description, &r.Level, &r.Term, &r.Instructor, &r.DetailsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return courses, nil
}

// UpsertUserProfile inserts or replaces a user profile.
func UpsertUserProfile(db *sql.DB, row *UserProfileRow) error {
	_, err := db.Exec(`
		INSERT INTO user_profiles (user_id, name, email, preferences_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			preferences_json = excluded.preferences_json
	`, row.UserID, row.Name, row.Email, row.PreferencesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert user profile: %w", err)
	}
	return nil
}

// GetUserProfile returns a user profile. Returns ErrNotFound when absent.
func GetUserProfile(db *sql.DB, userID string) (*UserProfileRow, error) {
	var row UserProfileRow
	err := db.QueryRow(`
		SELECT user_id, name, email, preferences_json
		FROM user_profiles
		WHERE user_id = ?
	`, userID).Scan(&row.UserID, &row.Name, &row.Email, &row.PreferencesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return &row, nil
}
