package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedagogue/pkg/proto"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	courseID := "cs101"
	row := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		CourseID:       &courseID,
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	require.NoError(t, CreateSession(db, row))

	got, err := GetSession(db, row.SessionID)
	require.NoError(t, err)
	assert.Equal(t, row.UserID, got.UserID)
	assert.Equal(t, proto.PhaseNeedsAnalysis, got.Phase)
	require.NotNil(t, got.CourseID)
	assert.Equal(t, courseID, *got.CourseID)
	assert.Nil(t, got.RevisionOrigin)

	origin := proto.PhaseStructureProposed
	require.NoError(t, UpdateSessionPhase(db, row.SessionID, proto.PhaseRevisionRequested, &origin))

	got, err = GetSession(db, row.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseRevisionRequested, got.Phase)
	require.NotNil(t, got.RevisionOrigin)
	assert.Equal(t, proto.PhaseStructureProposed, *got.RevisionOrigin)

	_, err = GetSession(db, "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, UpdateSessionPhase(db, "no-such-session", proto.PhaseDone, nil), ErrNotFound)
	assert.ErrorIs(t, TouchSession(db, "no-such-session"), ErrNotFound)
}

func TestFindActiveSession(t *testing.T) {
	db := openTestDB(t)

	courseID := "cs101"
	live := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		CourseID:       &courseID,
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	require.NoError(t, CreateSession(db, live))

	stale := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		CourseID:       &courseID,
		Phase:          proto.PhaseDraftReady,
		CreatedAt:      time.Now().UTC().Add(-48 * time.Hour),
		LastActivityAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, CreateSession(db, stale))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	got, err := FindActiveSession(db, "teacher-1", &courseID, cutoff)
	require.NoError(t, err)
	assert.Equal(t, live.SessionID, got.SessionID)

	otherCourse := "bio200"
	_, err = FindActiveSession(db, "teacher-1", &otherCourse, cutoff)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = FindActiveSession(db, "teacher-1", nil, cutoff)
	assert.ErrorIs(t, err, ErrNotFound)

	courseless := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	require.NoError(t, CreateSession(db, courseless))

	got, err = FindActiveSession(db, "teacher-1", nil, cutoff)
	require.NoError(t, err)
	assert.Equal(t, courseless.SessionID, got.SessionID)
}

func TestTurnAppendAndRecent(t *testing.T) {
	db := openTestDB(t)

	session := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	require.NoError(t, CreateSession(db, session))

	for i := 0; i < 5; i++ {
		turn := &TurnRow{
			TurnID:    uuid.NewString(),
			SessionID: session.SessionID,
			UserMsg:   "question",
			AgentMsg:  "answer",
			AgentID:   proto.AgentGeneric,
		}
		require.NoError(t, AppendTurn(db, turn))
		assert.Equal(t, i+1, turn.Seq)
	}

	count, err := CountTurns(db, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	recent, err := GetRecentTurns(db, session.SessionID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Seq)
	assert.Equal(t, 5, recent[1].Seq)

	recent, err = GetRecentTurns(db, "no-such-session", 2)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestScopedStateUpsertAndSnapshot(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, UpsertScopedState(db, "session", "s1", "phase_notes", `"draft"`))
	require.NoError(t, UpsertScopedState(db, "session", "s1", "phase_notes", `"final"`))
	require.NoError(t, UpsertScopedState(db, "session", "s1", "alpha", `1`))
	require.NoError(t, UpsertScopedState(db, "user", "u1", "name", `"Sam"`))

	got, err := GetScopedState(db, "session", "s1", "phase_notes")
	require.NoError(t, err)
	assert.Equal(t, `"final"`, got)

	_, err = GetScopedState(db, "session", "s1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := SnapshotScopedState(db, "session", "s1")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Key)
	assert.Equal(t, "phase_notes", snap[1].Key)
}

func TestTransactionalCommitRollsBackTogether(t *testing.T) {
	db := openTestDB(t)

	session := &SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         "teacher-1",
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	require.NoError(t, CreateSession(db, session))

	tx, err := db.Begin()
	require.NoError(t, err)

	turn := &TurnRow{
		TurnID:    uuid.NewString(),
		SessionID: session.SessionID,
		UserMsg:   "hi",
		AgentMsg:  "hello",
		AgentID:   proto.AgentGeneric,
	}
	require.NoError(t, AppendTurnTx(tx, turn))
	require.NoError(t, UpsertScopedStateTx(tx, "session", session.SessionID, "k", `"v"`))
	require.NoError(t, UpdateSessionPhaseTx(tx, session.SessionID, proto.PhaseObjectivesCaptured, nil))
	require.NoError(t, tx.Rollback())

	count, err := CountTurns(db, session.SessionID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = GetScopedState(db, "session", session.SessionID, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := GetSession(db, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseNeedsAnalysis, got.Phase)
}

func TestMemoryRecordsAppendOnly(t *testing.T) {
	db := openTestDB(t)

	older := &MemoryRow{
		RecordID:     uuid.NewString(),
		RecordType:   "course_snapshot",
		UserID:       "teacher-1",
		Content:      "CS101 Introduction to Computer Science",
		MetadataJSON: `{"course_id":"cs101"}`,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, InsertMemoryRecord(db, older))

	newer := &MemoryRow{
		RecordID:   uuid.NewString(),
		RecordType: "user_profile",
		UserID:     "teacher-1",
		Content:    "Prefers project-based assessment",
	}
	require.NoError(t, InsertMemoryRecord(db, newer))

	other := &MemoryRow{
		RecordID:   uuid.NewString(),
		RecordType: "user_profile",
		UserID:     "teacher-2",
		Content:    "Different user",
	}
	require.NoError(t, InsertMemoryRecord(db, other))

	records, err := ListMemoryRecordsByUser(db, "teacher-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.RecordID, records[0].RecordID)
	assert.Equal(t, older.RecordID, records[1].RecordID)
}

func TestCoursesAndProfiles(t *testing.T) {
	db := openTestDB(t)

	course := &CourseRow{
		CourseID:    "cs101",
		UserID:      "teacher-1",
		Title:       "Introduction to Computer Science",
		Level:       "Undergraduate",
		Term:        "Fall 2026",
		Instructor:  "Dr. Reyes",
		DetailsJSON: `{"weeks":12}`,
	}
	require.NoError(t, UpsertCourse(db, course))

	course.Title = "Intro to CS"
	require.NoError(t, UpsertCourse(db, course))

	got, err := GetCourse(db, "cs101")
	require.NoError(t, err)
	assert.Equal(t, "Intro to CS", got.Title)

	_, err = GetCourse(db, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, UpsertCourse(db, &CourseRow{CourseID: "bio200", UserID: "teacher-1", Title: "Biology"}))
	courses, err := ListCoursesByUser(db, "teacher-1")
	require.NoError(t, err)
	assert.Len(t, courses, 2)

	profile := &UserProfileRow{
		UserID:          "teacher-1",
		Name:            "Sam",
		Email:           "sam@example.edu",
		PreferencesJSON: `{"tone":"formal"}`,
	}
	require.NoError(t, UpsertUserProfile(db, profile))

	gotProfile, err := GetUserProfile(db, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", gotProfile.Name)

	_, err = GetUserProfile(db, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
