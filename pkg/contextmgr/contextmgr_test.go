package contextmgr

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedagogue/pkg/config"
	"pedagogue/pkg/courses"
	"pedagogue/pkg/memory"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
	"pedagogue/pkg/state"
	"pedagogue/pkg/utils"
)

type fixture struct {
	db        *sql.DB
	assembler *Assembler
	provider  *courses.SQLProvider
	store     *state.Store
	memIndex  *memory.Index
	sessionID string
	courseID  string
}

func newFixture(t *testing.T, cfg config.ContextConfig) *fixture {
	t.Helper()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "ctx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := state.NewStore(db, nil)
	memIndex := memory.NewIndex(db)
	provider := courses.NewSQLProvider(db)

	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	courseID := "cs101"
	require.NoError(t, provider.Save(&courses.Course{
		ID:         courseID,
		UserID:     "teacher-1",
		Title:      "Introduction to Computer Science",
		Level:      "Undergraduate",
		Term:       "Fall 2026",
		Instructor: "Dr. Reyes",
		Details:    map[string]any{"weeks": float64(12)},
	}))

	sessionID := uuid.NewString()
	require.NoError(t, persistence.CreateSession(db, &persistence.SessionRow{
		SessionID:      sessionID,
		UserID:         "teacher-1",
		CourseID:       &courseID,
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}))

	return &fixture{
		db:        db,
		assembler: NewAssembler(db, store, memIndex, provider, counter, cfg),
		provider:  provider,
		store:     store,
		memIndex:  memIndex,
		sessionID: sessionID,
		courseID:  courseID,
	}
}

func defaultCtxConfig() config.ContextConfig {
	return config.ContextConfig{RecentTurns: 2, MemoryResults: 5, MaxPayloadTokens: 8000}
}

func TestAssembleFlattensCourseContext(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "help me plan objectives", "")
	require.NoError(t, err)

	assert.Contains(t, payload.CourseContext, "Course_ID: cs101")
	assert.Contains(t, payload.CourseContext, "Course_Name: Introduction to Computer Science")
	assert.Contains(t, payload.CourseContext, "Course_Level: Undergraduate")
	assert.Contains(t, payload.CourseContext, "Course_Session: Fall 2026")
	assert.Contains(t, payload.CourseContext, "Course_Instructor: Dr. Reyes")
	assert.Contains(t, payload.CourseContext, "DETAILED COURSE INFORMATION (JSON)")
	assert.Contains(t, payload.Prompt, "Current User Query:\nhelp me plan objectives")
	assert.Positive(t, payload.TokenCount)
}

func TestAssembleIncludesUserProfile(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	require.NoError(t, persistence.UpsertUserProfile(f.db, &persistence.UserProfileRow{
		UserID:          "teacher-1",
		Name:            "Dana Reyes",
		Email:           "dana@example.edu",
		PreferencesJSON: `{"tone":"informal"}`,
	}))

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "plan objectives", "")
	require.NoError(t, err)

	assert.Contains(t, payload.UserProfile, "Name: Dana Reyes")
	assert.Contains(t, payload.UserProfile, "Email: dana@example.edu")
	assert.Contains(t, payload.UserProfile, `"tone":"informal"`)
	assert.Contains(t, payload.Prompt, "USER PROFILE")

	// Sessions for users without a stored profile omit the section.
	bare := newFixture(t, defaultCtxConfig())
	payload, err = bare.assembler.Assemble(context.Background(), bare.sessionID, "plan objectives", "")
	require.NoError(t, err)
	assert.Empty(t, payload.UserProfile)
	assert.NotContains(t, payload.Prompt, "USER PROFILE")
}

func TestAssembleCourseUnknown(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "ctx2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessionID := uuid.NewString()
	require.NoError(t, persistence.CreateSession(db, &persistence.SessionRow{
		SessionID:      sessionID,
		UserID:         "teacher-1",
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}))

	assembler := NewAssembler(db, state.NewStore(db, nil), memory.NewIndex(db), courses.NewSQLProvider(db), mustCounter(t), defaultCtxConfig())

	payload, err := assembler.Assemble(context.Background(), sessionID, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, CourseUnknownMarker, payload.CourseContext)
	assert.Contains(t, payload.Prompt, "course unknown")
}

func mustCounter(t *testing.T) *utils.TokenCounter {
	t.Helper()
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	return counter
}

func TestAssembleIncludesRecentTurnSection(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	db := f.assembler.db
	require.NoError(t, persistence.AppendTurn(db, &persistence.TurnRow{
		TurnID:    uuid.NewString(),
		SessionID: f.sessionID,
		UserMsg:   "what should week one cover",
		AgentMsg:  "week one should introduce variables",
		AgentID:   proto.AgentSyllabus,
	}))

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "and week two?", "")
	require.NoError(t, err)

	assert.Contains(t, payload.Prompt, "Most Recent User Query:\nwhat should week one cover")
	assert.Contains(t, payload.Prompt, "Agent's Last Response:\nweek one should introduce variables")
}

func TestAssembleInjectsGuardrailFeedback(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "draft objectives", "objective 2 does not cite a taxonomy level")
	require.NoError(t, err)
	assert.Contains(t, payload.Prompt, "VALIDATION FEEDBACK")
	assert.Contains(t, payload.Prompt, "objective 2 does not cite a taxonomy level")

	payload, err = f.assembler.Assemble(context.Background(), f.sessionID, "draft objectives", "")
	require.NoError(t, err)
	assert.NotContains(t, payload.Prompt, "VALIDATION FEEDBACK")
}

func TestAssembleUsesStoredGuardrailFeedback(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	require.NoError(t, f.store.Set(state.ScopeSession, f.sessionID, GuardrailFeedbackKey, "missing taxonomy levels", state.ActorSystem))

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "draft objectives", "")
	require.NoError(t, err)
	assert.Contains(t, payload.Prompt, "VALIDATION FEEDBACK")
	assert.Contains(t, payload.Prompt, "missing taxonomy levels")
	// The reason is surfaced once, not repeated inside the state section.
	assert.NotContains(t, payload.Prompt, GuardrailFeedbackKey)

	// An explicit in-turn message wins over the stored reason.
	payload, err = f.assembler.Assemble(context.Background(), f.sessionID, "draft objectives", "fresher reason")
	require.NoError(t, err)
	assert.Contains(t, payload.Prompt, "fresher reason")
	assert.NotContains(t, payload.Prompt, "missing taxonomy levels")
}

func TestAssembleIncludesRelevantMemory(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	record, err := memory.NewUserProfileRecord("teacher-1", "Prefers rubric based grading for assessments")
	require.NoError(t, err)
	require.NoError(t, f.memIndex.Add(record))

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "how should I grade the assessments", "")
	require.NoError(t, err)
	require.Len(t, payload.MemorySnippets, 1)
	assert.Contains(t, payload.Prompt, "Prefers rubric based grading")
}

func TestAssembleDoesNotMutateState(t *testing.T) {
	f := newFixture(t, defaultCtxConfig())

	require.NoError(t, f.store.Set(state.ScopeSession, f.sessionID, "objectives", []string{"one"}, "objectives"))

	before, err := f.store.Snapshot(state.ScopeSession, f.sessionID)
	require.NoError(t, err)

	_, err = f.assembler.Assemble(context.Background(), f.sessionID, "anything", "")
	require.NoError(t, err)

	after, err := f.store.Snapshot(state.ScopeSession, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAssembleEnforcesTokenBudget(t *testing.T) {
	cfg := defaultCtxConfig()
	cfg.MaxPayloadTokens = 120
	f := newFixture(t, cfg)

	for i := 0; i < 5; i++ {
		record, err := memory.NewUserProfileRecord("teacher-1", strings.Repeat("grading rubric preference detail ", 20))
		require.NoError(t, err)
		require.NoError(t, f.memIndex.Add(record))
	}

	payload, err := f.assembler.Assemble(context.Background(), f.sessionID, "grading rubric", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, payload.TokenCount, 140)
}
