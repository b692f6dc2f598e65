package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedagogue/pkg/agents"
	"pedagogue/pkg/config"
	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/courses"
	"pedagogue/pkg/guardrail"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/memory"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
	"pedagogue/pkg/state"
	"pedagogue/pkg/utils"
)

const (
	objectivesJSON = `{
		"reply": "Two objectives to start.",
		"objectives": [
			{"text": "Explain recursion", "level": "Understanding"},
			{"text": "Design a recursive program", "level": "Creation"}
		]
	}`
	modulesJSON = `{
		"reply": "A two week outline.",
		"modules": [
			{"week": 1, "title": "Foundations", "objective": "Explain recursion"},
			{"week": 2, "title": "Practice", "objective": "Design a recursive program"}
		]
	}`
	itemsJSON = `{
		"reply": "A short quiz.",
		"items": [
			{"question": "What stops recursion?", "type": "open_ended", "objective": "Explain recursion", "level": "Understanding", "rubric": "Names the base case."}
		]
	}`
	badObjectivesJSON = `{
		"reply": "Here are objectives.",
		"objectives": [
			{"text": "Explain recursion", "level": "Understanding"},
			{"text": "Vague aspiration", "level": "Somewhere"}
		]
	}`
	strayItemsJSON = `{
		"reply": "A quiz draft.",
		"items": [
			{"question": "Define polymorphism.", "type": "open_ended", "objective": "Master polymorphism", "level": "Understanding", "rubric": "Gives a definition."}
		]
	}`
)

type harness struct {
	orch     *Orchestrator
	mock     *llm.MockClient
	provider *courses.SQLProvider
	store    *state.Store
	memIndex *memory.Index
	courseID string
}

func newHarness(t *testing.T, responses ...string) *harness {
	t.Helper()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "orch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderMock
	cfg.Session.LockTimeout = 200 * time.Millisecond

	store := state.NewStore(db, nil)
	memIndex := memory.NewIndex(db)
	provider := courses.NewSQLProvider(db)

	courseID := "cs101"
	require.NoError(t, provider.Save(&courses.Course{
		ID:     courseID,
		UserID: "teacher-1",
		Title:  "Introduction to Computer Science",
		Level:  "Undergraduate",
		Term:   "Fall 2026",
	}))

	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	mock := llm.NewMockClient(responses...)
	assembler := contextmgr.NewAssembler(db, store, memIndex, provider, counter, cfg.Context)
	registry := agents.NewRegistry(mock, nil, cfg.LLM.MaxTokens, false)

	return &harness{
		orch:     New(db, cfg, store, assembler, registry, guardrail.NewValidator(), memIndex, provider, nil),
		mock:     mock,
		provider: provider,
		store:    store,
		memIndex: memIndex,
		courseID: courseID,
	}
}

func (h *harness) initSession(t *testing.T) *persistence.SessionRow {
	t.Helper()
	session, created, err := h.orch.Initialize(context.Background(), "teacher-1", &h.courseID, nil)
	require.NoError(t, err)
	require.True(t, created)
	return session
}

func TestInitializeIsIdempotent(t *testing.T) {
	h := newHarness(t)

	first, created, err := h.orch.Initialize(context.Background(), "teacher-1", &h.courseID, nil)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := h.orch.Initialize(context.Background(), "teacher-1", &h.courseID, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.SessionID, second.SessionID)

	otherCourse := "bio200"
	require.NoError(t, h.provider.Save(&courses.Course{ID: otherCourse, UserID: "teacher-1", Title: "Biology"}))
	third, created, err := h.orch.Initialize(context.Background(), "teacher-1", &otherCourse, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.SessionID, third.SessionID)
}

func TestInitializeRejectsUnknownCourse(t *testing.T) {
	h := newHarness(t)
	missing := "nope"
	_, _, err := h.orch.Initialize(context.Background(), "teacher-1", &missing, nil)
	assert.ErrorIs(t, err, courses.ErrCourseUnresolved)
}

func TestTurnCommitsObjectives(t *testing.T) {
	h := newHarness(t, objectivesJSON)
	session := h.initSession(t)

	result, err := h.orch.ProcessTurn(context.Background(), session.SessionID, "draft learning objectives")
	require.NoError(t, err)

	assert.Equal(t, proto.AgentObjectives, result.AgentID)
	assert.Equal(t, proto.PhaseObjectivesCaptured, result.Phase)
	assert.Equal(t, "Two objectives to start.", result.Reply)

	// The messages follow the proposal/approval protocol.
	require.Len(t, result.Messages, 2)
	assert.Equal(t, proto.MsgTypePROPOSAL, result.Messages[0].Type)
	assert.Equal(t, proto.MsgTypeAPPROVAL, result.Messages[1].Type)

	// UI hints carry the structured output.
	require.NotNil(t, result.UI.TaskParameters)
	assert.Equal(t, "objectives", result.UI.TaskParameters.OutputType)
	assert.Equal(t, []string{"Explain recursion", "Design a recursive program"}, result.UI.TaskParameters.LearningObjectives)
	assert.Equal(t, []string{"Understanding", "Creation"}, result.UI.TaskParameters.BloomsLevel)

	// State and turn history committed together.
	stored, err := h.store.Get(state.ScopeSession, session.SessionID, "learning_objectives")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	view, err := h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Turns)
	assert.Equal(t, proto.PhaseObjectivesCaptured, view.Session.Phase)
}

func TestAgentFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	session := h.initSession(t)
	h.mock.Err = llm.ErrAgentUnavailable

	_, err := h.orch.ProcessTurn(context.Background(), session.SessionID, "draft objectives")
	assert.ErrorIs(t, err, llm.ErrAgentUnavailable)

	view, err := h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseNeedsAnalysis, view.Session.Phase)
	assert.Zero(t, view.Turns)
	assert.Empty(t, view.State)
}

func TestGuardrailFailureRetriesWithFeedback(t *testing.T) {
	h := newHarness(t, badObjectivesJSON, objectivesJSON)
	session := h.initSession(t)

	result, err := h.orch.ProcessTurn(context.Background(), session.SessionID, "draft learning objectives")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseObjectivesCaptured, result.Phase)
	assert.Equal(t, 2, h.mock.CallCount())

	// The retry prompt carried the validation feedback.
	last := h.mock.LastRequest()
	require.NotNil(t, last)
	var userPrompt string
	for _, msg := range last.Messages {
		if msg.Role == llm.RoleUser {
			userPrompt = msg.Content
		}
	}
	assert.Contains(t, userPrompt, "VALIDATION FEEDBACK")

	// Proposal, revision request, approval.
	require.Len(t, result.Messages, 3)
	assert.Equal(t, proto.MsgTypeREVISION, result.Messages[1].Type)
	assert.NotEmpty(t, result.Messages[1].Feedback)
}

func TestGuardrailRejectionKeepsTurnAndPhase(t *testing.T) {
	h := newHarness(t, badObjectivesJSON, badObjectivesJSON, objectivesJSON)
	session := h.initSession(t)
	ctx := context.Background()

	// Both attempts fail validation: the turn is recorded, the phase holds,
	// and the rejection reason lands in session state.
	result, err := h.orch.ProcessTurn(ctx, session.SessionID, "draft learning objectives")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseNeedsAnalysis, result.Phase)
	assert.NotEmpty(t, result.GuardrailFeedback)
	assert.Equal(t, string(proto.AgentObjectives), result.UI.CurrentAgentID)
	assert.Equal(t, 2, h.mock.CallCount())

	view, err := h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseNeedsAnalysis, view.Session.Phase)
	assert.Equal(t, 1, view.Turns)
	assert.Equal(t, result.GuardrailFeedback, view.State[contextmgr.GuardrailFeedbackKey])

	// The next turn sees the recorded reason and clears it on success.
	result, err = h.orch.ProcessTurn(ctx, session.SessionID, "try the objectives again")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseObjectivesCaptured, result.Phase)
	assert.Empty(t, result.GuardrailFeedback)

	last := h.mock.LastRequest()
	require.NotNil(t, last)
	var userPrompt string
	for _, msg := range last.Messages {
		if msg.Role == llm.RoleUser {
			userPrompt = msg.Content
		}
	}
	assert.Contains(t, userPrompt, "VALIDATION FEEDBACK")

	view, err = h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	cleared, _ := view.State[contextmgr.GuardrailFeedbackKey].(string)
	assert.Empty(t, cleared)
}

func TestAssessmentCheckedAgainstSessionObjectives(t *testing.T) {
	h := newHarness(t, objectivesJSON, modulesJSON, strayItemsJSON, strayItemsJSON)
	session := h.initSession(t)
	ctx := context.Background()

	_, err := h.orch.ProcessTurn(ctx, session.SessionID, "draft learning objectives")
	require.NoError(t, err)
	_, err = h.orch.ProcessTurn(ctx, session.SessionID, "now structure the course")
	require.NoError(t, err)

	// The quiz names an objective the session never captured; both attempts
	// fail validation, so the turn commits rejected and the phase holds.
	result, err := h.orch.ProcessTurn(ctx, session.SessionID, "draft the quiz")
	require.NoError(t, err)
	assert.Equal(t, proto.AgentAssessment, result.AgentID)
	assert.Equal(t, proto.PhaseStructureProposed, result.Phase)
	assert.NotEmpty(t, result.GuardrailFeedback)

	view, err := h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseStructureProposed, view.Session.Phase)
	assert.Equal(t, 3, view.Turns)
}

func TestInitializeStoresUserProfile(t *testing.T) {
	h := newHarness(t)

	profile := &UserProfile{
		Name:        "Dana Reyes",
		Email:       "dana@example.edu",
		Preferences: map[string]any{"tone": "informal"},
	}
	_, created, err := h.orch.Initialize(context.Background(), "teacher-1", &h.courseID, profile)
	require.NoError(t, err)
	assert.True(t, created)

	row, err := persistence.GetUserProfile(h.orch.db, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes", row.Name)
	assert.Equal(t, "dana@example.edu", row.Email)
	assert.Contains(t, row.PreferencesJSON, "informal")

	// Saving a profile also leaves a long-term memory record.
	records, _, err := h.memIndex.Search("teacher-1", "Dana Reyes", 10, "")
	require.NoError(t, err)
	found := false
	for _, r := range records {
		if r.Record.Type == memory.RecordTypeUserProfile {
			found = true
			assert.Contains(t, r.Record.Content, "Dana Reyes")
		}
	}
	assert.True(t, found)
}

func TestTurnClearsEphemeralState(t *testing.T) {
	h := newHarness(t, objectivesJSON)
	session := h.initSession(t)

	require.NoError(t, h.store.Set(state.ScopeEphemeral, session.SessionID, "scratch", "draft notes", "objectives"))

	_, err := h.orch.ProcessTurn(context.Background(), session.SessionID, "draft learning objectives")
	require.NoError(t, err)

	_, err = h.store.Get(state.ScopeEphemeral, session.SessionID, "scratch")
	assert.ErrorIs(t, err, state.ErrKeyNotFound)
}

func TestWorkflowAdvancesThroughPhases(t *testing.T) {
	h := newHarness(t, objectivesJSON, modulesJSON, itemsJSON)
	session := h.initSession(t)
	ctx := context.Background()

	result, err := h.orch.ProcessTurn(ctx, session.SessionID, "draft learning objectives")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseObjectivesCaptured, result.Phase)

	result, err = h.orch.ProcessTurn(ctx, session.SessionID, "now structure the course")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseStructureProposed, result.Phase)
	assert.Equal(t, proto.AgentSyllabus, result.AgentID)

	result, err = h.orch.ProcessTurn(ctx, session.SessionID, "draft the quiz")
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseDraftReady, result.Phase)
	assert.Equal(t, proto.AgentAssessment, result.AgentID)
	assert.NotEmpty(t, result.UI.GeneratedExam)
}

func TestRevisionReturnsToOrigin(t *testing.T) {
	h := newHarness(t, objectivesJSON, objectivesJSON)
	session := h.initSession(t)
	ctx := context.Background()

	_, err := h.orch.ProcessTurn(ctx, session.SessionID, "draft learning objectives")
	require.NoError(t, err)

	revised, err := h.orch.RequestRevision(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseRevisionRequested, revised.Phase)
	require.NotNil(t, revised.RevisionOrigin)
	assert.Equal(t, proto.PhaseObjectivesCaptured, *revised.RevisionOrigin)

	// The rework turn routes to the originating agent and returns to origin.
	result, err := h.orch.ProcessTurn(ctx, session.SessionID, "tighten objective two")
	require.NoError(t, err)
	assert.Equal(t, proto.AgentObjectives, result.AgentID)
	assert.Equal(t, proto.PhaseObjectivesCaptured, result.Phase)

	view, err := h.orch.DescribeSession(session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, view.Session.RevisionOrigin)
}

func TestApproveDraftCompletesAndWritesMemories(t *testing.T) {
	h := newHarness(t, objectivesJSON, modulesJSON, itemsJSON)
	session := h.initSession(t)
	ctx := context.Background()

	for _, msg := range []string{"objectives", "structure", "quiz"} {
		_, err := h.orch.ProcessTurn(ctx, session.SessionID, msg)
		require.NoError(t, err)
	}

	done, err := h.orch.ApproveDraft(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseDone, done.Phase)

	_, err = h.orch.ProcessTurn(ctx, session.SessionID, "one more thing")
	assert.ErrorIs(t, err, ErrSessionComplete)

	// Boundary memories: session summary plus course snapshot.
	records, _, err := h.memIndex.Search("teacher-1", "course design", 10, "")
	require.NoError(t, err)
	types := map[string]bool{}
	for _, r := range records {
		types[r.Record.Type] = true
	}
	assert.True(t, types[memory.RecordTypeSessionSummary])
	assert.True(t, types[memory.RecordTypeCourseSnapshot])
}

func TestApproveDraftRequiresDraftReady(t *testing.T) {
	h := newHarness(t)
	session := h.initSession(t)

	_, err := h.orch.ApproveDraft(context.Background(), session.SessionID)
	assert.ErrorIs(t, err, ErrInvalidPhaseTransition)
}

func TestSessionLockTimeout(t *testing.T) {
	h := newHarness(t, objectivesJSON)
	session := h.initSession(t)

	require.NoError(t, h.orch.locks.acquire(session.SessionID, time.Second))
	defer h.orch.locks.release(session.SessionID)

	_, err := h.orch.ProcessTurn(context.Background(), session.SessionID, "draft objectives")
	assert.ErrorIs(t, err, ErrSessionLockTimeout)
}

func TestTurnOnMissingSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.ProcessTurn(context.Background(), "no-such-session", "hello")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
