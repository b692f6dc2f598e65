// Package orchestrator drives the session lifecycle and the turn pipeline:
// assemble context, route to an agent, invoke it, validate the artifact, and
// commit the turn atomically.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pedagogue/pkg/agents"
	"pedagogue/pkg/config"
	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/courses"
	"pedagogue/pkg/guardrail"
	"pedagogue/pkg/logx"
	"pedagogue/pkg/memory"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
	"pedagogue/pkg/state"
)

// ErrSessionComplete is returned when a turn arrives for a DONE session.
var ErrSessionComplete = errors.New("session complete")

// ErrInvalidPhaseTransition reports a session update that the workflow's
// transition table does not allow from the session's current phase.
var ErrInvalidPhaseTransition = errors.New("invalid phase transition")

// Orchestrator owns sessions and runs turns.
type Orchestrator struct {
	db        *sql.DB
	cfg       config.Config
	store     *state.Store
	assembler *contextmgr.Assembler
	registry  *agents.Registry
	validator *guardrail.Validator
	memIndex  *memory.Index
	provider  courses.Provider
	recorder  *metrics.Recorder
	locks     *sessionLocks
	logger    *logx.Logger
}

// New wires an orchestrator over the shared components.
func New(db *sql.DB, cfg config.Config, store *state.Store, assembler *contextmgr.Assembler,
	registry *agents.Registry, validator *guardrail.Validator, memIndex *memory.Index,
	provider courses.Provider, recorder *metrics.Recorder) *Orchestrator {
	return &Orchestrator{
		db:        db,
		cfg:       cfg,
		store:     store,
		assembler: assembler,
		registry:  registry,
		validator: validator,
		memIndex:  memIndex,
		provider:  provider,
		recorder:  recorder,
		locks:     newSessionLocks(),
		logger:    logx.NewLogger("orchestrator"),
	}
}

// UserProfile is the optional profile supplied at session initialization.
type UserProfile struct {
	Name        string         `json:"name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// Initialize returns the live session for (userID, courseID), creating one
// when none exists. Repeated calls with the same pair return the same session
// until it goes stale or completes. A non-nil profile is persisted and
// recorded in long-term memory before the session is resolved. The boolean
// reports whether a session was created.
func (o *Orchestrator) Initialize(ctx context.Context, userID string, courseID *string, profile *UserProfile) (*persistence.SessionRow, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user_id is required")
	}

	if profile != nil {
		if err := o.saveUserProfile(userID, profile); err != nil {
			return nil, false, err
		}
	}

	staleBefore := time.Now().UTC().Add(-o.cfg.Session.StaleAfter)
	existing, err := persistence.FindActiveSession(o.db, userID, courseID, staleBefore)
	if err == nil && !existing.Phase.IsTerminal() {
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, false, err
	}

	if courseID != nil {
		if _, err := o.provider.GetCourse(ctx, *courseID); err != nil {
			return nil, false, err
		}
	}

	session := &persistence.SessionRow{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		CourseID:       courseID,
		Phase:          proto.PhaseNeedsAnalysis,
		CreatedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}
	if err := persistence.CreateSession(o.db, session); err != nil {
		return nil, false, err
	}

	o.recorder.ObserveSessionInitialized()
	o.logger.Info("initialized session %s for user %s", session.SessionID, userID)
	return session, true, nil
}

// saveUserProfile upserts the profile row and appends a profile memory
// record. The memory write is best effort; the profile row is the source of
// truth.
func (o *Orchestrator) saveUserProfile(userID string, profile *UserProfile) error {
	preferences := "{}"
	if len(profile.Preferences) > 0 {
		data, err := json.Marshal(profile.Preferences)
		if err != nil {
			return fmt.Errorf("failed to marshal profile preferences: %w", err)
		}
		preferences = string(data)
	}
	if err := persistence.UpsertUserProfile(o.db, &persistence.UserProfileRow{
		UserID:          userID,
		Name:            profile.Name,
		Email:           profile.Email,
		PreferencesJSON: preferences,
	}); err != nil {
		return err
	}

	content := fmt.Sprintf("Profile for %s: name %s, email %s, preferences %s.",
		userID, profile.Name, profile.Email, preferences)
	if record, err := memory.NewUserProfileRecord(userID, content); err == nil {
		if err := o.memIndex.Add(record); err != nil {
			o.logger.Warn("failed to write user profile record: %v", err)
		}
	}
	return nil
}

// GetSession returns the current session row.
func (o *Orchestrator) GetSession(sessionID string) (*persistence.SessionRow, error) {
	return persistence.GetSession(o.db, sessionID)
}

// SessionView is the session plus its accumulated state, for read endpoints.
type SessionView struct {
	Session *persistence.SessionRow
	State   map[string]any
	Turns   int
}

// DescribeSession returns the session with its state snapshot and turn count.
func (o *Orchestrator) DescribeSession(sessionID string) (*SessionView, error) {
	session, err := persistence.GetSession(o.db, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := o.store.Snapshot(state.ScopeSession, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := persistence.CountTurns(o.db, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, State: snapshot, Turns: turns}, nil
}

// RequestRevision moves the session into REVISION_REQUESTED, recording the
// current phase as the revision origin so the workflow can only return there.
func (o *Orchestrator) RequestRevision(sessionID string) (*persistence.SessionRow, error) {
	if err := o.locks.acquire(sessionID, o.cfg.Session.LockTimeout); err != nil {
		return nil, err
	}
	defer o.locks.release(sessionID)

	session, err := persistence.GetSession(o.db, sessionID)
	if err != nil {
		return nil, err
	}
	if !proto.IsValidTransition(session.Phase, proto.PhaseRevisionRequested, "") {
		return nil, fmt.Errorf("%w: cannot request revision from phase %s", ErrInvalidPhaseTransition, session.Phase)
	}

	origin := session.Phase
	if err := persistence.UpdateSessionPhase(o.db, sessionID, proto.PhaseRevisionRequested, &origin); err != nil {
		return nil, err
	}
	return persistence.GetSession(o.db, sessionID)
}

// ApproveDraft completes a DRAFT_READY session and writes the boundary memory
// records: a session summary and, when a course is attached, a course
// snapshot.
func (o *Orchestrator) ApproveDraft(ctx context.Context, sessionID string) (*persistence.SessionRow, error) {
	if err := o.locks.acquire(sessionID, o.cfg.Session.LockTimeout); err != nil {
		return nil, err
	}
	defer o.locks.release(sessionID)

	session, err := persistence.GetSession(o.db, sessionID)
	if err != nil {
		return nil, err
	}
	if !proto.IsValidTransition(session.Phase, proto.PhaseDone, "") {
		return nil, fmt.Errorf("%w: cannot approve draft from phase %s", ErrInvalidPhaseTransition, session.Phase)
	}

	if err := persistence.UpdateSessionPhase(o.db, sessionID, proto.PhaseDone, nil); err != nil {
		return nil, err
	}

	o.writeBoundaryMemories(ctx, session)
	return persistence.GetSession(o.db, sessionID)
}

// writeBoundaryMemories records what the session produced. Failures are
// logged, not propagated; the approval already committed.
func (o *Orchestrator) writeBoundaryMemories(ctx context.Context, session *persistence.SessionRow) {
	snapshot, err := o.store.Snapshot(state.ScopeSession, session.SessionID)
	if err != nil {
		o.logger.Warn("boundary memory snapshot failed for %s: %v", session.SessionID, err)
		return
	}

	summary := fmt.Sprintf("Completed course design session with %d state entries.", len(snapshot))
	if objectives, ok := snapshot["learning_objectives"]; ok {
		summary = fmt.Sprintf("%s Objectives: %v.", summary, objectives)
	}
	if record, err := memory.NewSessionSummaryRecord(session.UserID, session.SessionID, summary); err == nil {
		if err := o.memIndex.Add(record); err != nil {
			o.logger.Warn("failed to write session summary record: %v", err)
		}
	}

	if session.CourseID == nil {
		return
	}
	course, err := o.provider.GetCourse(ctx, *session.CourseID)
	if err != nil {
		return
	}
	content := fmt.Sprintf("%s %s (%s, %s)", course.ID, course.Title, course.Level, course.Term)
	if record, err := memory.NewCourseSnapshotRecord(session.UserID, course.ID, content); err == nil {
		if err := o.memIndex.Add(record); err != nil {
			o.logger.Warn("failed to write course snapshot record: %v", err)
		}
	}
}
