// Package contextmgr assembles the per-turn context payload handed to agents.
// Assembly is a pure read over the session, course, and memory stores; it
// never mutates state.
package contextmgr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pedagogue/pkg/config"
	"pedagogue/pkg/courses"
	"pedagogue/pkg/logx"
	"pedagogue/pkg/memory"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
	"pedagogue/pkg/state"
	"pedagogue/pkg/utils"
)

// CourseUnknownMarker is rendered when a session has no resolvable course.
const CourseUnknownMarker = "Course context: course unknown."

// Payload is the assembled context for one turn.
type Payload struct {
	SessionID         string
	UserID            string
	Phase             proto.Phase
	CourseContext     string
	UserProfile       string
	SessionState      map[string]any
	MemorySnippets    []string
	RecentTurns       []*persistence.TurnRow
	UserQuery         string
	GuardrailFeedback string
	Prompt            string
	TokenCount        int
}

// Assembler builds context payloads.
type Assembler struct {
	db       *sql.DB
	store    *state.Store
	memIndex *memory.Index
	provider courses.Provider
	counter  *utils.TokenCounter
	cfg      config.ContextConfig
	logger   *logx.Logger
}

// NewAssembler wires an assembler over the shared stores.
func NewAssembler(db *sql.DB, store *state.Store, memIndex *memory.Index, provider courses.Provider, counter *utils.TokenCounter, cfg config.ContextConfig) *Assembler {
	return &Assembler{
		db:       db,
		store:    store,
		memIndex: memIndex,
		provider: provider,
		counter:  counter,
		cfg:      cfg,
		logger:   logx.NewLogger("contextmgr"),
	}
}

// GuardrailFeedbackKey is the session-scope key holding the rejection reason
// of the last validation failure. It is folded into the next payload and
// cleared once a turn passes validation.
const GuardrailFeedbackKey = "guardrail_feedback"

// Assemble builds the payload for one turn of sessionID. guardrailFeedback is
// non-empty only on a retry after a failed validation, and is injected into
// the prompt so the agent can correct its output. When empty, any rejection
// reason recorded in session state from a prior turn is used instead.
func (a *Assembler) Assemble(ctx context.Context, sessionID, userQuery, guardrailFeedback string) (*Payload, error) {
	session, err := persistence.GetSession(a.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	payload := &Payload{
		SessionID:         sessionID,
		UserID:            session.UserID,
		Phase:             session.Phase,
		UserQuery:         userQuery,
		GuardrailFeedback: guardrailFeedback,
	}

	payload.CourseContext = a.courseSection(ctx, session)
	payload.UserProfile = a.profileSection(session.UserID)

	payload.SessionState, err = a.store.Snapshot(state.ScopeSession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session state: %w", err)
	}
	if stored, ok := payload.SessionState[GuardrailFeedbackKey].(string); ok {
		if payload.GuardrailFeedback == "" {
			payload.GuardrailFeedback = stored
		}
		delete(payload.SessionState, GuardrailFeedbackKey)
	}

	payload.RecentTurns, err = persistence.GetRecentTurns(a.db, sessionID, a.cfg.RecentTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent turns: %w", err)
	}

	results, _, err := a.memIndex.Search(session.UserID, userQuery, a.cfg.MemoryResults, "")
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	for _, r := range results {
		if r.Score > 0 {
			payload.MemorySnippets = append(payload.MemorySnippets, r.Record.Content)
		}
	}

	a.render(payload)
	a.enforceBudget(payload)

	logx.Debug(ctx, "contextmgr", "assembled payload for session %s: %d tokens, %d turns, %d memory snippets",
		sessionID, payload.TokenCount, len(payload.RecentTurns), len(payload.MemorySnippets))
	return payload, nil
}

// courseSection flattens the session's course into the summary lines plus the
// verbatim details block. A missing or unresolvable course yields the unknown
// marker rather than an error.
func (a *Assembler) courseSection(ctx context.Context, session *persistence.SessionRow) string {
	if session.CourseID == nil {
		return CourseUnknownMarker
	}

	course, err := a.provider.GetCourse(ctx, *session.CourseID)
	if err != nil {
		if !errors.Is(err, courses.ErrCourseUnresolved) {
			a.logger.Warn("course lookup failed for %s: %v", *session.CourseID, err)
		}
		return CourseUnknownMarker
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Course_ID: %s\n", course.ID)
	fmt.Fprintf(&b, "Course_Name: %s\n", course.Title)
	if course.Level != "" {
		fmt.Fprintf(&b, "Course_Level: %s\n", course.Level)
	}
	if course.Term != "" {
		fmt.Fprintf(&b, "Course_Session: %s\n", course.Term)
	}
	if course.Instructor != "" {
		fmt.Fprintf(&b, "Course_Instructor: %s\n", course.Instructor)
	}

	if len(course.Details) > 0 {
		detailsJSON, err := json.MarshalIndent(course.Details, "", "  ")
		if err == nil {
			b.WriteString("\nDETAILED COURSE INFORMATION (JSON)\n")
			b.Write(detailsJSON)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// profileSection flattens the stored user profile. A user without one yields
// an empty section.
func (a *Assembler) profileSection(userID string) string {
	profile, err := persistence.GetUserProfile(a.db, userID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			a.logger.Warn("user profile lookup failed for %s: %v", userID, err)
		}
		return ""
	}

	var b strings.Builder
	if profile.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", profile.Name)
	}
	if profile.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", profile.Email)
	}
	if profile.PreferencesJSON != "" && profile.PreferencesJSON != "{}" {
		b.WriteString("Preferences (JSON)\n")
		b.WriteString(profile.PreferencesJSON)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *Assembler) render(p *Payload) {
	var b strings.Builder

	b.WriteString(p.CourseContext)
	b.WriteString("\n")

	if p.UserProfile != "" {
		b.WriteString("\nUSER PROFILE\n")
		b.WriteString(p.UserProfile)
	}

	if len(p.SessionState) > 0 {
		stateJSON, err := json.MarshalIndent(p.SessionState, "", "  ")
		if err == nil {
			b.WriteString("\nSESSION STATE (JSON)\n")
			b.Write(stateJSON)
			b.WriteString("\n")
		}
	}

	if len(p.MemorySnippets) > 0 {
		b.WriteString("\nRELEVANT MEMORY\n")
		for _, snippet := range p.MemorySnippets {
			b.WriteString("- ")
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}

	if len(p.RecentTurns) > 0 {
		last := p.RecentTurns[len(p.RecentTurns)-1]
		b.WriteString("\nMost Recent User Query:\n")
		b.WriteString(last.UserMsg)
		b.WriteString("\n\nAgent's Last Response:\n")
		b.WriteString(last.AgentMsg)
		b.WriteString("\n")
	}

	if p.GuardrailFeedback != "" {
		b.WriteString("\nVALIDATION FEEDBACK\nYour previous response failed validation: ")
		b.WriteString(p.GuardrailFeedback)
		b.WriteString("\nCorrect the issue in your next response.\n")
	}

	b.WriteString("\nCurrent User Query:\n")
	b.WriteString(p.UserQuery)
	b.WriteString("\n")

	p.Prompt = b.String()
	p.TokenCount = a.counter.CountTokens(p.Prompt)
}

// enforceBudget trims the payload down to the configured token ceiling.
// Memory snippets go first, then older turns, then a hard character cut.
func (a *Assembler) enforceBudget(p *Payload) {
	if a.cfg.MaxPayloadTokens <= 0 || p.TokenCount <= a.cfg.MaxPayloadTokens {
		return
	}

	for len(p.MemorySnippets) > 0 && p.TokenCount > a.cfg.MaxPayloadTokens {
		p.MemorySnippets = p.MemorySnippets[:len(p.MemorySnippets)-1]
		a.render(p)
	}
	for len(p.RecentTurns) > 1 && p.TokenCount > a.cfg.MaxPayloadTokens {
		p.RecentTurns = p.RecentTurns[1:]
		a.render(p)
	}
	if p.TokenCount > a.cfg.MaxPayloadTokens {
		p.Prompt = a.counter.TruncateToTokenLimit(p.Prompt, a.cfg.MaxPayloadTokens)
		p.TokenCount = a.counter.CountTokens(p.Prompt)
	}
}
