package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/guardrail"
	"pedagogue/pkg/logx"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
	"pedagogue/pkg/router"
	"pedagogue/pkg/state"
)

// TurnResult is the outcome of one committed turn. GuardrailFeedback is
// non-empty when the turn's artifact was rejected; the turn still commits,
// the phase holds, and the reason feeds the next turn's context.
type TurnResult struct {
	SessionID         string
	TurnID            string
	AgentID           proto.AgentID
	Reply             string
	Artifact          *proto.Artifact
	Phase             proto.Phase
	UI                *UIUpdate
	Messages          []*proto.ReviewMessage
	GuardrailFeedback string
}

// ProcessTurn runs one turn end to end. Everything the turn produced commits
// in a single transaction; any failure before the commit leaves the session
// exactly as it was.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userMsg string) (*TurnResult, error) {
	if err := o.locks.acquire(sessionID, o.cfg.Session.LockTimeout); err != nil {
		return nil, err
	}
	defer o.locks.release(sessionID)
	// Ephemeral state is scratch space for one turn only.
	defer o.store.ClearEphemeral(sessionID)

	ctx = logx.WithSessionID(ctx, sessionID)

	session, err := persistence.GetSession(o.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionComplete, sessionID)
	}

	origin := proto.Phase("")
	if session.RevisionOrigin != nil {
		origin = *session.RevisionOrigin
	}

	agentID := router.Route(session.Phase, origin, userMsg)
	agent, err := o.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	turn := proto.NewTurn(sessionID, userMsg)
	turn.AgentID = agentID

	payload, err := o.assembler.Assemble(ctx, sessionID, userMsg, "")
	if err != nil {
		return nil, err
	}
	o.recorder.ObservePayloadTokens(payload.TokenCount)

	artifact, err := agent.HandleTurn(ctx, payload)
	if err != nil {
		o.recorder.ObserveTurn(string(agentID), "failed")
		return nil, err
	}

	var messages []*proto.ReviewMessage
	proposal := proto.NewReviewMessage(proto.MsgTypePROPOSAL, string(agentID), "orchestrator", turn.ID)
	proposal.SetPayload("artifact_kinds", artifactKinds(artifact))
	messages = append(messages, proposal)

	captured := o.capturedObjectives(sessionID)
	verdict := o.validator.Validate(artifact, captured)
	if !verdict.Passed {
		o.recorder.ObserveGuardrailFailure(verdict.RuleID)
		logx.Debug(ctx, "guardrail", "rule %s failed: %s", verdict.RuleID, verdict.Message)

		revision := proto.NewReviewMessage(proto.MsgTypeREVISION, "orchestrator", string(agentID), turn.ID)
		revision.Feedback = verdict.Message
		messages = append(messages, revision)

		payload, err = o.assembler.Assemble(ctx, sessionID, userMsg, verdict.Message)
		if err != nil {
			return nil, err
		}
		artifact, err = agent.HandleTurn(ctx, payload)
		if err != nil {
			o.recorder.ObserveTurn(string(agentID), "failed")
			return nil, err
		}

		verdict = o.validator.Validate(artifact, captured)
		if !verdict.Passed {
			o.recorder.ObserveGuardrailFailure(verdict.RuleID)
			o.recorder.ObserveTurn(string(agentID), "rejected")

			rejection := proto.NewReviewMessage(proto.MsgTypeREVISION, "orchestrator", string(agentID), turn.ID)
			rejection.Feedback = verdict.Message
			messages = append(messages, rejection)

			return o.commitRejectedTurn(session, turn, userMsg, agentID, artifact, verdict, messages)
		}
	}

	approval := proto.NewReviewMessage(proto.MsgTypeAPPROVAL, "orchestrator", string(agentID), turn.ID)
	messages = append(messages, approval)

	nextPhase, nextOrigin := o.nextPhase(session, artifact)

	ws := state.NewWriteSet(sessionID)
	if err := o.stageArtifact(ws, sessionID, artifact); err != nil {
		return nil, err
	}
	if err := o.stageFeedbackClear(ws, sessionID); err != nil {
		return nil, err
	}

	prior, err := o.store.PriorValues(ws)
	if err != nil {
		return nil, err
	}

	tx, err := o.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin turn commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op once committed

	turnRow := &persistence.TurnRow{
		TurnID:    turn.ID,
		SessionID: sessionID,
		UserMsg:   userMsg,
		AgentMsg:  artifact.Text,
		AgentID:   agentID,
	}
	if err := persistence.AppendTurnTx(tx, turnRow); err != nil {
		return nil, err
	}
	if err := persistence.UpdateSessionPhaseTx(tx, sessionID, nextPhase, nextOrigin); err != nil {
		return nil, err
	}
	if err := o.store.CommitTx(tx, ws); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	o.store.Finalize(ws, prior)

	o.recorder.ObserveTurn(string(agentID), "committed")
	o.logger.Info("committed turn %s for session %s: agent=%s phase=%s", turn.ID, sessionID, agentID, nextPhase)

	return &TurnResult{
		SessionID: sessionID,
		TurnID:    turn.ID,
		AgentID:   agentID,
		Reply:     artifact.Text,
		Artifact:  artifact,
		Phase:     nextPhase,
		UI:        buildUIUpdate(agentID, artifact),
		Messages:  messages,
	}, nil
}

// commitRejectedTurn commits a turn whose artifact failed validation twice.
// The turn stays in history, the phase holds, and the rejection reason is
// recorded in session state so the next assembly can surface it. The
// artifact's structured outputs are discarded.
func (o *Orchestrator) commitRejectedTurn(session *persistence.SessionRow, turn *proto.Turn, userMsg string,
	agentID proto.AgentID, artifact *proto.Artifact, verdict guardrail.Result,
	messages []*proto.ReviewMessage) (*TurnResult, error) {
	sessionID := session.SessionID

	ws := state.NewWriteSet(sessionID)
	if err := ws.Stage(state.ScopeSession, sessionID, contextmgr.GuardrailFeedbackKey, verdict.Message, state.ActorSystem); err != nil {
		return nil, err
	}

	prior, err := o.store.PriorValues(ws)
	if err != nil {
		return nil, err
	}

	tx, err := o.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin turn commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op once committed

	turnRow := &persistence.TurnRow{
		TurnID:    turn.ID,
		SessionID: sessionID,
		UserMsg:   userMsg,
		AgentMsg:  artifact.Text,
		AgentID:   agentID,
	}
	if err := persistence.AppendTurnTx(tx, turnRow); err != nil {
		return nil, err
	}
	if err := persistence.UpdateSessionPhaseTx(tx, sessionID, session.Phase, session.RevisionOrigin); err != nil {
		return nil, err
	}
	if err := o.store.CommitTx(tx, ws); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	o.store.Finalize(ws, prior)

	o.logger.Info("committed rejected turn %s for session %s: agent=%s rule=%s", turn.ID, sessionID, agentID, verdict.RuleID)

	return &TurnResult{
		SessionID:         sessionID,
		TurnID:            turn.ID,
		AgentID:           agentID,
		Reply:             artifact.Text,
		Artifact:          artifact,
		Phase:             session.Phase,
		UI:                &UIUpdate{CurrentAgentID: string(agentID)},
		Messages:          messages,
		GuardrailFeedback: verdict.Message,
	}, nil
}

// capturedObjectives returns the learning objectives accepted in earlier
// turns of the session, so validation can check assessments against them.
// A session with none yet yields nil.
func (o *Orchestrator) capturedObjectives(sessionID string) []proto.LearningObjective {
	raw, err := o.store.GetRaw(state.ScopeSession, sessionID, "learning_objectives")
	if err != nil {
		return nil
	}
	var objectives []proto.LearningObjective
	if err := json.Unmarshal([]byte(raw), &objectives); err != nil {
		o.logger.Warn("corrupt learning_objectives state for session %s: %v", sessionID, err)
		return nil
	}
	return objectives
}

// stageFeedbackClear stages removal of a recorded rejection reason once a
// turn passes validation.
func (o *Orchestrator) stageFeedbackClear(ws *state.WriteSet, sessionID string) error {
	prev, err := o.store.Get(state.ScopeSession, sessionID, contextmgr.GuardrailFeedbackKey)
	if err != nil {
		return nil
	}
	if s, ok := prev.(string); !ok || s == "" {
		return nil
	}
	return ws.Stage(state.ScopeSession, sessionID, contextmgr.GuardrailFeedbackKey, "", state.ActorSystem)
}

// nextPhase derives the phase after this turn. Artifacts advance the phase
// one step at most; a turn out of REVISION_REQUESTED returns to the recorded
// origin regardless of artifact content.
func (o *Orchestrator) nextPhase(session *persistence.SessionRow, artifact *proto.Artifact) (proto.Phase, *proto.Phase) {
	if session.Phase == proto.PhaseRevisionRequested {
		if session.RevisionOrigin != nil {
			return *session.RevisionOrigin, nil
		}
		return proto.PhaseNeedsAnalysis, nil
	}

	candidates := []proto.Phase{}
	if len(artifact.Items) > 0 {
		candidates = append(candidates, proto.PhaseDraftReady)
	}
	if len(artifact.Modules) > 0 {
		candidates = append(candidates, proto.PhaseStructureProposed)
	}
	if len(artifact.Objectives) > 0 {
		candidates = append(candidates, proto.PhaseObjectivesCaptured)
	}
	for _, candidate := range candidates {
		if proto.IsValidTransition(session.Phase, candidate, "") {
			return candidate, nil
		}
	}
	return session.Phase, session.RevisionOrigin
}

// stageArtifact stages the artifact's structured outputs into session scope.
func (o *Orchestrator) stageArtifact(ws *state.WriteSet, sessionID string, artifact *proto.Artifact) error {
	actor := string(artifact.AgentID)
	if len(artifact.Objectives) > 0 {
		if err := ws.Stage(state.ScopeSession, sessionID, "learning_objectives", artifact.Objectives, actor); err != nil {
			return err
		}
	}
	if len(artifact.Modules) > 0 {
		if err := ws.Stage(state.ScopeSession, sessionID, "course_modules", artifact.Modules, actor); err != nil {
			return err
		}
	}
	if len(artifact.Items) > 0 {
		if err := ws.Stage(state.ScopeSession, sessionID, "assessment_items", artifact.Items, actor); err != nil {
			return err
		}
	}
	return nil
}

func artifactKinds(artifact *proto.Artifact) []string {
	kinds := []string{}
	if len(artifact.Objectives) > 0 {
		kinds = append(kinds, "objectives")
	}
	if len(artifact.Modules) > 0 {
		kinds = append(kinds, "modules")
	}
	if len(artifact.Items) > 0 {
		kinds = append(kinds, "items")
	}
	if len(kinds) == 0 {
		kinds = append(kinds, "text")
	}
	return kinds
}
