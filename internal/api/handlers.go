package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pedagogue/pkg/orchestrator"
	"pedagogue/pkg/persistence"
	"pedagogue/pkg/proto"
)

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orch *orchestrator.Orchestrator
}

// NewHandler creates the API handler.
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes mounts the session and chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/init", h.handleSessionInit)
	r.Post("/session/update", h.handleSessionUpdate)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Post("/chat", h.handleChat)
}

type sessionResponse struct {
	SessionID      string       `json:"session_id"`
	UserID         string       `json:"user_id"`
	CourseID       *string      `json:"course_id,omitempty"`
	Phase          proto.Phase  `json:"phase"`
	RevisionOrigin *proto.Phase `json:"revision_origin,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

func sessionJSON(row *persistence.SessionRow) sessionResponse {
	return sessionResponse{
		SessionID:      row.SessionID,
		UserID:         row.UserID,
		CourseID:       row.CourseID,
		Phase:          row.Phase,
		RevisionOrigin: row.RevisionOrigin,
		CreatedAt:      row.CreatedAt,
		LastActivityAt: row.LastActivityAt,
	}
}

func (h *Handler) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID      string                    `json:"user_id"`
		CourseID    *string                   `json:"course_id"`
		UserProfile *orchestrator.UserProfile `json:"user_profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	session, created, err := h.orch.Initialize(r.Context(), payload.UserID, payload.CourseID, payload.UserProfile)
	if err != nil {
		respondForError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, struct {
		sessionResponse
		Created bool `json:"created"`
	}{sessionJSON(session), created})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	view, err := h.orch.DescribeSession(sessionID)
	if err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		sessionResponse
		State map[string]any `json:"state"`
		Turns int            `json:"turns"`
	}{sessionJSON(view.Session), view.State, view.Turns})
}

func (h *Handler) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
		Action    string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var (
		session *persistence.SessionRow
		err     error
	)
	switch payload.Action {
	case "request_revision":
		session, err = h.orch.RequestRevision(payload.SessionID)
	case "approve":
		session, err = h.orch.ApproveDraft(r.Context(), payload.SessionID)
	default:
		respondError(w, http.StatusBadRequest, "action must be request_revision or approve")
		return
	}
	if err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionJSON(session))
}

type chatResponse struct {
	SessionID string                 `json:"session_id"`
	TurnID    string                 `json:"turn_id"`
	AgentID   proto.AgentID          `json:"agent_id"`
	Reply     string                 `json:"reply"`
	Phase     proto.Phase            `json:"phase"`
	UI        *orchestrator.UIUpdate `json:"ui,omitempty"`
	// GuardrailFeedback is set when the draft failed validation; the turn is
	// recorded and the next message should address the feedback.
	GuardrailFeedback string `json:"guardrail_feedback,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if payload.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.orch.ProcessTurn(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		SessionID:         result.SessionID,
		TurnID:            result.TurnID,
		AgentID:           result.AgentID,
		Reply:             result.Reply,
		Phase:             result.Phase,
		UI:                result.UI,
		GuardrailFeedback: result.GuardrailFeedback,
	})
}
