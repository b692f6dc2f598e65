package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"pedagogue/pkg/courses"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/orchestrator"
	"pedagogue/pkg/persistence"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps orchestration errors onto HTTP statuses. Unrecognized
// errors are treated as internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, courses.ErrCourseUnresolved):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrSessionComplete),
		errors.Is(err, orchestrator.ErrInvalidPhaseTransition),
		errors.Is(err, orchestrator.ErrSessionLockTimeout):
		return http.StatusConflict
	case errors.Is(err, llm.ErrAgentUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondForError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}
