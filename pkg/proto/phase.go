package proto

import (
	"fmt"
	"strings"
)

// Phase represents the workflow phase of a session.
type Phase string

const (
	// PhaseNeedsAnalysis is the entry phase: gathering requirements from the teacher.
	PhaseNeedsAnalysis Phase = "NEEDS_ANALYSIS"

	// PhaseObjectivesCaptured means learning objectives have been drafted and accepted.
	PhaseObjectivesCaptured Phase = "OBJECTIVES_CAPTURED"

	// PhaseStructureProposed means a course structure has been proposed.
	PhaseStructureProposed Phase = "STRUCTURE_PROPOSED"

	// PhaseDraftReady means an assessment draft exists and awaits final approval.
	PhaseDraftReady Phase = "DRAFT_READY"

	// PhaseDone is the terminal phase; no further agent invocation occurs.
	PhaseDone Phase = "DONE"

	// PhaseRevisionRequested is a side phase entered when a reviewer rejects an
	// artifact; it returns to the phase that produced the artifact under revision.
	PhaseRevisionRequested Phase = "REVISION_REQUESTED"
)

// phaseTransitions is the canonical transition table for the workflow.
// Forward progress is monotonic; REVISION_REQUESTED is the only backward branch
// and may only return to the phase that produced the artifact under revision.
//
//nolint:gochecknoglobals // Static transition table
var phaseTransitions = map[Phase][]Phase{
	PhaseNeedsAnalysis:      {PhaseObjectivesCaptured, PhaseRevisionRequested},
	PhaseObjectivesCaptured: {PhaseStructureProposed, PhaseRevisionRequested},
	PhaseStructureProposed:  {PhaseDraftReady, PhaseRevisionRequested},
	PhaseDraftReady:         {PhaseDone, PhaseRevisionRequested},
	PhaseDone:               {},
	// REVISION_REQUESTED returns are validated against the recorded origin phase,
	// not this table; see IsValidTransition.
	PhaseRevisionRequested: {PhaseNeedsAnalysis, PhaseObjectivesCaptured, PhaseStructureProposed, PhaseDraftReady},
}

// AllPhases returns every valid workflow phase.
func AllPhases() []Phase {
	return []Phase{
		PhaseNeedsAnalysis, PhaseObjectivesCaptured, PhaseStructureProposed,
		PhaseDraftReady, PhaseDone, PhaseRevisionRequested,
	}
}

// ValidatePhase checks if a string is a valid workflow phase.
func ValidatePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseNeedsAnalysis, PhaseObjectivesCaptured, PhaseStructureProposed,
		PhaseDraftReady, PhaseDone, PhaseRevisionRequested:
		return Phase(s), true
	default:
		return "", false
	}
}

// ParsePhase parses a string into a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	if phase, ok := ValidatePhase(strings.ToUpper(s)); ok {
		return phase, nil
	}
	return "", fmt.Errorf("unknown workflow phase: %s", s)
}

// ValidNextPhases returns the allowed next phases for a given phase.
func ValidNextPhases(from Phase) []Phase {
	return phaseTransitions[from]
}

// IsValidTransition checks whether a phase transition is allowed.
// revisionOrigin is the phase that produced the artifact currently under
// revision; it constrains the single backward edge out of REVISION_REQUESTED.
func IsValidTransition(from, to Phase, revisionOrigin Phase) bool {
	if from == PhaseRevisionRequested {
		// The only way out of revision is back to the originating phase.
		return to == revisionOrigin
	}
	for _, allowed := range phaseTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase permits no further agent invocation.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}
