package proto

import (
	"fmt"
	"strings"
)

// AgentID identifies a specialized agent in the pipeline.
type AgentID string

const (
	// AgentObjectives drafts taxonomy-aligned learning objectives.
	AgentObjectives AgentID = "objectives"

	// AgentSyllabus structures modules and sessions into a syllabus outline.
	AgentSyllabus AgentID = "syllabus"

	// AgentAssessment creates assessment items matched to objectives.
	AgentAssessment AgentID = "assessment"

	// AgentGeneric is the fallback orchestrator agent for ad hoc requests.
	AgentGeneric AgentID = "generic"
)

// AllAgents returns every known agent ID.
func AllAgents() []AgentID {
	return []AgentID{AgentObjectives, AgentSyllabus, AgentAssessment, AgentGeneric}
}

// ValidateAgentID checks if a string is a known agent ID.
func ValidateAgentID(s string) (AgentID, bool) {
	switch AgentID(s) {
	case AgentObjectives, AgentSyllabus, AgentAssessment, AgentGeneric:
		return AgentID(s), true
	default:
		return "", false
	}
}

// ParseAgentID parses a string into an AgentID with validation.
func ParseAgentID(s string) (AgentID, error) {
	if id, ok := ValidateAgentID(strings.ToLower(s)); ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown agent id: %s", s)
}

// String returns the string representation of the agent ID.
func (a AgentID) String() string {
	return string(a)
}
