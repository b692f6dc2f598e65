// Package router selects the agent for a turn. Routing is a pure function of
// phase and message text; it never errors and never touches storage.
package router

import (
	"strings"

	"pedagogue/pkg/proto"
)

// Agents pinned by phase. Phases absent from this map are open and fall
// through to keyword classification.
var phaseAgents = map[proto.Phase]proto.AgentID{
	proto.PhaseObjectivesCaptured: proto.AgentSyllabus,
	proto.PhaseStructureProposed:  proto.AgentAssessment,
	proto.PhaseDraftReady:         proto.AgentAssessment,
}

// Agents that produce the artifact establishing each phase. Revision turns
// go back to the producer, not to the agent that works forward from the
// phase.
var producerAgents = map[proto.Phase]proto.AgentID{
	proto.PhaseObjectivesCaptured: proto.AgentObjectives,
	proto.PhaseStructureProposed:  proto.AgentSyllabus,
	proto.PhaseDraftReady:         proto.AgentAssessment,
}

var keywordAgents = []struct {
	agent    proto.AgentID
	keywords []string
}{
	{proto.AgentObjectives, []string{"objective", "outcome", "goal", "bloom", "taxonomy", "learning"}},
	{proto.AgentSyllabus, []string{"syllabus", "week", "module", "schedule", "structure", "curriculum", "lesson"}},
	{proto.AgentAssessment, []string{"assessment", "exam", "quiz", "question", "rubric", "test", "grade", "case study"}},
}

// Route returns the agent that should handle message in the given phase.
// revisionOrigin matters only when phase is REVISION_REQUESTED, where the
// agent that produced the disputed artifact handles the rework.
func Route(phase proto.Phase, revisionOrigin proto.Phase, message string) proto.AgentID {
	if phase == proto.PhaseRevisionRequested {
		if agent, ok := producerAgents[revisionOrigin]; ok {
			return agent
		}
		return classify(message)
	}

	if agent, ok := phaseAgents[phase]; ok {
		return agent
	}
	return classify(message)
}

func classify(message string) proto.AgentID {
	lower := strings.ToLower(message)

	best := proto.AgentGeneric
	bestScore := 0
	for _, candidate := range keywordAgents {
		score := 0
		for _, kw := range candidate.keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best = candidate.agent
			bestScore = score
		}
	}
	return best
}
