package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pedagogue/pkg/proto"
)

func TestPhasePinsAgent(t *testing.T) {
	// Message content must not override a pinned phase.
	got := Route(proto.PhaseObjectivesCaptured, "", "write me an exam with quiz questions")
	assert.Equal(t, proto.AgentSyllabus, got)

	got = Route(proto.PhaseStructureProposed, "", "what are good learning objectives")
	assert.Equal(t, proto.AgentAssessment, got)

	got = Route(proto.PhaseDraftReady, "", "anything at all")
	assert.Equal(t, proto.AgentAssessment, got)
}

func TestOpenPhaseClassifiesByKeyword(t *testing.T) {
	tests := []struct {
		message string
		want    proto.AgentID
	}{
		{"help me write learning objectives for this course", proto.AgentObjectives},
		{"I need a week by week syllabus structure", proto.AgentSyllabus},
		{"draft a quiz with rubric for grading", proto.AgentAssessment},
		{"hello there", proto.AgentGeneric},
		{"", proto.AgentGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Route(proto.PhaseNeedsAnalysis, "", tt.message), "message: %q", tt.message)
	}
}

func TestRevisionRoutesToProducerAgent(t *testing.T) {
	got := Route(proto.PhaseRevisionRequested, proto.PhaseObjectivesCaptured, "this looks wrong")
	assert.Equal(t, proto.AgentObjectives, got)

	got = Route(proto.PhaseRevisionRequested, proto.PhaseDraftReady, "redo it")
	assert.Equal(t, proto.AgentAssessment, got)

	// Origin without a pinned agent falls back to classification.
	got = Route(proto.PhaseRevisionRequested, proto.PhaseNeedsAnalysis, "fix the learning objectives")
	assert.Equal(t, proto.AgentObjectives, got)
}

func TestRouteNeverErrors(t *testing.T) {
	assert.NotEmpty(t, Route("", "", ""))
	assert.Equal(t, proto.AgentGeneric, Route(proto.PhaseDone, "", "what next"))
}
