package agents

import (
	"context"
	"strings"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

const objectivesSystemPrompt = `You are a curriculum design assistant helping a teacher define learning objectives.

Work from the course context and conversation provided. Propose clear, measurable learning objectives. Each objective must name one of the six cognitive levels: Remembering, Understanding, Application, Analysis, Evaluation, Creation. A full objective set should span at least four of the six levels.

Respond with a JSON object:
{
  "reply": "conversational response to the teacher",
  "objectives": [
    {"text": "objective statement", "level": "Application"}
  ]
}

Omit the objectives array while you are still gathering requirements.`

// ObjectivesAgent drafts and refines learning objectives.
type ObjectivesAgent struct {
	base
}

// NewObjectivesAgent creates the objectives agent.
func NewObjectivesAgent(client llm.Client, recorder *metrics.Recorder, maxTokens int) *ObjectivesAgent {
	return &ObjectivesAgent{base: newBase(proto.AgentObjectives, client, recorder, maxTokens)}
}

type objectivesReply struct {
	Reply      string `json:"reply"`
	Objectives []struct {
		Text  string `json:"text"`
		Level string `json:"level"`
	} `json:"objectives"`
}

// HandleTurn implements Agent.
func (a *ObjectivesAgent) HandleTurn(ctx context.Context, payload *contextmgr.Payload) (*proto.Artifact, error) {
	content, err := a.complete(ctx, objectivesSystemPrompt, payload.Prompt)
	if err != nil {
		return nil, err
	}

	artifact := &proto.Artifact{AgentID: a.id, Text: content}

	var parsed objectivesReply
	if _, ok := decodeReply(content, &parsed); !ok {
		return artifact, nil
	}
	if parsed.Reply != "" {
		artifact.Text = parsed.Reply
	}
	for _, obj := range parsed.Objectives {
		if strings.TrimSpace(obj.Text) == "" {
			continue
		}
		level, _ := proto.ValidateTaxonomyLevel(obj.Level)
		artifact.Objectives = append(artifact.Objectives, proto.LearningObjective{
			Text:  strings.TrimSpace(obj.Text),
			Level: level,
		})
	}
	return artifact, nil
}
