package agents

import (
	"context"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

const genericSystemPrompt = `You are a teaching assistant chatting with a course instructor. Answer their question directly and helpfully using the course context provided. Respond in plain prose, no JSON.`

// GenericAgent handles conversation that needs no specialist.
type GenericAgent struct {
	base
}

// NewGenericAgent creates the generic agent.
func NewGenericAgent(client llm.Client, recorder *metrics.Recorder, maxTokens int) *GenericAgent {
	return &GenericAgent{base: newBase(proto.AgentGeneric, client, recorder, maxTokens)}
}

// HandleTurn implements Agent.
func (a *GenericAgent) HandleTurn(ctx context.Context, payload *contextmgr.Payload) (*proto.Artifact, error) {
	content, err := a.complete(ctx, genericSystemPrompt, payload.Prompt)
	if err != nil {
		return nil, err
	}
	return &proto.Artifact{AgentID: a.id, Text: content}, nil
}
