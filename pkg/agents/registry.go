package agents

import (
	"fmt"

	"pedagogue/pkg/llm"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

// Registry holds the agent set for the turn pipeline.
type Registry struct {
	agents map[proto.AgentID]Agent
}

// NewRegistry builds the default agent set over one shared client.
func NewRegistry(client llm.Client, recorder *metrics.Recorder, maxTokens int, fanOutResources bool) *Registry {
	r := &Registry{agents: make(map[proto.AgentID]Agent)}
	r.Register(NewObjectivesAgent(client, recorder, maxTokens))
	r.Register(NewSyllabusAgent(client, recorder, maxTokens, fanOutResources))
	r.Register(NewAssessmentAgent(client, recorder, maxTokens))
	r.Register(NewGenericAgent(client, recorder, maxTokens))
	return r
}

// Register adds or replaces one agent.
func (r *Registry) Register(agent Agent) {
	r.agents[agent.ID()] = agent
}

// Get returns the agent for id.
func (r *Registry) Get(id proto.AgentID) (Agent, error) {
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("no agent registered for %q", id)
	}
	return agent, nil
}
