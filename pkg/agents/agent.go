// Package agents implements the specialized pedagogy agents. Each agent
// turns an assembled context payload into a structured artifact by prompting
// the language model and parsing its reply.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/logx"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

// Agent produces an artifact for one turn.
type Agent interface {
	ID() proto.AgentID
	HandleTurn(ctx context.Context, payload *contextmgr.Payload) (*proto.Artifact, error)
}

// base carries the shared wiring of every agent.
type base struct {
	id       proto.AgentID
	client   llm.Client
	recorder *metrics.Recorder
	logger   *logx.Logger
	maxTok   int
}

func newBase(id proto.AgentID, client llm.Client, recorder *metrics.Recorder, maxTokens int) base {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return base{
		id:       id,
		client:   client,
		recorder: recorder,
		logger:   logx.NewLogger(string(id)),
		maxTok:   maxTokens,
	}
}

func (b *base) ID() proto.AgentID {
	return b.id
}

// complete sends the prompt pair and records request metrics.
func (b *base) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(userPrompt),
	})
	req.MaxTokens = b.maxTok

	start := time.Now()
	resp, err := b.client.Complete(ctx, req)
	b.recorder.ObserveLLMRequest(string(b.id), err == nil, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("completion failed for %s: %w", b.id, err)
	}
	return resp.Content, nil
}

// extractJSON pulls the first JSON object out of a model reply, tolerating
// fenced code blocks and leading prose.
func extractJSON(content string) (string, bool) {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), true
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1], true
	}
	return "", false
}

// decodeReply unmarshals the model's JSON into out. The reply field becomes
// the artifact text; when no JSON is found the whole content is treated as
// plain text and ok is false.
func decodeReply(content string, out any) (string, bool) {
	raw, found := extractJSON(content)
	if !found {
		return content, false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return content, false
	}
	return raw, true
}
