package agents

import (
	"context"
	"strings"
	"sync"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

const syllabusSystemPrompt = `You are a curriculum design assistant helping a teacher structure a course.

Work from the course context, captured objectives, and conversation provided. Propose a week-by-week course structure where every module advances a stated objective.

Respond with a JSON object:
{
  "reply": "conversational response to the teacher",
  "modules": [
    {
      "week": 1,
      "title": "module title",
      "objective": "the objective this module advances",
      "activities": ["activity"],
      "assessment": "how the week is assessed"
    }
  ]
}

Omit the modules array while you are still discussing the structure.`

const resourceSystemPrompt = `You recommend learning resources for one course module. Respond with a JSON object:
{
  "resources": [
    {"title": "resource name", "type": "reading|video|interactive", "url": "", "description": "one sentence"}
  ]
}
Recommend at most three resources.`

// SyllabusAgent proposes and revises course structures. With resource
// fan-out enabled it enriches each module with recommended resources using
// one concurrent completion per module.
type SyllabusAgent struct {
	base
	fanOutResources bool
}

// NewSyllabusAgent creates the syllabus agent.
func NewSyllabusAgent(client llm.Client, recorder *metrics.Recorder, maxTokens int, fanOutResources bool) *SyllabusAgent {
	return &SyllabusAgent{
		base:            newBase(proto.AgentSyllabus, client, recorder, maxTokens),
		fanOutResources: fanOutResources,
	}
}

type syllabusReply struct {
	Reply   string `json:"reply"`
	Modules []struct {
		Week       int      `json:"week"`
		Title      string   `json:"title"`
		Objective  string   `json:"objective"`
		Activities []string `json:"activities"`
		Assessment string   `json:"assessment"`
	} `json:"modules"`
}

type resourceReply struct {
	Resources []struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		URL         string `json:"url"`
		Description string `json:"description"`
	} `json:"resources"`
}

// HandleTurn implements Agent.
func (a *SyllabusAgent) HandleTurn(ctx context.Context, payload *contextmgr.Payload) (*proto.Artifact, error) {
	content, err := a.complete(ctx, syllabusSystemPrompt, payload.Prompt)
	if err != nil {
		return nil, err
	}

	artifact := &proto.Artifact{AgentID: a.id, Text: content}

	var parsed syllabusReply
	if _, ok := decodeReply(content, &parsed); !ok {
		return artifact, nil
	}
	if parsed.Reply != "" {
		artifact.Text = parsed.Reply
	}
	for _, m := range parsed.Modules {
		if strings.TrimSpace(m.Title) == "" {
			continue
		}
		artifact.Modules = append(artifact.Modules, proto.CourseModule{
			Week:       m.Week,
			Title:      strings.TrimSpace(m.Title),
			Objective:  strings.TrimSpace(m.Objective),
			Activities: m.Activities,
			Assessment: m.Assessment,
		})
	}

	if a.fanOutResources && len(artifact.Modules) > 0 {
		a.recommendResources(ctx, artifact.Modules)
	}
	return artifact, nil
}

// recommendResources fills in module resources concurrently. Failures leave
// the module without resources; the structure proposal still stands.
func (a *SyllabusAgent) recommendResources(ctx context.Context, modules []proto.CourseModule) {
	var wg sync.WaitGroup
	for i := range modules {
		wg.Add(1)
		go func(m *proto.CourseModule) {
			defer wg.Done()

			prompt := "Module: " + m.Title + "\nObjective: " + m.Objective
			content, err := a.complete(ctx, resourceSystemPrompt, prompt)
			if err != nil {
				a.logger.Warn("resource recommendation failed for module %q: %v", m.Title, err)
				return
			}

			var parsed resourceReply
			if _, ok := decodeReply(content, &parsed); !ok {
				return
			}
			for _, r := range parsed.Resources {
				if strings.TrimSpace(r.Title) == "" {
					continue
				}
				m.Resources = append(m.Resources, proto.Resource{
					Title:       r.Title,
					Type:        r.Type,
					URL:         r.URL,
					Description: r.Description,
				})
			}
		}(&modules[i])
	}
	wg.Wait()
}
