package agents

import (
	"context"
	"strings"

	"pedagogue/pkg/contextmgr"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/metrics"
	"pedagogue/pkg/proto"
)

const assessmentSystemPrompt = `You are a curriculum design assistant helping a teacher draft assessments.

Work from the course context, captured objectives, and conversation provided. Every question must assess one of the stated objectives and name its cognitive level.

Question types:
- "mcq": include four options with ids A through D and a correct_answer id
- "open_ended": include a grading rubric
- "case_study": include the case text the question refers to

Respond with a JSON object:
{
  "reply": "conversational response to the teacher",
  "items": [
    {
      "question": "question text",
      "type": "mcq",
      "objective": "the objective this item assesses",
      "level": "Analysis",
      "options": [{"id": "A", "text": "choice"}],
      "correct_answer": "A",
      "rubric": "",
      "case_text": ""
    }
  ]
}

Omit the items array while you are still scoping the assessment.`

// AssessmentAgent drafts exams, quizzes, and rubrics.
type AssessmentAgent struct {
	base
}

// NewAssessmentAgent creates the assessment agent.
func NewAssessmentAgent(client llm.Client, recorder *metrics.Recorder, maxTokens int) *AssessmentAgent {
	return &AssessmentAgent{base: newBase(proto.AgentAssessment, client, recorder, maxTokens)}
}

type assessmentReply struct {
	Reply string `json:"reply"`
	Items []struct {
		Question  string `json:"question"`
		Type      string `json:"type"`
		Objective string `json:"objective"`
		Level     string `json:"level"`
		Options   []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"options"`
		CorrectAnswer string `json:"correct_answer"`
		Rubric        string `json:"rubric"`
		CaseText      string `json:"case_text"`
	} `json:"items"`
}

// HandleTurn implements Agent.
func (a *AssessmentAgent) HandleTurn(ctx context.Context, payload *contextmgr.Payload) (*proto.Artifact, error) {
	content, err := a.complete(ctx, assessmentSystemPrompt, payload.Prompt)
	if err != nil {
		return nil, err
	}

	artifact := &proto.Artifact{AgentID: a.id, Text: content}

	var parsed assessmentReply
	if _, ok := decodeReply(content, &parsed); !ok {
		return artifact, nil
	}
	if parsed.Reply != "" {
		artifact.Text = parsed.Reply
	}
	for _, item := range parsed.Items {
		if strings.TrimSpace(item.Question) == "" {
			continue
		}
		level, _ := proto.ValidateTaxonomyLevel(item.Level)
		converted := proto.AssessmentItem{
			Question:      strings.TrimSpace(item.Question),
			Type:          item.Type,
			Objective:     strings.TrimSpace(item.Objective),
			Level:         level,
			CorrectAnswer: item.CorrectAnswer,
			Rubric:        item.Rubric,
			CaseText:      item.CaseText,
		}
		for _, opt := range item.Options {
			converted.Options = append(converted.Options, proto.MCQOption{ID: opt.ID, Text: opt.Text})
		}
		artifact.Items = append(artifact.Items, converted)
	}
	return artifact, nil
}
