package orchestrator

import (
	"pedagogue/pkg/proto"
)

// UIUpdate carries the hints the chat frontend uses to render a turn.
type UIUpdate struct {
	CurrentAgentID string                 `json:"current_agent_id"`
	TaskParameters *TaskParameters        `json:"taskParameters,omitempty"`
	GeneratedExam  []proto.AssessmentItem `json:"generatedExam,omitempty"`
}

// TaskParameters summarizes the structured outputs of a turn for the UI.
type TaskParameters struct {
	LearningObjectives []string `json:"learningObjectives,omitempty"`
	OutputType         string   `json:"outputType,omitempty"`
	BloomsLevel        []string `json:"bloomsLevel,omitempty"`
}

func buildUIUpdate(agentID proto.AgentID, artifact *proto.Artifact) *UIUpdate {
	update := &UIUpdate{CurrentAgentID: string(agentID)}

	if len(artifact.Objectives) > 0 {
		params := &TaskParameters{OutputType: "objectives"}
		seen := map[string]bool{}
		for _, obj := range artifact.Objectives {
			params.LearningObjectives = append(params.LearningObjectives, obj.Text)
			if obj.Level != "" && !seen[string(obj.Level)] {
				seen[string(obj.Level)] = true
				params.BloomsLevel = append(params.BloomsLevel, string(obj.Level))
			}
		}
		update.TaskParameters = params
	}

	if len(artifact.Modules) > 0 {
		if update.TaskParameters == nil {
			update.TaskParameters = &TaskParameters{}
		}
		update.TaskParameters.OutputType = "syllabus"
	}

	if len(artifact.Items) > 0 {
		if update.TaskParameters == nil {
			update.TaskParameters = &TaskParameters{}
		}
		update.TaskParameters.OutputType = "assessment"
		update.GeneratedExam = artifact.Items
	}

	return update
}
