package proto

import (
	"fmt"
	"strings"
)

// TaxonomyLevel is a recognized cognitive level for objective/assessment alignment.
type TaxonomyLevel string

const (
	LevelRemembering   TaxonomyLevel = "Remembering"
	LevelUnderstanding TaxonomyLevel = "Understanding"
	LevelApplication   TaxonomyLevel = "Application"
	LevelAnalysis      TaxonomyLevel = "Analysis"
	LevelEvaluation    TaxonomyLevel = "Evaluation"
	LevelCreation      TaxonomyLevel = "Creation"
)

// TaxonomyLevels returns all recognized cognitive levels, lowest first.
func TaxonomyLevels() []TaxonomyLevel {
	return []TaxonomyLevel{
		LevelRemembering, LevelUnderstanding, LevelApplication,
		LevelAnalysis, LevelEvaluation, LevelCreation,
	}
}

// ValidateTaxonomyLevel checks if a string names a recognized cognitive level.
// Matching is case-insensitive because levels come back embedded in model output.
func ValidateTaxonomyLevel(s string) (TaxonomyLevel, bool) {
	for _, level := range TaxonomyLevels() {
		if strings.EqualFold(s, string(level)) {
			return level, true
		}
	}
	return "", false
}

// ParseTaxonomyLevel parses a string into a TaxonomyLevel with validation.
func ParseTaxonomyLevel(s string) (TaxonomyLevel, error) {
	if level, ok := ValidateTaxonomyLevel(s); ok {
		return level, nil
	}
	return "", fmt.Errorf("unknown taxonomy level: %s", s)
}

// String returns the string representation of the level.
func (l TaxonomyLevel) String() string {
	return string(l)
}

// LearningObjective is a single objective tagged with its cognitive level.
type LearningObjective struct {
	Text  string        `json:"text"`
	Level TaxonomyLevel `json:"level"`
}

// CourseModule is one week/unit of a proposed course structure.
type CourseModule struct {
	Week       int        `json:"week"`
	Title      string     `json:"title"`
	Objective  string     `json:"objective"`
	Activities []string   `json:"activities,omitempty"`
	Assessment string     `json:"assessment,omitempty"`
	Resources  []Resource `json:"resources,omitempty"`
}

// Resource is a recommended learning resource for a module topic.
type Resource struct {
	Title       string `json:"title"`
	Type        string `json:"type"` // reading, video, interactive
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Assessment item types.
const (
	ItemMCQ       = "mcq"
	ItemOpenEnded = "open_ended"
	ItemCaseStudy = "case_study"
)

// AssessmentItem is a generated question aligned with an objective.
type AssessmentItem struct {
	Question      string        `json:"question"`
	Type          string        `json:"type"` // mcq, open_ended, case_study
	Objective     string        `json:"objective"`
	Level         TaxonomyLevel `json:"level"`
	Options       []MCQOption   `json:"options,omitempty"`        // mcq only
	CorrectAnswer string        `json:"correct_answer,omitempty"` // mcq only
	Rubric        string        `json:"rubric,omitempty"`         // open_ended only
	CaseText      string        `json:"case_text,omitempty"`      // case_study only
}

// MCQOption is one choice of a multiple-choice question.
type MCQOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Artifact is the structured output of a specialized agent for one turn.
// Exactly one of the typed fields is populated, matching the producing agent.
type Artifact struct {
	AgentID    AgentID             `json:"agent_id"`
	Text       string              `json:"text"` // Conversational response shown to the user
	Objectives []LearningObjective `json:"objectives,omitempty"`
	Modules    []CourseModule      `json:"modules,omitempty"`
	Items      []AssessmentItem    `json:"items,omitempty"`
}

// HasStructuredContent reports whether the artifact carries more than plain text.
func (a *Artifact) HasStructuredContent() bool {
	return len(a.Objectives) > 0 || len(a.Modules) > 0 || len(a.Items) > 0
}
