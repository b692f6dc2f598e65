// Package guardrail validates agent artifacts before they commit. A failed
// check does not end the turn; the orchestrator feeds the failure message
// back to the agent for one corrective retry.
package guardrail

import (
	"fmt"
	"strings"

	"pedagogue/pkg/proto"
)

// Result is the outcome of running the rule set against an artifact.
type Result struct {
	Passed  bool
	RuleID  string
	Message string
}

// Rule is one validation check. captured holds the learning objectives the
// session has already accepted, so rules can check artifacts against prior
// turns' output. Apply returns an empty string on pass, or a human-readable
// failure message.
type Rule struct {
	ID    string
	Apply func(artifact *proto.Artifact, captured []proto.LearningObjective) string
}

// Validator runs an ordered rule set.
type Validator struct {
	rules []Rule
}

// NewValidator creates a validator with the default rule set.
func NewValidator() *Validator {
	return &Validator{rules: defaultRules()}
}

// NewValidatorWithRules creates a validator with a custom rule set.
func NewValidatorWithRules(rules []Rule) *Validator {
	return &Validator{rules: rules}
}

// Validate runs every rule and returns the first failure, or a passing
// result. A nil artifact passes; there is nothing to check.
func (v *Validator) Validate(artifact *proto.Artifact, captured []proto.LearningObjective) Result {
	if artifact == nil {
		return Result{Passed: true}
	}
	for _, rule := range v.rules {
		if msg := rule.Apply(artifact, captured); msg != "" {
			return Result{Passed: false, RuleID: rule.ID, Message: msg}
		}
	}
	return Result{Passed: true}
}

func defaultRules() []Rule {
	return []Rule{
		{ID: "objective-cites-level", Apply: objectiveCitesLevel},
		{ID: "assessment-references-objective", Apply: assessmentReferencesObjective},
		{ID: "taxonomy-balance", Apply: taxonomyBalance},
	}
}

// objectiveCitesLevel requires every learning objective to carry a valid
// cognitive level.
func objectiveCitesLevel(artifact *proto.Artifact, _ []proto.LearningObjective) string {
	for i, obj := range artifact.Objectives {
		if _, ok := proto.ValidateTaxonomyLevel(string(obj.Level)); !ok {
			return fmt.Sprintf("objective %d (%q) does not cite a valid cognitive level", i+1, obj.Text)
		}
	}
	return ""
}

// assessmentReferencesObjective requires every assessment item to name an
// objective the session knows about: one carried by the artifact itself or
// one captured in an earlier turn. Items are only checked once at least one
// objective exists to reference.
func assessmentReferencesObjective(artifact *proto.Artifact, captured []proto.LearningObjective) string {
	if len(artifact.Items) == 0 {
		return ""
	}
	known := make(map[string]bool, len(artifact.Objectives)+len(captured))
	for _, obj := range artifact.Objectives {
		known[strings.ToLower(strings.TrimSpace(obj.Text))] = true
	}
	for _, obj := range captured {
		known[strings.ToLower(strings.TrimSpace(obj.Text))] = true
	}
	if len(known) == 0 {
		return ""
	}
	for i, item := range artifact.Items {
		if !known[strings.ToLower(strings.TrimSpace(item.Objective))] {
			return fmt.Sprintf("assessment item %d does not reference a stated objective", i+1)
		}
	}
	return ""
}

// taxonomyBalance requires a full objective set to span at least four of the
// six cognitive levels. Sets smaller than four objectives are exempt; they
// cannot reach the threshold.
func taxonomyBalance(artifact *proto.Artifact, _ []proto.LearningObjective) string {
	if len(artifact.Objectives) < 4 {
		return ""
	}
	seen := make(map[proto.TaxonomyLevel]bool)
	for _, obj := range artifact.Objectives {
		if level, ok := proto.ValidateTaxonomyLevel(string(obj.Level)); ok {
			seen[level] = true
		}
	}
	if len(seen) < 4 {
		return fmt.Sprintf("objectives cover only %d of 6 cognitive levels; cover at least 4", len(seen))
	}
	return ""
}
