// Package improve implements the plan improvement step: a model revises
// its own plan against the critiques the other models aimed at it.
package improve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/planforge/planforge/internal/plan"
)

// Generator is the gateway surface the improvement step needs.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

// Step revises plans from critique feedback.
type Step struct {
	gen Generator
}

// NewStep creates an improvement step on the given generator.
func NewStep(gen Generator) *Step {
	return &Step{gen: gen}
}

// Improve produces the next-round version of a plan from the critiques
// targeting it. The prior version is never mutated. Callers skip this
// step for plans with no non-empty critiques; passing none is an error.
func (s *Step) Improve(ctx context.Context, round int, current plan.ModelPlan, critiques []plan.CritiqueReport) (plan.ModelPlan, error) {
	feedback := collectFeedback(current.ModelID, critiques)
	if feedback == "" {
		return plan.ModelPlan{}, fmt.Errorf("improve %s: no critiques to apply", current.ModelID)
	}

	prompt := buildImprovePrompt(current, feedback)
	raw, err := s.gen.Generate(ctx, current.ModelID, prompt)
	if err != nil {
		return plan.ModelPlan{}, fmt.Errorf("improve %s: %w", current.ModelID, err)
	}

	next := plan.ModelPlan{
		ModelID:            current.ModelID,
		Round:              round,
		RawText:            raw,
		ImprovementApplied: true,
	}
	fields, err := plan.ParseFields(raw)
	if err == nil {
		next.Fields = fields
	}
	return next, nil
}

// collectFeedback concatenates non-empty critique feedback, ordered by
// author model ID ascending so repeated runs build identical prompts.
func collectFeedback(modelID string, critiques []plan.CritiqueReport) string {
	ordered := make([]plan.CritiqueReport, 0, len(critiques))
	for _, c := range critiques {
		if c.Target == modelID && !c.Empty() {
			ordered = append(ordered, c)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Author < ordered[j].Author
	})

	var sb strings.Builder
	for _, c := range ordered {
		sb.WriteString(fmt.Sprintf("Feedback from %s:\n%s\n\n", c.Author, c.Feedback))
	}
	return strings.TrimSpace(sb.String())
}

func buildImprovePrompt(current plan.ModelPlan, feedback string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are %s. Improve your lesson plan using the reviewer feedback below.\n\n", current.ModelID))

	sb.WriteString("Current plan:\n")
	if fieldsJSON, err := json.MarshalIndent(current.Fields, "", "  "); err == nil && !current.Fields.IsEmpty() {
		sb.Write(fieldsJSON)
	} else {
		sb.WriteString(current.RawText)
	}
	sb.WriteString("\n\n")

	sb.WriteString("Reviewer feedback:\n")
	sb.WriteString(feedback)
	sb.WriteString("\n\n")

	sb.WriteString("Address the feedback while keeping what already works. ")
	sb.WriteString("Respond with a single JSON object:\n")
	sb.WriteString(`{
  "objectives": ["..."],
  "activities": [{"name": "...", "duration": 10}],
  "assessment": {"method": "description"},
  "differentiation": "..."
}`)

	return sb.String()
}
