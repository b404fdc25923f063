package workflow

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/knowledge"
)

// buildGenerationPrompt produces the round-0 prompt. All models receive
// the same prompt; diversity comes from the models themselves. Recent
// insights from past sessions, when available, are appended as hints.
func buildGenerationPrompt(in SessionInput, insights []knowledge.Insight) string {
	var sb strings.Builder

	sb.WriteString("Create a complete lesson plan.\n\n")
	sb.WriteString(fmt.Sprintf("Subject: %s\n", in.Subject))
	sb.WriteString(fmt.Sprintf("Audience: %s\n", in.GradeBand))
	sb.WriteString("Learning objectives:\n")
	for _, obj := range in.Objectives {
		sb.WriteString(fmt.Sprintf("- %s\n", obj))
	}
	sb.WriteString("\n")

	if len(insights) > 0 {
		sb.WriteString("Lessons from previous planning sessions:\n")
		for _, ins := range insights {
			sb.WriteString(fmt.Sprintf("- %s\n", ins.Summary))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("The plan must cover objectives, timed activities, assessment methods, ")
	sb.WriteString("and differentiation strategies for mixed-ability classrooms. ")
	sb.WriteString("Respond with a single JSON object:\n")
	sb.WriteString(`{
  "objectives": ["..."],
  "activities": [{"name": "...", "duration": 10}],
  "assessment": {"method": "description"},
  "differentiation": "..."
}`)

	return sb.String()
}
