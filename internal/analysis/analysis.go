// Package analysis implements the cross-analysis step: every model
// critiques the other models' current plans and scores them on the
// fixed five quality dimensions.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/plan"
)

// Generator is the gateway surface the analysis step needs.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

// Step runs cross-model analysis over committed plans.
type Step struct {
	gen         Generator
	maxParallel int
}

// NewStep creates an analysis step on the given generator.
func NewStep(gen Generator) *Step {
	return &Step{gen: gen, maxParallel: 4}
}

// Analyze produces critiques for each target model, keyed by target and
// ordered by author. Every configured model authors one critique per
// other model whose plan is usable; an author never sees or scores its
// own plan. A model with a failed own plan still participates as a
// critic. Per-pair call failures are absorbed: the pair is skipped with
// a warning and the round continues.
func (s *Step) Analyze(ctx context.Context, plans map[string]plan.ModelPlan) map[string][]plan.CritiqueReport {
	authors := make([]string, 0, len(plans))
	for id := range plans {
		authors = append(authors, id)
	}
	sort.Strings(authors)

	type pair struct{ author, target string }
	var pairs []pair
	for _, author := range authors {
		for _, target := range authors {
			if target == author {
				continue
			}
			if !plans[target].Usable() {
				continue
			}
			pairs = append(pairs, pair{author: author, target: target})
		}
	}

	var mu sync.Mutex
	byTarget := make(map[string][]plan.CritiqueReport)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for _, p := range pairs {
		p := p
		g.Go(func() error {
			prompt := buildCritiquePrompt(p.author, plans[p.target])

			raw, err := s.gen.Generate(ctx, p.author, prompt)
			if err != nil {
				slog.Warn("cross-analysis call failed, skipping pair",
					"author", p.author, "target", p.target, "error", err)
				return nil
			}

			critique := parseCritique(raw, p.author, p.target)
			mu.Lock()
			byTarget[p.target] = append(byTarget[p.target], critique)
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; Wait is the phase barrier.
	_ = g.Wait()

	for target := range byTarget {
		reports := byTarget[target]
		sort.Slice(reports, func(i, j int) bool {
			return reports[i].Author < reports[j].Author
		})
		byTarget[target] = reports
	}
	return byTarget
}

// buildCritiquePrompt asks author to evaluate target's plan. The prompt
// never includes the author's own plan.
func buildCritiquePrompt(author string, target plan.ModelPlan) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are %s, reviewing a lesson plan written by another model (%s).\n\n", author, target.ModelID))
	sb.WriteString("Lesson plan under review:\n")
	sb.WriteString(target.RawText)
	sb.WriteString("\n\n")
	sb.WriteString("Evaluate the plan. Respond with a single JSON object:\n")
	sb.WriteString(`{
  "feedback": "free-text critique with concrete improvement guidance",
  "strengths": ["..."],
  "weaknesses": ["..."],
  "suggestions": ["..."],
  "scores": {
    "curriculum_alignment": 0.0,
    "engagement_factor": 0.0,
    "assessment_quality": 0.0,
    "innovation_score": 0.0,
    "practicality": 0.0
  }
}`)
	sb.WriteString("\nEvery score must be a number between 0 and 1.")

	return sb.String()
}
