package analysis

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/planforge/planforge/internal/plan"
)

// parseCritique extracts a CritiqueReport from raw model output. The
// response may wrap its JSON in prose or markdown fences. Parsing is
// soft: a malformed or missing dimension score defaults to zero with a
// warning, and a completely unparsable response still yields a report
// carrying the raw text as feedback. Parse failures never fail a round.
func parseCritique(raw, author, target string) plan.CritiqueReport {
	critique := plan.CritiqueReport{
		Author: author,
		Target: target,
		Scores: make(map[plan.Dimension]float64, len(plan.Dimensions)),
	}
	for _, d := range plan.Dimensions {
		critique.Scores[d] = 0
	}

	body, ok := extractObject(raw)
	if !ok {
		slog.Warn("critique response had no JSON, keeping raw text",
			"author", author, "target", target)
		critique.Feedback = strings.TrimSpace(raw)
		return critique
	}

	critique.Feedback = strings.TrimSpace(gjson.Get(body, "feedback").String())
	if critique.Feedback == "" {
		critique.Feedback = strings.TrimSpace(raw)
	}
	critique.Strengths = stringList(gjson.Get(body, "strengths"))
	critique.Weaknesses = stringList(gjson.Get(body, "weaknesses"))
	critique.Suggestions = stringList(gjson.Get(body, "suggestions"))

	for _, d := range plan.Dimensions {
		v := gjson.Get(body, "scores."+string(d))
		if !v.Exists() || v.Type != gjson.Number {
			slog.Warn("critique missing dimension score, defaulting to 0",
				"author", author, "target", target, "dimension", string(d))
			continue
		}
		critique.Scores[d] = clamp01(v.Float())
	}

	return critique
}

func stringList(r gjson.Result) []string {
	var out []string
	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractObject returns the first balanced JSON object in s.
func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	body := s[start : end+1]
	if !gjson.Valid(body) {
		return "", false
	}
	return body, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
