// Package plan defines the lesson-plan data model shared by the workflow:
// per-model plan versions, cross-model critiques, and the scoring dimensions.
package plan

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Dimension identifies one axis of lesson-plan quality.
type Dimension string

const (
	DimCurriculumAlignment Dimension = "curriculum_alignment"
	DimEngagementFactor    Dimension = "engagement_factor"
	DimAssessmentQuality   Dimension = "assessment_quality"
	DimInnovationScore     Dimension = "innovation_score"
	DimPracticality        Dimension = "practicality"
)

// Dimensions is the fixed set of critique dimensions, in canonical order.
var Dimensions = []Dimension{
	DimCurriculumAlignment,
	DimEngagementFactor,
	DimAssessmentQuality,
	DimInnovationScore,
	DimPracticality,
}

// Activity is a single classroom activity with its time allocation.
type Activity struct {
	Name     string `json:"name" yaml:"name"`
	Duration int    `json:"duration" yaml:"duration"` // minutes
}

// Fields holds the structured portion of a lesson plan.
type Fields struct {
	Objectives      []string          `json:"objectives"`
	Activities      []Activity        `json:"activities"`
	Assessment      map[string]string `json:"assessment"`
	Differentiation string            `json:"differentiation"`
}

// IsEmpty reports whether no structured content was captured.
func (f Fields) IsEmpty() bool {
	return len(f.Objectives) == 0 && len(f.Activities) == 0 &&
		len(f.Assessment) == 0 && f.Differentiation == ""
}

// ModelPlan is one model's lesson-plan artifact at a point in time.
// A ModelPlan is immutable once produced; improvement creates a new
// version for the next round rather than mutating the prior one.
type ModelPlan struct {
	// ModelID is the backend that authored this plan.
	ModelID string

	// Round is the round in which this version was produced (0 = initial
	// generation).
	Round int

	// Fields is the structured plan content. Empty when generation failed.
	Fields Fields

	// RawText is the full model output the fields were parsed from.
	RawText string

	// SubScores holds the received per-dimension scores from the most
	// recent round that scored this plan. Populated by the aggregator.
	SubScores map[Dimension]float64

	// ImprovementApplied is true when this version was produced by the
	// improvement step rather than initial generation or carry-forward.
	ImprovementApplied bool

	// Failed marks a generation failure. A failed plan contributes a
	// score of zero; it is never hidden from the aggregate.
	Failed bool

	// FailureReason is the human-readable cause when Failed is set.
	FailureReason string
}

// Usable reports whether the plan has content another model can critique.
func (p ModelPlan) Usable() bool {
	return !p.Failed && strings.TrimSpace(p.RawText) != ""
}

// SelfScore is the weighted aggregate of the plan's received sub-scores,
// using the given weights. Missing dimensions count as zero.
func (p ModelPlan) SelfScore(weights map[Dimension]float64) float64 {
	var sum float64
	for dim, w := range weights {
		sum += p.SubScores[dim] * w
	}
	return sum
}

// CritiqueReport is one model's structured feedback on another model's plan.
// An author never critiques its own plan.
type CritiqueReport struct {
	Author   string
	Target   string
	Feedback string

	// Scores are the five dimension scores in [0,1]. A dimension the
	// author failed to report is present with value zero.
	Scores map[Dimension]float64

	// Structured feedback lists, when the author supplied them.
	Strengths   []string
	Weaknesses  []string
	Suggestions []string
}

// Empty reports whether the critique carries no usable feedback text.
func (c CritiqueReport) Empty() bool {
	return strings.TrimSpace(c.Feedback) == ""
}

// ParseFields extracts structured plan fields from raw model output.
// The output may wrap the JSON object in prose or markdown fences; the
// first balanced object is used. Parsing is tolerant: anything missing
// is left zero and the raw text remains the source of truth.
func ParseFields(raw string) (Fields, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Fields{}, fmt.Errorf("no JSON object in model output")
	}

	var f Fields
	for _, obj := range gjson.Get(body, "objectives").Array() {
		if s := strings.TrimSpace(obj.String()); s != "" {
			f.Objectives = append(f.Objectives, s)
		}
	}
	for _, act := range gjson.Get(body, "activities").Array() {
		name := strings.TrimSpace(act.Get("name").String())
		if name == "" {
			continue
		}
		f.Activities = append(f.Activities, Activity{
			Name:     name,
			Duration: int(act.Get("duration").Int()),
		})
	}
	if assess := gjson.Get(body, "assessment"); assess.IsObject() {
		f.Assessment = make(map[string]string)
		assess.ForEach(func(key, value gjson.Result) bool {
			f.Assessment[key.String()] = value.String()
			return true
		})
	}
	f.Differentiation = strings.TrimSpace(gjson.Get(body, "differentiation").String())

	if f.IsEmpty() {
		return Fields{}, fmt.Errorf("model output JSON has no plan fields")
	}
	return f, nil
}

// extractObject returns the first top-level JSON object in s.
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
