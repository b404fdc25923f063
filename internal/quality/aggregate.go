// Package quality scores critique reports into round-level quality
// snapshots and decides when the refinement loop has converged.
package quality

import (
	"math"
	"sort"

	"github.com/planforge/planforge/internal/plan"
)

// DefaultWeights is the fixed dimension weighting. Weights sum to 1.0;
// a missing dimension counts as zero toward the weighted sum rather than
// shrinking the denominator.
var DefaultWeights = map[plan.Dimension]float64{
	plan.DimCurriculumAlignment: 0.25,
	plan.DimEngagementFactor:    0.20,
	plan.DimAssessmentQuality:   0.20,
	plan.DimInnovationScore:     0.15,
	plan.DimPracticality:        0.20,
}

// Snapshot captures the quality of one completed round.
type Snapshot struct {
	// Round is the round this snapshot scores.
	Round int

	// Aggregate is the mean of per-model scores across all configured
	// models, in [0,1]. Models with no critiques targeting them (or a
	// failed generation) contribute zero: failures stay visible.
	Aggregate float64

	// PerModel maps each configured model to its received score.
	PerModel map[string]float64

	// PerModelDimensions breaks each model's score down by dimension
	// (the mean of that dimension across critiques targeting the model).
	PerModelDimensions map[string]map[plan.Dimension]float64
}

// Aggregator combines critique dimension scores into round snapshots.
type Aggregator struct {
	weights map[plan.Dimension]float64
}

// NewAggregator creates an aggregator with the default weights.
func NewAggregator() *Aggregator {
	return &Aggregator{weights: DefaultWeights}
}

// Weights returns the dimension weighting in use.
func (a *Aggregator) Weights() map[plan.Dimension]float64 {
	out := make(map[plan.Dimension]float64, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

// Score computes the quality snapshot for a round. modelIDs is the full
// configured model set: every configured model appears in PerModel even
// when nothing targeted it, so one dead model pulls the average down
// instead of silently vanishing from it.
func (a *Aggregator) Score(round int, modelIDs []string, critiques []plan.CritiqueReport) Snapshot {
	snap := Snapshot{
		Round:              round,
		PerModel:           make(map[string]float64, len(modelIDs)),
		PerModelDimensions: make(map[string]map[plan.Dimension]float64, len(modelIDs)),
	}

	byTarget := make(map[string][]plan.CritiqueReport)
	for _, c := range critiques {
		byTarget[c.Target] = append(byTarget[c.Target], c)
	}

	ids := append([]string(nil), modelIDs...)
	sort.Strings(ids)

	var sum float64
	for _, id := range ids {
		targeting := byTarget[id]
		dims := a.dimensionMeans(targeting)
		snap.PerModelDimensions[id] = dims

		score := 0.0
		if len(targeting) > 0 {
			score = a.weighted(dims)
		}
		snap.PerModel[id] = clamp01(score)
		sum += snap.PerModel[id]
	}

	if len(ids) > 0 {
		snap.Aggregate = clamp01(sum / float64(len(ids)))
	}
	return snap
}

// dimensionMeans averages each dimension across all critiques targeting
// one model. With no critiques every dimension is zero.
func (a *Aggregator) dimensionMeans(critiques []plan.CritiqueReport) map[plan.Dimension]float64 {
	dims := make(map[plan.Dimension]float64, len(plan.Dimensions))
	for _, d := range plan.Dimensions {
		dims[d] = 0
	}
	if len(critiques) == 0 {
		return dims
	}
	for _, c := range critiques {
		for _, d := range plan.Dimensions {
			dims[d] += clamp01(c.Scores[d])
		}
	}
	n := float64(len(critiques))
	for _, d := range plan.Dimensions {
		dims[d] /= n
	}
	return dims
}

// weighted folds dimension means into one scalar. The denominator is the
// total weight (1.0), never the sum of weights that happened to be present.
func (a *Aggregator) weighted(dims map[plan.Dimension]float64) float64 {
	var sum float64
	for d, w := range a.weights {
		sum += dims[d] * w
	}
	return sum
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
