package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/planforge/planforge/internal/plan"
)

// Report is the human-facing quality summary attached to the terminal
// workflow event.
type Report struct {
	Overall         float64
	PerModel        map[string]float64
	Dimensions      map[string]map[plan.Dimension]float64
	Recommendations []string
}

// maxRecommendations caps the recommendation list at the most common
// weaknesses.
const maxRecommendations = 5

// BuildReport assembles the final quality report from the last snapshot
// and the last round's critiques. Recommendations surface weaknesses
// that more than one critic flagged.
func BuildReport(snap Snapshot, critiques []plan.CritiqueReport) Report {
	r := Report{
		Overall:    snap.Aggregate,
		PerModel:   make(map[string]float64, len(snap.PerModel)),
		Dimensions: make(map[string]map[plan.Dimension]float64, len(snap.PerModelDimensions)),
	}
	for id, s := range snap.PerModel {
		r.PerModel[id] = s
	}
	for id, dims := range snap.PerModelDimensions {
		cp := make(map[plan.Dimension]float64, len(dims))
		for d, v := range dims {
			cp[d] = v
		}
		r.Dimensions[id] = cp
	}
	r.Recommendations = commonWeaknesses(critiques)
	return r
}

// commonWeaknesses returns weaknesses cited by at least two critics,
// most-cited first.
func commonWeaknesses(critiques []plan.CritiqueReport) []string {
	counts := make(map[string]int)
	for _, c := range critiques {
		seen := make(map[string]bool, len(c.Weaknesses))
		for _, w := range c.Weaknesses {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			counts[w]++
		}
	}

	type weighted struct {
		text  string
		count int
	}
	var ranked []weighted
	for w, n := range counts {
		if n >= 2 {
			ranked = append(ranked, weighted{text: w, count: n})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].text < ranked[j].text
	})

	var out []string
	for _, w := range ranked {
		out = append(out, fmt.Sprintf("Address: %s", w.text))
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}
