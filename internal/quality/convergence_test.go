package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyOf(aggregates ...float64) *History {
	h := NewHistory()
	for i, a := range aggregates {
		h.Append(Snapshot{Round: i + 1, Aggregate: a})
	}
	return h
}

func TestConvergedRequiresThreeRounds(t *testing.T) {
	assert.False(t, historyOf().Converged())
	assert.False(t, historyOf(0.70).Converged())
	assert.False(t, historyOf(0.70, 0.701).Converged())
}

func TestConvergedOnPlateau(t *testing.T) {
	tests := []struct {
		name       string
		aggregates []float64
		want       bool
	}{
		{"flat tail", []float64{0.70, 0.705, 0.709}, true},
		{"still climbing", []float64{0.50, 0.65, 0.82}, false},
		{"one big delta breaks it", []float64{0.70, 0.72, 0.721}, false},
		{"plateau after climb", []float64{0.40, 0.60, 0.75, 0.752, 0.753}, true},
		{"delta exactly epsilon", []float64{0.70, 0.71, 0.715}, false},
		{"oscillation within epsilon", []float64{0.70, 0.705, 0.701}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, historyOf(tt.aggregates...).Converged())
		})
	}
}

func TestHistoryLastAndAll(t *testing.T) {
	h := NewHistory()
	_, ok := h.Last()
	assert.False(t, ok)

	h.Append(Snapshot{Round: 1, Aggregate: 0.5})
	h.Append(Snapshot{Round: 2, Aggregate: 0.6})

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Round)

	all := h.All()
	require.Len(t, all, 2)

	// Mutating the returned slice must not affect the history.
	all[0].Aggregate = 0.99
	fresh := h.All()
	assert.InDelta(t, 0.5, fresh[0].Aggregate, 1e-9)
}
