package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCommitAndCurrent(t *testing.T) {
	s := NewStore([]string{"beta", "alpha"})

	assert.Equal(t, []string{"alpha", "beta"}, s.Models())

	_, ok := s.Current("alpha")
	assert.False(t, ok)

	require.NoError(t, s.Commit(ModelPlan{ModelID: "alpha", Round: 0, RawText: "v0"}))
	require.NoError(t, s.Commit(ModelPlan{ModelID: "alpha", Round: 1, RawText: "v1", ImprovementApplied: true}))

	cur, ok := s.Current("alpha")
	require.True(t, ok)
	assert.Equal(t, "v1", cur.RawText)
	assert.True(t, cur.ImprovementApplied)

	// Earlier versions stay addressable.
	v0, ok := s.AtRound("alpha", 0)
	require.True(t, ok)
	assert.Equal(t, "v0", v0.RawText)

	assert.Len(t, s.History("alpha"), 2)
}

func TestStoreRejectsUnknownModel(t *testing.T) {
	s := NewStore([]string{"alpha"})
	err := s.Commit(ModelPlan{ModelID: "stranger"})
	assert.Error(t, err)
}

func TestStoreCurrentAllSkipsEmptyHistories(t *testing.T) {
	s := NewStore([]string{"alpha", "beta"})
	require.NoError(t, s.Commit(ModelPlan{ModelID: "alpha", RawText: "plan"}))

	all := s.CurrentAll()
	require.Len(t, all, 1)
	assert.Contains(t, all, "alpha")
}

func TestStoreReadsAreIsolatedCopies(t *testing.T) {
	s := NewStore([]string{"alpha"})
	require.NoError(t, s.Commit(ModelPlan{
		ModelID: "alpha",
		RawText: "plan",
		Fields: Fields{
			Objectives: []string{"original"},
			Assessment: map[string]string{"quiz": "short"},
		},
		SubScores: map[Dimension]float64{DimPracticality: 0.5},
	}))

	got, ok := s.Current("alpha")
	require.True(t, ok)
	got.Fields.Objectives[0] = "mutated"
	got.Fields.Assessment["quiz"] = "mutated"
	got.SubScores[DimPracticality] = 0.0

	again, _ := s.Current("alpha")
	assert.Equal(t, "original", again.Fields.Objectives[0])
	assert.Equal(t, "short", again.Fields.Assessment["quiz"])
	assert.InDelta(t, 0.5, again.SubScores[DimPracticality], 1e-9)
}

func TestStoreAtRoundPicksLatestNotAfter(t *testing.T) {
	s := NewStore([]string{"alpha"})
	require.NoError(t, s.Commit(ModelPlan{ModelID: "alpha", Round: 0, RawText: "v0"}))
	require.NoError(t, s.Commit(ModelPlan{ModelID: "alpha", Round: 2, RawText: "v2"}))

	p, ok := s.AtRound("alpha", 1)
	require.True(t, ok)
	assert.Equal(t, "v0", p.RawText)

	p, ok = s.AtRound("alpha", 5)
	require.True(t, ok)
	assert.Equal(t, "v2", p.RawText)

	_, ok = s.AtRound("alpha", -1)
	assert.False(t, ok)
}
