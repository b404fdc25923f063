package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields(t *testing.T) {
	raw := `Here is the plan you asked for:
{
  "objectives": ["explain photosynthesis", "identify inputs and outputs"],
  "activities": [
    {"name": "leaf observation lab", "duration": 20},
    {"name": "diagram drawing", "duration": 15}
  ],
  "assessment": {"exit ticket": "three-question check for understanding"},
  "differentiation": "sentence starters for emerging writers"
}
Let me know if you want changes.`

	f, err := ParseFields(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"explain photosynthesis", "identify inputs and outputs"}, f.Objectives)
	require.Len(t, f.Activities, 2)
	assert.Equal(t, Activity{Name: "leaf observation lab", Duration: 20}, f.Activities[0])
	assert.Equal(t, "three-question check for understanding", f.Assessment["exit ticket"])
	assert.Equal(t, "sentence starters for emerging writers", f.Differentiation)
	assert.False(t, f.IsEmpty())
}

func TestParseFieldsNoJSON(t *testing.T) {
	_, err := ParseFields("a purely narrative lesson plan with no structure")
	assert.Error(t, err)
}

func TestParseFieldsEmptyObject(t *testing.T) {
	_, err := ParseFields(`{"unrelated": true}`)
	assert.Error(t, err)
}

func TestParseFieldsPartial(t *testing.T) {
	f, err := ParseFields(`{"objectives": ["one goal"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"one goal"}, f.Objectives)
	assert.Empty(t, f.Activities)
	assert.Empty(t, f.Differentiation)
}

func TestParseFieldsSkipsUnnamedActivities(t *testing.T) {
	f, err := ParseFields(`{"activities": [{"duration": 10}, {"name": "quiz", "duration": 5}]}`)
	require.NoError(t, err)
	require.Len(t, f.Activities, 1)
	assert.Equal(t, "quiz", f.Activities[0].Name)
}

func TestUsable(t *testing.T) {
	assert.True(t, ModelPlan{ModelID: "alpha", RawText: "content"}.Usable())
	assert.False(t, ModelPlan{ModelID: "alpha", RawText: "content", Failed: true}.Usable())
	assert.False(t, ModelPlan{ModelID: "alpha", RawText: "  "}.Usable())
}

func TestSelfScore(t *testing.T) {
	weights := map[Dimension]float64{
		DimCurriculumAlignment: 0.5,
		DimPracticality:        0.5,
	}
	p := ModelPlan{SubScores: map[Dimension]float64{
		DimCurriculumAlignment: 0.8,
		// practicality missing, counts zero
	}}
	assert.InDelta(t, 0.4, p.SelfScore(weights), 1e-9)
}
