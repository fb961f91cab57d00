package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"safetybuddy/internal/classifier"
	"safetybuddy/internal/stress"
)

func TestFuseKeywordFearHighStress(t *testing.T) {
	got := Fuse(Signals{
		KeywordHit: true,
		Affect:     classifier.Result{Label: "fear", Score: 0.8},
		Context:    classifier.Result{Label: "joy", Score: 0.9},
		Stress:     stress.Assessment{Score: 0.7, Level: stress.LevelHigh},
	})

	assert.Equal(t, 88, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
	assert.Equal(t, []string{"SOS keyword detected", "Emotion=fear (0.8)", "Stress=HIGH"}, got.Reasons)
	assert.Equal(t, "SOS keyword detected; Emotion=fear (0.8); Stress=HIGH", got.Reasoning())
}

func TestFuseNeutralIsLow(t *testing.T) {
	got := Fuse(Signals{
		Affect:  classifier.Result{Label: "neutral", Score: 0.99},
		Context: classifier.Result{Label: "neutral", Score: 0.99},
		Stress:  stress.Assessment{Level: stress.LevelLow},
	})

	assert.Zero(t, got.Score)
	assert.Equal(t, LevelLow, got.Level)
	assert.Empty(t, got.Reasons)
	assert.False(t, got.Level.ShouldAlert())
}

func TestFuseLabelsAreCaseInsensitive(t *testing.T) {
	got := Fuse(Signals{
		Affect:  classifier.Result{Label: "SADNESS", Score: 0.6},
		Context: classifier.Result{Label: "Anger", Score: 0.5},
		Stress:  stress.Assessment{Level: stress.LevelMedium},
	})

	// 21 + 12 + 15
	assert.Equal(t, 48, got.Score)
	assert.Equal(t, LevelMedium, got.Level)
	assert.Equal(t, []string{"Emotion=SADNESS (0.6)", "Context=Anger (0.5)", "Stress=MEDIUM"}, got.Reasons)
}

func TestFuseStressErrorContributesNothing(t *testing.T) {
	got := Fuse(Signals{KeywordHit: true, Stress: stress.Assessment{Level: stress.LevelError, Err: "decode"}})
	assert.Equal(t, 30, got.Score)
	assert.Equal(t, LevelLow, got.Level)
}

func TestFuseClampsToMax(t *testing.T) {
	got := Fuse(Signals{
		KeywordHit: true,
		Affect:     classifier.Result{Label: "fear", Score: 1},
		Context:    classifier.Result{Label: "fear", Score: 1},
		Stress:     stress.Assessment{Level: stress.LevelHigh},
	})
	assert.Equal(t, MaxScore, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
}

func TestFuseIsBoundedAndConsistentAcrossInputs(t *testing.T) {
	labels := []string{"", "fear", "anger", "sadness", "joy", "neutral"}
	scores := []float64{0, 0.01, 0.33, 0.5, 0.6, 0.99, 1, 1.5, -0.2}
	levels := []stress.Level{stress.LevelLow, stress.LevelMedium, stress.LevelHigh, stress.LevelError}

	for _, kw := range []bool{false, true} {
		for _, al := range labels {
			for _, as := range scores {
				for _, cl := range labels {
					for _, lvl := range levels {
						in := Signals{
							KeywordHit: kw,
							Affect:     classifier.Result{Label: al, Score: as},
							Context:    classifier.Result{Label: cl, Score: as},
							Stress:     stress.Assessment{Level: lvl},
						}
						first := Fuse(in)
						assert.GreaterOrEqual(t, first.Score, 0)
						assert.LessOrEqual(t, first.Score, MaxScore)
						assert.Equal(t, LevelFor(first.Score), first.Level)
						assert.Equal(t, first, Fuse(in))
					}
				}
			}
		}
	}
}

func TestLevelForThresholds(t *testing.T) {
	cases := map[int]Level{0: LevelLow, 39: LevelLow, 40: LevelMedium, 69: LevelMedium, 70: LevelHigh, 100: LevelHigh}
	for score, want := range cases {
		assert.Equal(t, want, LevelFor(score), "score %d", score)
	}
}

func TestLevelPriorityAndAlerting(t *testing.T) {
	assert.Equal(t, 3, LevelHigh.Priority())
	assert.Equal(t, 2, LevelMedium.Priority())
	assert.Equal(t, 1, LevelLow.Priority())
	assert.True(t, LevelHigh.ShouldAlert())
	assert.True(t, LevelMedium.ShouldAlert())
	assert.False(t, LevelLow.ShouldAlert())
}
