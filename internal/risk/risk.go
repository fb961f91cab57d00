// Package risk fuses keyword, affect, context and acoustic stress signals
// into a bounded risk score and level. Fuse is pure and deterministic.
package risk

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"safetybuddy/internal/classifier"
	"safetybuddy/internal/stress"
)

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	MaxScore = 100

	keywordPoints      = 30
	affectWeight       = 35
	contextWeight      = 25
	stressHighPoints   = 30
	stressMediumPoints = 15

	highThreshold   = 70
	mediumThreshold = 40
)

var distressLabels = map[string]struct{}{
	"fear":    {},
	"anger":   {},
	"sadness": {},
}

type Signals struct {
	KeywordHit bool
	Affect     classifier.Result
	Context    classifier.Result
	Stress     stress.Assessment
}

type Assessment struct {
	Score   int
	Level   Level
	Reasons []string
}

func (a Assessment) Reasoning() string {
	return strings.Join(a.Reasons, "; ")
}

func Fuse(s Signals) Assessment {
	score := 0
	reasons := make([]string, 0, 4)

	if s.KeywordHit {
		score += keywordPoints
		reasons = append(reasons, "SOS keyword detected")
	}
	if isDistress(s.Affect.Label) {
		score += weighted(s.Affect.Score, affectWeight)
		reasons = append(reasons, fmt.Sprintf("Emotion=%s (%s)", s.Affect.Label, formatScore(s.Affect.Score)))
	}
	if isDistress(s.Context.Label) {
		score += weighted(s.Context.Score, contextWeight)
		reasons = append(reasons, fmt.Sprintf("Context=%s (%s)", s.Context.Label, formatScore(s.Context.Score)))
	}
	switch s.Stress.Level {
	case stress.LevelHigh:
		score += stressHighPoints
		reasons = append(reasons, "Stress=HIGH")
	case stress.LevelMedium:
		score += stressMediumPoints
		reasons = append(reasons, "Stress=MEDIUM")
	}

	score = max(0, min(score, MaxScore))
	return Assessment{Score: score, Level: LevelFor(score), Reasons: reasons}
}

func LevelFor(score int) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (l Level) ShouldAlert() bool {
	return l == LevelHigh || l == LevelMedium
}

// Priority is the persisted triage priority: 3 for HIGH down to 1 for LOW.
func (l Level) Priority() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	default:
		return 1
	}
}

func isDistress(label string) bool {
	_, ok := distressLabels[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

// weighted floors score*weight. Scores are clamped to [0,1] and the small
// epsilon absorbs binary representation error (0.6*35 must give 21).
func weighted(score float64, weight int) int {
	score = math.Max(0, math.Min(score, 1))
	return int(math.Floor(score*float64(weight) + 1e-9))
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
