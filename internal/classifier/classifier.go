package classifier

import (
	"context"
	"math"
	"strings"
)

type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (r Result) IsZero() bool {
	return r.Label == "" && r.Score == 0
}

// Rounded returns r with the score rounded to two decimals.
func (r Result) Rounded() Result {
	r.Score = math.Round(r.Score*100) / 100
	return r
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

type Func func(ctx context.Context, text string) (Result, error)

func (f Func) Classify(ctx context.Context, text string) (Result, error) {
	return f(ctx, text)
}

// Top returns the highest scoring candidate, keeping the first on ties.
func Top(candidates []Result) (Result, bool) {
	if len(candidates) == 0 {
		return Result{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	best.Label = strings.TrimSpace(best.Label)
	return best, true
}
