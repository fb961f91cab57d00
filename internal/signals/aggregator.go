package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"safetybuddy/internal/classifier"
)

var ErrNoChunks = errors.New("no transcript text to classify")

// Report describes classifier failures; a nil error means at least one chunk
// was classified by that classifier.
type Report struct {
	AffectErr       error
	ContextErr      error
	FailedAffect    int
	FailedContext   int
	ChunksEvaluated int
}

type Aggregator struct {
	affect      classifier.Classifier
	context     classifier.Classifier
	concurrency int
	logger      *slog.Logger
}

func NewAggregator(affect, situational classifier.Classifier, concurrency int, logger *slog.Logger) *Aggregator {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		affect:      affect,
		context:     situational,
		concurrency: concurrency,
		logger:      logger,
	}
}

type chunkResult struct {
	result classifier.Result
	err    error
}

// ClassifyAll runs both classifiers over every chunk and keeps, per
// classifier, the highest scoring chunk result (first chunk wins ties).
func (a *Aggregator) ClassifyAll(ctx context.Context, chunks []string) (classifier.Result, classifier.Result, Report) {
	report := Report{ChunksEvaluated: len(chunks)}
	if len(chunks) == 0 {
		report.AffectErr = ErrNoChunks
		report.ContextErr = ErrNoChunks
		return classifier.Result{}, classifier.Result{}, report
	}

	affect := make([]chunkResult, len(chunks))
	contextual := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := a.affect.Classify(gctx, chunk)
			affect[i] = chunkResult{result: res, err: err}
			return nil
		})
		g.Go(func() error {
			res, err := a.context.Classify(gctx, chunk)
			contextual[i] = chunkResult{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	topAffect, failed, err := pickTop(affect)
	report.FailedAffect = failed
	if err != nil {
		report.AffectErr = fmt.Errorf("affect classifier: %w", err)
		a.logger.Warn("affect classification degraded", "chunks", len(chunks), "failed", failed, "error", err)
	}
	topContext, failed, err := pickTop(contextual)
	report.FailedContext = failed
	if err != nil {
		report.ContextErr = fmt.Errorf("context classifier: %w", err)
		a.logger.Warn("context classification degraded", "chunks", len(chunks), "failed", failed, "error", err)
	}

	return topAffect.Rounded(), topContext.Rounded(), report
}

func pickTop(results []chunkResult) (classifier.Result, int, error) {
	var (
		best    classifier.Result
		found   bool
		failed  int
		lastErr error
	)
	for _, r := range results {
		if r.err != nil {
			failed++
			lastErr = r.err
			continue
		}
		if !found || r.result.Score > best.Score {
			best = r.result
			found = true
		}
	}
	if !found {
		return classifier.Result{}, failed, lastErr
	}
	return best, failed, nil
}
