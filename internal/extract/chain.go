package extract

import (
	"context"
	"log/slog"

	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/observability"
)

// Chain composes a primary extractor with a deterministic fallback. Primary
// failure is recorded and absorbed; the chain itself only fails if the
// fallback does, and the rule-based fallback never does.
type Chain struct {
	Primary  Extractor
	Fallback Extractor
	Logger   *slog.Logger
}

func (c *Chain) Extract(ctx context.Context, req Request) (models.RideDetails, error) {
	if c.Primary != nil {
		d, err := c.Primary.Extract(ctx, req)
		if err == nil {
			return d, nil
		}
		observability.ExtractionFailures.Inc()
		c.Logger.Warn("primary extraction failed, using fallback", "error", err)
	}
	return c.Fallback.Extract(ctx, req)
}

// ClassifierChain applies the same primary-then-fallback strategy to intent
// classification. Low-confidence primary answers are re-checked against the
// keyword classifier, which wins when it finds a signal.
type ClassifierChain struct {
	Primary       Classifier
	Fallback      Classifier
	MinConfidence float64
	Logger        *slog.Logger
}

func (c *ClassifierChain) Classify(ctx context.Context, message string) (Classification, error) {
	if c.Primary == nil {
		return c.Fallback.Classify(ctx, message)
	}
	cl, err := c.Primary.Classify(ctx, message)
	if err != nil {
		observability.ExtractionFailures.Inc()
		c.Logger.Warn("primary classification failed, using fallback", "error", err)
		return c.Fallback.Classify(ctx, message)
	}
	if cl.Confidence < c.MinConfidence {
		if fb, ferr := c.Fallback.Classify(ctx, message); ferr == nil && fb.Intent != models.IntentOther {
			return fb, nil
		}
	}
	return cl, nil
}
