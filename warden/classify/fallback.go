package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ircwarden/warden/warden/engine"
)

type fallbackClassifier struct {
	primary  engine.Classifier
	fallback engine.Classifier
	timeout  time.Duration
	logger   *slog.Logger
}

// Wraps primary so that an error, or no answer within timeout, is replaced by fallback's
// result. The fallback is not bounded by the timeout.
func WithFallback(primary, fallback engine.Classifier, timeout time.Duration, logger *slog.Logger) engine.Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackClassifier{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
	}
}

func (f *fallbackClassifier) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *fallbackClassifier) Classify(ctx context.Context, text string) (engine.ModerationResult, error) {
	pctx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	res, err := f.primary.Classify(pctx, text)
	if err == nil {
		return res, nil
	}
	classifierFallbackCount.WithLabelValues(f.primary.Name()).Inc()
	f.logger.Warn("classifier failed, using fallback", "primary", f.primary.Name(), "fallback", f.fallback.Name(), "err", err)
	return f.fallback.Classify(ctx, text)
}
