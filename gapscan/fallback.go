package gapscan

import (
	"context"
	"log/slog"
)

// fallbackAnalyzer degrades from the primary to the fallback analyzer when
// the primary fails. Degradation is recorded as a recommendation on the
// result, never silently swallowed.
type fallbackAnalyzer struct {
	primary  Analyzer
	fallback Analyzer
	logger   *slog.Logger
}

// WithFallback wraps primary so that any error (timeout, transport failure,
// malformed response) routes the analysis to fallback instead. Context
// cancellation is not degraded: it means the caller gave up, not that the
// primary failed.
func WithFallback(primary, fallback Analyzer, logger *slog.Logger) Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		return fallback
	}
	return &fallbackAnalyzer{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackAnalyzer) Analyze(ctx context.Context, ev *Evidence) (*Result, error) {
	res, err := f.primary.Analyze(ctx, ev)
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return nil, err
	}

	f.logger.WarnContext(ctx, "gapscan: model-assisted analysis failed, degrading to heuristic",
		"error", err)

	res, ferr := f.fallback.Analyze(ctx, ev)
	if ferr != nil {
		return nil, ferr
	}

	out := *res
	out.Recommendations = append(append([]string(nil), res.Recommendations...),
		"model-assisted analysis was unavailable ("+err.Error()+"); this verdict is heuristic-only")
	return &out, nil
}
