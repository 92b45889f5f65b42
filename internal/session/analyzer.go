package session

import (
	"context"

	"github.com/rbright/argus/internal/stats"
)

// Analyzer runs the analysis for one input and reports phase timings to sink.
type Analyzer interface {
	Process(ctx context.Context, input string, sink stats.Sink) (Outcome, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(context.Context, string, stats.Sink) (Outcome, error)

func (f AnalyzerFunc) Process(ctx context.Context, input string, sink stats.Sink) (Outcome, error) {
	return f(ctx, input, sink)
}
