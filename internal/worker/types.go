// Package worker runs work requests through strategies and reports their
// outcome as a sequence of replies.
package worker

import (
	"context"

	"worknode/internal/content"
	"worknode/internal/protocol"
)

// Strategy performs the work of one request kind. A Strategy instance is
// driven by a single dispatcher and never sees concurrent Work calls.
type Strategy[R protocol.Request] interface {
	Work(ctx context.Context, req R, progress Progress) ([]content.WorkResult, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc[R protocol.Request] func(ctx context.Context, req R, progress Progress) ([]content.WorkResult, error)

func (f StrategyFunc[R]) Work(ctx context.Context, req R, progress Progress) ([]content.WorkResult, error) {
	return f(ctx, req, progress)
}

// Progress receives fractional completion in [0,1]. Values outside the range
// are clamped and values lower than an earlier report are ignored.
type Progress interface {
	Report(fraction float64)
}

// Publisher sends an encoded message to a destination. Failures caused by an
// unreachable broker carry failure.UnavailableError.
type Publisher interface {
	Publish(topic string, body []byte) error
}
