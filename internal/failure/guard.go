package failure

import (
	"context"
	"log/slog"
	"sync"
)

// Guard is the single per-node handler for the unavailable signal. Any
// component that sees an error may hand it to Notify; only errors carrying an
// UnavailableError trigger the registered reactions.
type Guard struct {
	mu        sync.RWMutex
	reactions []Reaction
	observe   func(component string)
	logger    *slog.Logger
}

type GuardOption func(*Guard)

// WithObserver installs a callback invoked for every signal, before reactions
// run. Used for counting.
func WithObserver(fn func(component string)) GuardOption {
	return func(g *Guard) { g.observe = fn }
}

func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Register(r Reaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, r)
}

// Notify reacts to err if it carries the unavailable signal and reports
// whether it did. Safe to call with nil and from any goroutine.
func (g *Guard) Notify(ctx context.Context, err error) bool {
	if g == nil {
		return false
	}
	ue, ok := AsUnavailable(err)
	if !ok {
		return false
	}

	g.logger.ErrorContext(ctx, "component unavailable", "component", ue.Component, "error", ue.Error())
	if g.observe != nil {
		g.observe(ue.Component)
	}

	g.mu.RLock()
	reactions := make([]Reaction, len(g.reactions))
	copy(reactions, g.reactions)
	g.mu.RUnlock()

	for _, r := range reactions {
		r.React(ctx, ue)
	}
	return true
}
