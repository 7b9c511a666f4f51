package failure

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaction is a node action taken when a component becomes unavailable.
type Reaction interface {
	React(ctx context.Context, cause *UnavailableError)
}

type ReactionFunc func(ctx context.Context, cause *UnavailableError)

func (f ReactionFunc) React(ctx context.Context, cause *UnavailableError) {
	f(ctx, cause)
}

// ExecContext selects the goroutine a reaction runs on. Stopping a consumer
// from the goroutine that is handling a message lets that message finish
// (and be acknowledged) before the consumer closes; stopping from a separate
// goroutine can additionally wait for the drain to complete.
type ExecContext int

const (
	// ExecInline runs on the caller's goroutine and only initiates the stop.
	ExecInline ExecContext = iota
	// ExecDetached runs on a new goroutine and waits for the drain.
	ExecDetached
)

func (e ExecContext) String() string {
	if e == ExecDetached {
		return "detached"
	}
	return "inline"
}

// Stoppable is a message consumer that can stop taking work.
type Stoppable interface {
	// SetGracePeriod bounds how long in-flight work may take to drain.
	SetGracePeriod(d time.Duration)
	// Stop stops consumption without blocking.
	Stop(cause error)
	// Done is closed once consumption has fully stopped.
	Done() <-chan struct{}
}

// Pausable is a consumer that can stop accepting new work while staying
// connected.
type Pausable interface {
	Pause(cause error)
}

// StopReaction halts consumption on Target. It fires at most once.
type StopReaction struct {
	Target Stoppable
	Grace  time.Duration
	Delay  time.Duration
	Exec   ExecContext
	Logger *slog.Logger

	once sync.Once
}

func (r *StopReaction) React(ctx context.Context, cause *UnavailableError) {
	r.once.Do(func() {
		r.Target.SetGracePeriod(r.Grace)
		if r.Exec == ExecDetached {
			go r.stop(context.WithoutCancel(ctx), cause, true)
			return
		}
		r.stop(ctx, cause, false)
	})
}

func (r *StopReaction) stop(ctx context.Context, cause *UnavailableError, wait bool) {
	logger := r.logger()
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	logger.WarnContext(ctx, "stopping message consumption",
		"cause", cause.Error(), "component", cause.Component,
		"grace", r.Grace, "exec", r.Exec.String())
	r.Target.Stop(cause)

	if !wait {
		return
	}
	var timeout <-chan time.Time
	if r.Grace > 0 {
		t := time.NewTimer(r.Grace)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-r.Target.Done():
		logger.InfoContext(ctx, "message consumption stopped")
	case <-timeout:
		logger.WarnContext(ctx, "grace period elapsed before consumers drained", "grace", r.Grace)
	}
}

func (r *StopReaction) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// PauseReaction sheds load by pausing Target. It fires at most once.
type PauseReaction struct {
	Target Pausable
	Logger *slog.Logger

	once sync.Once
}

func (r *PauseReaction) React(ctx context.Context, cause *UnavailableError) {
	r.once.Do(func() {
		logger := r.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "pausing message consumption", "cause", cause.Error(), "component", cause.Component)
		r.Target.Pause(cause)
	})
}
