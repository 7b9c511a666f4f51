// Package transport connects message handlers to a broker. Listeners consume
// one inbound destination with a fixed number of sequential handlers;
// publishers send encoded messages to a named destination.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
)

var (
	ErrNotStarted = errors.New("listener not started")
	ErrNoHandlers = errors.New("listener has no handlers")
)

// Handler consumes one message body. Returning an error asks the broker to
// redeliver when it supports that.
type Handler interface {
	nsq.Handler
	Handle(ctx context.Context, body []byte) error
}

// Listener is one inbound destination served by a set of handlers.
type Listener interface {
	Name() string
	Start(ctx context.Context) error
	// Ready returns nil while the listener is consuming, otherwise the reason
	// it is not.
	Ready() error
	SetGracePeriod(d time.Duration)
	Stop(cause error)
	Pause(cause error)
	Done() <-chan struct{}
}

// lifecycle holds the state shared by all listener implementations.
type lifecycle struct {
	mu      sync.Mutex
	started bool
	reason  error
	grace   time.Duration
	done    chan struct{}
	once    sync.Once
}

func (l *lifecycle) ready(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reason != nil {
		return fmt.Errorf("%s: %w", name, l.reason)
	}
	if !l.started {
		return fmt.Errorf("%s: %w", name, ErrNotStarted)
	}
	return nil
}

func (l *lifecycle) markStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
}

// halt records why consumption ended. It reports false when a reason was
// already recorded.
func (l *lifecycle) halt(cause error) bool {
	if cause == nil {
		cause = errors.New("stopped")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reason != nil {
		return false
	}
	l.reason = cause
	return true
}

func (l *lifecycle) SetGracePeriod(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grace = d
}

func (l *lifecycle) gracePeriod() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.grace
}

// finishWithin closes Done when drained fires or the grace period elapses,
// whichever comes first. A zero grace period waits for the drain.
func (l *lifecycle) finishWithin(drained <-chan struct{}) {
	var expired <-chan time.Time
	if grace := l.gracePeriod(); grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-drained:
	case <-expired:
	}
	l.closeDone()
}

func (l *lifecycle) closeDone() {
	l.once.Do(func() { close(l.done) })
}

func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}
