package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Group drives a node's listeners as one unit. It satisfies
// failure.Stoppable and failure.Pausable so a reaction can halt the whole
// node.
type Group struct {
	listeners []Listener
	doneOnce  sync.Once
	done      chan struct{}
}

func NewGroup(listeners ...Listener) *Group {
	return &Group{listeners: listeners, done: make(chan struct{})}
}

func (g *Group) Listeners() []Listener {
	return g.listeners
}

// Start starts every listener. On the first failure the ones already started
// are stopped again.
func (g *Group) Start(ctx context.Context) error {
	for i, l := range g.listeners {
		if err := l.Start(ctx); err != nil {
			for _, started := range g.listeners[:i] {
				started.Stop(err)
			}
			return fmt.Errorf("start listener %s: %w", l.Name(), err)
		}
	}
	return nil
}

// Ready joins the reasons of every listener that is not consuming.
func (g *Group) Ready() error {
	if len(g.listeners) == 0 {
		return errors.New("no listeners configured")
	}
	var errs []error
	for _, l := range g.listeners {
		if err := l.Ready(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group) SetGracePeriod(d time.Duration) {
	for _, l := range g.listeners {
		l.SetGracePeriod(d)
	}
}

func (g *Group) Stop(cause error) {
	for _, l := range g.listeners {
		l.Stop(cause)
	}
}

func (g *Group) Pause(cause error) {
	for _, l := range g.listeners {
		l.Pause(cause)
	}
}

// Done closes once every listener is done.
func (g *Group) Done() <-chan struct{} {
	g.doneOnce.Do(func() {
		go func() {
			for _, l := range g.listeners {
				<-l.Done()
			}
			close(g.done)
		}()
	})
	return g.done
}
