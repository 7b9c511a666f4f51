package worker

import (
	"sync"

	"worknode/internal/content"
	"worknode/internal/protocol"
)

// State is the lifecycle position of one work request.
type State int

const (
	StateDecoded State = iota
	StateStarted
	StateExecuting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateDecoded:
		return "decoded"
	case StateStarted:
		return "started"
	case StateExecuting:
		return "executing"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// execution owns the reply sequence of one request. Every reply leaves
// through emit, in order, while the lock is held; progress reports may
// therefore come from goroutines spawned by the strategy.
type execution struct {
	mu    sync.Mutex
	req   protocol.Request
	state State
	last  float64
	emit  func(protocol.Reply)
}

func newExecution(req protocol.Request, emit func(protocol.Reply)) *execution {
	return &execution{req: req, state: StateDecoded, last: -1, emit: emit}
}

func (e *execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// start acknowledges the request and moves to Executing.
func (e *execution) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDecoded {
		return
	}
	e.state = StateStarted
	e.emit(protocol.Started(e.req))
	e.state = StateExecuting
}

func (e *execution) Report(fraction float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting {
		return
	}
	fraction = clamp(fraction)
	if fraction < e.last {
		return
	}
	e.last = fraction
	e.emit(protocol.InProgress(e.req, fraction))
}

// complete and fail return false when the request was already terminal.
func (e *execution) complete(results []content.WorkResult) bool {
	return e.finish(protocol.Complete(e.req, results))
}

func (e *execution) fail(detail string) bool {
	return e.finish(protocol.Failed(e.req, detail))
}

func (e *execution) finish(reply protocol.Reply) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateTerminal {
		return false
	}
	e.state = StateTerminal
	e.emit(reply)
	return true
}

func clamp(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
