package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"worknode/internal/failure"
)

const ComponentNATS = "nats"

// drainPoll is how often a stopping listener checks whether its
// subscriptions have finished draining.
const drainPoll = 50 * time.Millisecond

// NATSListener serves a subject through a queue group. Every handler gets its
// own subscription in the group, so NATS delivers to each one sequentially.
type NATSListener struct {
	lifecycle
	name     string
	subject  string
	queue    string
	conn     *nats.Conn
	handlers []Handler
	logger   *slog.Logger

	subsMu sync.Mutex
	subs   []*nats.Subscription
}

func NewNATSListener(name, subject, queue string, conn *nats.Conn, handlers []Handler, logger *slog.Logger) *NATSListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSListener{
		lifecycle: lifecycle{done: make(chan struct{})},
		name:      name,
		subject:   subject,
		queue:     queue,
		conn:      conn,
		handlers:  handlers,
		logger:    logger.With("listener", name, "subject", subject, "queue", queue),
	}
}

func (l *NATSListener) Name() string { return l.name }

func (l *NATSListener) Start(ctx context.Context) error {
	if len(l.handlers) == 0 {
		return fmt.Errorf("%s: %w", l.name, ErrNoHandlers)
	}

	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for _, h := range l.handlers {
		sub, err := l.conn.QueueSubscribe(l.subject, l.queue, l.deliver(ctx, h))
		if err != nil {
			for _, s := range l.subs {
				_ = s.Unsubscribe()
			}
			l.subs = nil
			return natsError(fmt.Errorf("subscribe %s: %w", l.name, err))
		}
		l.subs = append(l.subs, sub)
	}

	l.markStarted()
	l.logger.InfoContext(ctx, "listener started", "handlers", len(l.handlers))
	return nil
}

func (l *NATSListener) deliver(ctx context.Context, h Handler) nats.MsgHandler {
	ctx = context.WithoutCancel(ctx)
	return func(msg *nats.Msg) {
		// core NATS has no redelivery
		if err := h.Handle(ctx, msg.Data); err != nil {
			l.logger.ErrorContext(ctx, "handler failed, message dropped", "error", err)
		}
	}
}

// Pause drains the subscriptions without closing the shared connection.
func (l *NATSListener) Pause(cause error) {
	if !l.halt(fmt.Errorf("paused: %w", cause)) {
		return
	}
	l.logger.Warn("pausing listener", "cause", cause)
	l.drain()
}

func (l *NATSListener) Stop(cause error) {
	l.halt(cause)
	l.logger.Warn("stopping listener", "cause", cause)
	l.drain()
	go l.finishWithin(l.drained())
}

func (l *NATSListener) Ready() error {
	if err := l.ready(l.name); err != nil {
		return err
	}
	if !l.conn.IsConnected() {
		return fmt.Errorf("%s: nats connection %s", l.name, l.conn.Status())
	}
	return nil
}

func (l *NATSListener) drain() {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for _, s := range l.subs {
		if err := s.Drain(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
			l.logger.Warn("failed to drain subscription", "error", err)
		}
	}
}

func (l *NATSListener) drained() <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		ticker := time.NewTicker(drainPoll)
		defer ticker.Stop()
		for range ticker.C {
			if !l.anyValid() {
				return
			}
		}
	}()
	return out
}

func (l *NATSListener) anyValid() bool {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for _, s := range l.subs {
		if s.IsValid() {
			return true
		}
	}
	return false
}

// NATSPublisher publishes on a shared connection.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(subject string, body []byte) error {
	if err := p.conn.Publish(subject, body); err != nil {
		return natsError(fmt.Errorf("publish %s: %w", subject, err))
	}
	return nil
}

// Ping round-trips to the server.
func (p *NATSPublisher) Ping() error {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		return natsError(err)
	}
	return nil
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, natsError(fmt.Errorf("connect %s: %w", url, err))
	}
	return conn, nil
}

// natsError marks connection-level failures as the broker being unavailable.
func natsError(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrDisconnected):
		return failure.Unavailable(ComponentNATS, err)
	}
	return err
}
