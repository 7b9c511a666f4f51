package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nsqio/go-nsq"

	"worknode/internal/failure"
)

// ComponentNSQ names the broker in unavailable signals.
const ComponentNSQ = "nsqd"

// NSQConfig locates the broker. Lookupd wins when both are set.
type NSQConfig struct {
	Lookupd string
	NSQD    string
}

// NSQListener consumes a topic/channel pair. Each handler runs on its own
// goroutine and handles one message at a time.
type NSQListener struct {
	lifecycle
	name     string
	topic    string
	channel  string
	cfg      NSQConfig
	handlers []Handler
	logger   *slog.Logger
	consumer *nsq.Consumer
}

func NewNSQListener(name, topic, channel string, cfg NSQConfig, handlers []Handler, logger *slog.Logger) *NSQListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &NSQListener{
		lifecycle: lifecycle{done: make(chan struct{})},
		name:      name,
		topic:     topic,
		channel:   channel,
		cfg:       cfg,
		handlers:  handlers,
		logger:    logger.With("listener", name, "topic", topic, "channel", channel),
	}
}

func (l *NSQListener) Name() string { return l.name }

func (l *NSQListener) Start(ctx context.Context) error {
	if len(l.handlers) == 0 {
		return fmt.Errorf("%s: %w", l.name, ErrNoHandlers)
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = len(l.handlers)
	consumer, err := nsq.NewConsumer(l.topic, l.channel, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer %s: %w", l.name, err)
	}
	consumer.SetLogger(NewNSQLogger(l.logger), nsq.LogLevelWarning)
	for _, h := range l.handlers {
		consumer.AddHandler(h)
	}

	if l.cfg.Lookupd != "" {
		err = consumer.ConnectToNSQLookupd(l.cfg.Lookupd)
	} else {
		err = consumer.ConnectToNSQD(l.cfg.NSQD)
	}
	if err != nil {
		consumer.Stop()
		return failure.Unavailable(ComponentNSQ, fmt.Errorf("connect %s: %w", l.name, err))
	}

	l.consumer = consumer
	l.markStarted()
	l.logger.InfoContext(ctx, "listener started", "handlers", len(l.handlers))
	return nil
}

// Pause stops taking new messages while keeping the connections open.
func (l *NSQListener) Pause(cause error) {
	if l.consumer == nil || !l.halt(fmt.Errorf("paused: %w", cause)) {
		return
	}
	l.logger.Warn("pausing listener", "cause", cause)
	l.consumer.ChangeMaxInFlight(0)
}

// Stop begins a graceful shutdown; messages already handed to a handler are
// finished first. Done closes when the consumer has stopped or the grace
// period expires.
func (l *NSQListener) Stop(cause error) {
	if l.consumer == nil {
		l.halt(cause)
		l.closeDone()
		return
	}
	l.halt(cause)
	l.logger.Warn("stopping listener", "cause", cause)
	l.consumer.Stop()
	go l.finishWithin(toStruct(l.consumer.StopChan))
}

func (l *NSQListener) Ready() error {
	if err := l.ready(l.name); err != nil {
		return err
	}
	if l.consumer.Stats().Connections == 0 {
		return fmt.Errorf("%s: no nsqd connections", l.name)
	}
	return nil
}

func toStruct(c chan int) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		<-c
		close(out)
	}()
	return out
}

// NSQPublisher sends messages through a single nsqd producer.
type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(addr string, logger *slog.Logger) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	if logger != nil {
		producer.SetLogger(NewNSQLogger(logger), nsq.LogLevelWarning)
	}
	return &NSQPublisher{producer: producer}, nil
}

// Publish sends body to topic. Errors other than a broker rejection of the
// message itself are reported as the broker being unavailable.
func (p *NSQPublisher) Publish(topic string, body []byte) error {
	err := p.producer.Publish(topic, body)
	if err == nil {
		return nil
	}
	var rejected nsq.ErrProtocol
	if errors.As(err, &rejected) {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return failure.Unavailable(ComponentNSQ, fmt.Errorf("publish %s: %w", topic, err))
}

func (p *NSQPublisher) Ping() error {
	if err := p.producer.Ping(); err != nil {
		return failure.Unavailable(ComponentNSQ, err)
	}
	return nil
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

// NSQLogger routes go-nsq's internal log lines to slog.
type NSQLogger struct {
	logger *slog.Logger
}

func NewNSQLogger(l *slog.Logger) *NSQLogger {
	return &NSQLogger{logger: l.With("component", "go-nsq")}
}

func (n *NSQLogger) Output(_ int, s string) error {
	level := slog.LevelInfo
	switch {
	case strings.HasPrefix(s, "ERR"):
		level = slog.LevelError
	case strings.HasPrefix(s, "WRN"):
		level = slog.LevelWarn
	case strings.HasPrefix(s, "DBG"):
		level = slog.LevelDebug
	}
	n.logger.Log(context.Background(), level, strings.TrimSpace(s[min(len(s), 3):]))
	return nil
}
