package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"worknode/features/heartbeat"
	"worknode/features/job"
	"worknode/internal/config"
	"worknode/internal/content"
	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/protocol"
	"worknode/internal/strategy/hash"
	"worknode/internal/strategy/transform"
	"worknode/internal/transport"
	"worknode/internal/worker"
)

const monitorListener = "monitor"

// Node is the running worker: its listeners, the guard that reacts to
// unavailable components and the optional heart.
type Node struct {
	Listeners *transport.Group
	Guard     *failure.Guard
	Heart     *heartbeat.Heart

	cfg    *config.Config
	store  *content.Store
	logger *slog.Logger
}

// NewNode wires one listener per entry in listeners, each served by its own
// set of dispatchers. Nothing is started.
func NewNode(cfg *config.Config, deps *Dependencies, listeners []config.Listener, m *metrics.Metrics, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	guardOpts := []failure.GuardOption{failure.WithLogger(logger)}
	if m != nil {
		guardOpts = append(guardOpts, failure.WithObserver(m.ObserveUnavailable))
	}

	n := &Node{
		Guard:  failure.NewGuard(guardOpts...),
		cfg:    cfg,
		store:  content.NewStore(content.WithRoot(cfg.ContentRoot)),
		logger: logger,
	}

	jobs := job.NewPostgresRepo(deps.DB)
	var built []transport.Listener
	for _, l := range listeners {
		handlers, err := n.dispatchers(l, deps.Publisher, jobs, m)
		if err != nil {
			return nil, err
		}
		built = append(built, n.listener(deps, l.Name, l.Topic, l.Channel, handlers))
	}

	if cfg.EnableMonitor {
		monitor := heartbeat.NewMonitor(heartbeat.NewPostgresRepo(deps.DB), n.Guard, m, logger)
		built = append(built, n.listener(deps, monitorListener, config.TopicHeartbeat, config.ChannelMonitor, []transport.Handler{monitor}))
	}

	n.Listeners = transport.NewGroup(built...)
	if r := n.reaction(); r != nil {
		n.Guard.Register(r)
	}

	if cfg.EnableHeart {
		n.Heart = heartbeat.NewHeart(cfg.ComponentID, cfg.InstanceID, config.TopicHeartbeat, deps.Publisher, n.Guard, m, logger)
	}
	return n, nil
}

func (n *Node) dispatchers(l config.Listener, pub worker.Publisher, jobs job.Repository, m *metrics.Metrics) ([]transport.Handler, error) {
	wcfg := worker.Config{
		Listener: l.Name,
		Topic:    l.Topic,
		Guard:    n.Guard,
		Jobs:     jobs,
		Metrics:  m,
		Logger:   n.logger,
		Timeout:  l.Timeout,
	}
	if wcfg.Timeout == 0 {
		wcfg.Timeout = time.Duration(n.cfg.WorkTimeoutSeconds) * time.Second
	}

	handlers := make([]transport.Handler, 0, l.Concurrency)
	for i := 0; i < l.Concurrency; i++ {
		switch l.Kind {
		case config.KindHash:
			handlers = append(handlers, worker.NewDispatcher[*protocol.HashRequest](hash.New(n.store), pub, wcfg))
		case config.KindTransformation:
			strategy, err := n.transformStrategy()
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, worker.NewDispatcher(strategy, pub, wcfg))
		default:
			return nil, fmt.Errorf("%w: %s: unknown kind %q", config.ErrInvalidListener, l.Name, l.Kind)
		}
	}
	return handlers, nil
}

func (n *Node) transformStrategy() (worker.Strategy[*protocol.TransformationRequest], error) {
	switch n.cfg.TransformTool {
	case config.ToolImaging, "":
		return transform.NewImageStrategy(n.store), nil
	case config.ToolImageMagick:
		return transform.NewCommandStrategy(n.store, transform.ImageMagick{}, n.cfg.ConvertPath, n.cfg.WorkDir), nil
	case config.ToolFFmpeg:
		return transform.NewCommandStrategy(n.store, transform.FFmpeg{}, n.cfg.FFmpegPath, n.cfg.WorkDir), nil
	}
	return nil, fmt.Errorf("%w: TRANSFORM_TOOL=%q", config.ErrInvalidValue, n.cfg.TransformTool)
}

func (n *Node) listener(deps *Dependencies, name, topic, channel string, handlers []transport.Handler) transport.Listener {
	if n.cfg.Transport == config.TransportNATS {
		return transport.NewNATSListener(name, topic, channel, deps.NATS, handlers, n.logger)
	}
	nsqCfg := transport.NSQConfig{Lookupd: n.cfg.NSQLookupd, NSQD: n.cfg.NSQDHost}
	return transport.NewNSQListener(name, topic, channel, nsqCfg, handlers, n.logger)
}

func (n *Node) reaction() failure.Reaction {
	switch n.cfg.Reaction {
	case config.ReactionStop:
		exec := failure.ExecInline
		if n.cfg.ReactionDetached {
			exec = failure.ExecDetached
		}
		return &failure.StopReaction{
			Target: n.Listeners,
			Grace:  time.Duration(n.cfg.ReactionGraceSeconds) * time.Second,
			Delay:  time.Duration(n.cfg.ReactionDelayMS) * time.Millisecond,
			Exec:   exec,
			Logger: n.logger,
		}
	case config.ReactionPause:
		return &failure.PauseReaction{Target: n.Listeners, Logger: n.logger}
	}
	return nil
}

// Ready reports whether every listener is consuming.
func (n *Node) Ready() error {
	return n.Listeners.Ready()
}

// Run consumes until ctx is done or a reaction stops the listeners. It
// returns the stop reason in the latter case.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Listeners.Start(ctx); err != nil {
		return err
	}
	if n.Heart != nil {
		go n.Heart.Run(ctx, time.Duration(n.cfg.HeartbeatIntervalSeconds)*time.Second)
	}

	defer func() {
		if err := n.store.Close(); err != nil {
			n.logger.Warn("failed to close content store", "error", err)
		}
	}()

	select {
	case <-n.Listeners.Done():
		err := n.Listeners.Ready()
		n.logger.Error("listeners stopped", "reason", err)
		if err == nil {
			err = errors.New("listeners stopped")
		}
		return err
	case <-ctx.Done():
		n.logger.Info("shutting down listeners...")
		n.Listeners.SetGracePeriod(time.Duration(n.cfg.ReactionGraceSeconds) * time.Second)
		n.Listeners.Stop(ctx.Err())
		<-n.Listeners.Done()
		return nil
	}
}
