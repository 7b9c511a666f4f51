// Package heartbeat emits this node's liveness signal and records the
// signals of other components.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/protocol"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Heart publishes heartbeats for one component instance. Beat keeps no state
// between calls.
type Heart struct {
	componentID string
	instanceID  string
	topic       string
	pub         Publisher
	guard       *failure.Guard
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewHeart(componentID, instanceID, topic string, pub Publisher, guard *failure.Guard, m *metrics.Metrics, logger *slog.Logger) *Heart {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heart{
		componentID: componentID,
		instanceID:  instanceID,
		topic:       topic,
		pub:         pub,
		guard:       guard,
		metrics:     m,
		logger:      logger.With("component_id", componentID, "instance_id", instanceID),
		now:         time.Now,
	}
}

func (h *Heart) Beat(ctx context.Context) error {
	body, err := protocol.Encode(&protocol.Heartbeat{
		ComponentID: h.componentID,
		InstanceID:  h.instanceID,
		SentAt:      h.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := h.pub.Publish(h.topic, body); err != nil {
		return fmt.Errorf("publish heartbeat: %w", err)
	}
	if h.metrics != nil {
		h.metrics.HeartbeatsSent.Inc()
	}
	h.logger.DebugContext(ctx, "heartbeat sent", "topic", h.topic)
	return nil
}

// Run beats once immediately and then on every tick until ctx is done.
func (h *Heart) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := h.Beat(ctx); err != nil {
			h.logger.ErrorContext(ctx, "failed to send heartbeat", "error", err)
			h.guard.Notify(ctx, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
