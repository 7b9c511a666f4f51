package heartbeat

import (
	"context"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/protocol"
)

// Monitor records every heartbeat that arrives on its listener.
type Monitor struct {
	store   Store
	guard   *failure.Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMonitor(store Store, guard *failure.Guard, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, guard: guard, metrics: m, logger: logger.With("listener", "monitor")}
}

func (m *Monitor) HandleMessage(msg *nsq.Message) error {
	return m.Handle(context.Background(), msg.Body)
}

// Handle stores one heartbeat. Anything else is logged and dropped. An
// unavailable store is returned so the broker redelivers later.
func (m *Monitor) Handle(ctx context.Context, body []byte) error {
	hb, err := protocol.DecodeAs[*protocol.Heartbeat](body)
	if err != nil {
		m.logger.WarnContext(ctx, "dropping message that is not a heartbeat", "error", err, "size", len(body))
		if m.metrics != nil {
			m.metrics.HeartbeatsDropped.Inc()
		}
		return nil
	}

	if err := m.store.Record(ctx, hb); err != nil {
		m.logger.ErrorContext(ctx, "failed to record heartbeat", "component_id", hb.ComponentID, "error", err)
		if m.guard.Notify(ctx, err) {
			return err
		}
		return nil
	}
	if m.metrics != nil {
		m.metrics.HeartbeatsRecorded.Inc()
	}
	m.logger.DebugContext(ctx, "heartbeat recorded", "component_id", hb.ComponentID, "instance_id", hb.InstanceID)
	return nil
}
