package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nsqio/go-nsq"

	"worknode/features/job"
	"worknode/internal/content"
	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/middleware"
	"worknode/internal/protocol"
)

// Config carries the collaborators a dispatcher shares with the rest of the
// node. Only Listener is required.
type Config struct {
	// Listener names the inbound stream in logs, metrics and the failed-job
	// ledger.
	Listener string
	// Topic is where the requests arrive; stored with failed jobs so they can
	// be resubmitted.
	Topic   string
	Guard   *failure.Guard
	Jobs    job.Repository
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Timeout bounds a single Work call. Zero means no limit.
	Timeout time.Duration
}

// Dispatcher binds one strategy to an inbound message stream and emits the
// reply sequence for every request it receives. It handles one message at a
// time; run several dispatchers for parallelism.
type Dispatcher[R protocol.Request] struct {
	cfg      Config
	strategy Strategy[R]
	pub      Publisher
	logger   *slog.Logger
}

func NewDispatcher[R protocol.Request](strategy Strategy[R], pub Publisher, cfg Config) *Dispatcher[R] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher[R]{
		cfg:      cfg,
		strategy: strategy,
		pub:      pub,
		logger:   logger.With("listener", cfg.Listener),
	}
}

// HandleMessage implements nsq.Handler. Work errors are reported to the
// requester, never to the broker, so the message is always finished.
func (d *Dispatcher[R]) HandleMessage(m *nsq.Message) error {
	return d.Handle(context.Background(), m.Body)
}

// Handle processes one encoded request.
func (d *Dispatcher[R]) Handle(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return nil
	}

	req, err := protocol.DecodeAs[R](body)
	if err != nil {
		// Poison pill: retrying cannot fix the payload
		d.logger.ErrorContext(ctx, "dropping undecodable request", "error", err, "size", len(body))
		d.countDecodeError()
		return nil
	}
	if req.ReplyDestination() == "" {
		d.logger.ErrorContext(ctx, "dropping request without reply destination", "request_id", req.ID())
		d.countDecodeError()
		return nil
	}

	ctx = middleware.WithCorrelationID(ctx, req.ID())
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RequestsReceived.WithLabelValues(d.cfg.Listener, req.MessageType()).Inc()
		d.cfg.Metrics.InFlight.WithLabelValues(d.cfg.Listener).Inc()
		defer d.cfg.Metrics.InFlight.WithLabelValues(d.cfg.Listener).Dec()
	}

	exec := newExecution(req, func(r protocol.Reply) { d.send(ctx, req.ReplyDestination(), r) })
	exec.start()

	if err := protocol.Validate(req); err != nil {
		d.logger.WarnContext(ctx, "rejecting invalid request", "error", err)
		exec.fail(err.Error())
		d.record(ctx, req, err)
		return nil
	}

	d.logger.InfoContext(ctx, "work started", "type", req.MessageType(), "sources", len(req.SourceReferences()))
	start := time.Now()
	results, err := d.run(ctx, req, exec)
	status := protocol.StatusComplete
	if err != nil {
		status = protocol.StatusError
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.WorkDuration.WithLabelValues(d.cfg.Listener, string(status)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		d.logger.ErrorContext(ctx, "work failed", "error", err, "duration", time.Since(start))
		exec.fail(err.Error())
		d.cfg.Guard.Notify(ctx, err)
		d.record(ctx, req, err)
		return nil
	}

	exec.complete(results)
	d.logger.InfoContext(ctx, "work complete", "results", len(results), "duration", time.Since(start))
	return nil
}

func (d *Dispatcher[R]) run(ctx context.Context, req R, progress Progress) (results []content.WorkResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.ErrorContext(ctx, "strategy panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("strategy panic: %v", p)
		}
	}()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	return d.strategy.Work(ctx, req, progress)
}

// send publishes a reply. Replies are fire-and-forget: a failure is logged and
// counted, and raised to the guard when the broker is unreachable.
func (d *Dispatcher[R]) send(ctx context.Context, dest string, r protocol.Reply) {
	body, err := protocol.Encode(r)
	if err == nil {
		err = d.pub.Publish(dest, body)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to publish reply", "status", r.Header().Status, "reply_to", dest, "error", err)
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.ReplyErrors.WithLabelValues(d.cfg.Listener).Inc()
		}
		d.cfg.Guard.Notify(ctx, err)
		return
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RepliesSent.WithLabelValues(d.cfg.Listener, string(r.Header().Status)).Inc()
	}
}

// record stores a failed request in the ledger so an operator can retry it.
func (d *Dispatcher[R]) record(ctx context.Context, req R, cause error) {
	if d.cfg.Jobs == nil {
		return
	}
	payload, err := protocol.Encode(req)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to encode failed job", "error", err)
		return
	}
	failed := &job.Job{
		RequestID: req.ID(),
		Topic:     d.cfg.Topic,
		Listener:  d.cfg.Listener,
		Payload:   payload,
		Error:     cause.Error(),
		Retries:   req.RetryCount(),
	}
	if err := d.cfg.Jobs.Save(ctx, failed); err != nil {
		d.logger.ErrorContext(ctx, "failed to save failed job", "error", err)
		d.cfg.Guard.Notify(ctx, err)
		return
	}
	d.logger.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
}

func (d *Dispatcher[R]) countDecodeError() {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.DecodeErrors.WithLabelValues(d.cfg.Listener).Inc()
	}
}
