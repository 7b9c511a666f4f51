package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"worknode/internal/protocol"
)

var ErrPublishTimeout = errors.New("timeout waiting for publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger, timeout: 5 * time.Second}
}

// WithPublishTimeout overrides how long Retry waits for the broker.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Retry republishes a failed request under a new request id and removes it
// from the ledger. It returns the new request id.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	req, err := protocol.DecodeAs[protocol.Request](j.Payload)
	if err != nil {
		return "", fmt.Errorf("decode stored request: %w", err)
	}
	renewed, err := protocol.Renew(req)
	if err != nil {
		return "", err
	}
	body, err := protocol.Encode(renewed)
	if err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(j.Topic, body) }()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
	case <-time.After(s.timeout):
		return "", ErrPublishTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed job resubmitted",
		"job_id", j.ID, "topic", j.Topic, "previous_request_id", j.RequestID, "request_id", renewed.ID())

	if err := s.repo.Delete(ctx, id); err != nil {
		return renewed.ID(), err
	}
	return renewed.ID(), nil
}
