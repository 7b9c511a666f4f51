package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"worknode/internal/config"
	"worknode/internal/database"
	"worknode/internal/transport"
)

// Publisher is the node's outbound side of the broker.
type Publisher interface {
	Publish(topic string, body []byte) error
	Ping() error
}

type Dependencies struct {
	DB        *sql.DB
	Publisher Publisher
	// NATS is set when the node runs on NATS; listeners share it.
	NATS *nats.Conn

	nsq *transport.NSQPublisher
}

// Bootstrap connects to the database and the broker, applies migrations and
// makes sure the given NSQ topics exist.
func Bootstrap(ctx context.Context, cfg *config.Config, topics []string) (*Dependencies, error) {
	attempts := max(cfg.BootstrapRetryAttempts, 1)
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := retry(ctx, "ping db", attempts, retryDelay, func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", database.Classify(err))
	}

	// Migrations
	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{DB: db}

	switch cfg.Transport {
	case config.TransportNATS:
		conn, err := transport.ConnectNATS(cfg.NATSURL, cfg.ComponentID+"-"+cfg.InstanceID, slog.Default())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nats connection error: %w", err)
		}
		deps.NATS = conn
		deps.Publisher = transport.NewNATSPublisher(conn)
	default:
		producer, err := transport.NewNSQPublisher(cfg.NSQDHost, slog.Default())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.nsq = producer
		deps.Publisher = producer
	}

	if err := retry(ctx, "ping broker", attempts, retryDelay, deps.Publisher.Ping); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to reach broker: %w", err)
	}

	if cfg.Transport == config.TransportNSQ && cfg.NSQDHTTP != "" {
		if err := CreateTopics(ctx, http.DefaultClient, cfg.NSQDHTTP, topics...); err != nil {
			// consumers retry lookups until the topic appears
			slog.WarnContext(ctx, "failed to pre-create NSQ topics", "error", err)
		}
	}

	return deps, nil
}

func (d *Dependencies) Close() {
	if d.nsq != nil {
		d.nsq.Stop()
	}
	if d.NATS != nil {
		if err := d.NATS.Drain(); err != nil {
			slog.Warn("failed to drain nats connection", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// CreateTopics asks nsqd to create topics up front. NSQ creates topics lazily
// on publish, and consumers querying lookupd fail until then.
func CreateTopics(ctx context.Context, client *http.Client, nsqdHTTP string, topics ...string) error {
	var errs []error
	for _, topic := range topics {
		endpoint := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			errs = append(errs, fmt.Errorf("create topic %s: %w", topic, err))
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			errs = append(errs, fmt.Errorf("create topic %s: status %d", topic, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

// retry calls fn until it succeeds, ctx is done or attempts run out.
func retry(ctx context.Context, what string, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.WarnContext(ctx, "bootstrap step failed, retrying...", "step", what, "attempt", i+1, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
