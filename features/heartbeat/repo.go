package heartbeat

import (
	"context"
	"database/sql"
	"time"

	"worknode/internal/database"
	"worknode/internal/protocol"
)

// Record is a stored heartbeat. RecordedAt is assigned by the store.
type Record struct {
	ID          int64      `json:"id"`
	ComponentID string     `json:"component_id"`
	InstanceID  string     `json:"instance_id"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// Store persists received heartbeats. Implementations must be safe for
// concurrent use.
type Store interface {
	Record(ctx context.Context, hb *protocol.Heartbeat) error
}

type Repository interface {
	Store
	Count(ctx context.Context) (int, error)
	Latest(ctx context.Context, componentID string) (*Record, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Record(ctx context.Context, hb *protocol.Heartbeat) error {
	var sentAt *time.Time
	if !hb.SentAt.IsZero() {
		sentAt = &hb.SentAt
	}
	query := `INSERT INTO heartbeats (component_id, instance_id, sent_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, hb.ComponentID, hb.InstanceID, sentAt)
	return database.Classify(err)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM heartbeats").Scan(&count)
	return count, database.Classify(err)
}

// Latest returns the most recent heartbeat of a component, or sql.ErrNoRows.
func (r *PostgresRepo) Latest(ctx context.Context, componentID string) (*Record, error) {
	rec := &Record{}
	var sentAt sql.NullTime
	query := `SELECT id, component_id, instance_id, sent_at, recorded_at FROM heartbeats
		WHERE component_id = $1 ORDER BY recorded_at DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, componentID).
		Scan(&rec.ID, &rec.ComponentID, &rec.InstanceID, &sentAt, &rec.RecordedAt)
	if err != nil {
		return nil, database.Classify(err)
	}
	if sentAt.Valid {
		rec.SentAt = &sentAt.Time
	}
	return rec, nil
}
