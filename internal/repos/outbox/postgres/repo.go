package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/repos/outbox"
)

var _ outbox.Outbox = (*outboxRepo)(nil)

// dispatcherLockKey is the advisory lock id shared by all dispatchers.
const dispatcherLockKey int64 = 0x5354_4152_4f42 // "STAROB"

type outboxRepo struct{ db *sql.DB }

func New(db *sql.DB) *outboxRepo {
	return &outboxRepo{db: db}
}

const selectColumns = `
	SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
	       status, attempts, last_error, published_at
	FROM event_outbox`

// Append writes envs in order. Their ids preserve the emission order.
func (r *outboxRepo) Append(tx *sql.Tx, envs ...events.Envelope) error {
	for _, env := range envs {
		_, err := tx.Exec(`
			INSERT INTO event_outbox (event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, env.EventID, string(env.AggregateType), env.AggregateID, string(env.Type), string(env.Payload), env.OccurredAt)
		if err != nil {
			return fmt.Errorf("append %s: %w", env.Type, err)
		}
	}

	return nil
}

func (r *outboxRepo) Lock(tx *sql.Tx) error {
	var ok bool

	err := tx.QueryRow(`SELECT pg_try_advisory_xact_lock($1)`, dispatcherLockKey).Scan(&ok)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if !ok {
		return outbox.ErrLocked
	}

	return nil
}

func (r *outboxRepo) Pending(tx *sql.Tx, limit int) ([]outbox.Record, error) {
	rows, err := tx.Query(selectColumns+`
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	return scanAll(rows)
}

func (r *outboxRepo) MarkPublished(tx *sql.Tx, id int64, attempts int, at time.Time) error {
	_, err := tx.Exec(`
		UPDATE event_outbox
		SET status = 'published', attempts = $2, published_at = $3, last_error = ''
		WHERE id = $1
	`, id, attempts, at)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	return nil
}

func (r *outboxRepo) MarkDead(tx *sql.Tx, id int64, attempts int, lastErr string) error {
	_, err := tx.Exec(`
		UPDATE event_outbox
		SET status = 'dead', attempts = $2, last_error = $3
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}

	return nil
}

func (r *outboxRepo) Counts(ctx context.Context) (map[outbox.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, count(*) FROM event_outbox GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count outbox: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	out := make(map[outbox.Status]int, 3)

	for rows.Next() {
		var (
			status string
			n      int
		)

		err := rows.Scan(&status, &n)
		if err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}

		out[outbox.Status(status)] = n
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}

	return out, nil
}

func (r *outboxRepo) ByAggregate(ctx context.Context, aggregateType events.AggregateType, aggregateID string) ([]outbox.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY id
	`, string(aggregateType), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("select by aggregate: %w", err)
	}

	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]outbox.Record, error) {
	//nolint:errcheck
	defer rows.Close()

	var out []outbox.Record

	for rows.Next() {
		var (
			rec          outbox.Record
			aggType, typ string
			status       string
			payload      []byte
			publishedAt  sql.NullTime
		)

		err := rows.Scan(
			&rec.ID, &rec.Envelope.EventID, &aggType, &rec.Envelope.AggregateID, &typ, &payload,
			&rec.Envelope.OccurredAt, &status, &rec.Attempts, &rec.LastError, &publishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}

		rec.Envelope.AggregateType = events.AggregateType(aggType)
		rec.Envelope.Type = events.Type(typ)
		rec.Envelope.Payload = payload
		rec.Envelope.OccurredAt = rec.Envelope.OccurredAt.UTC()
		rec.Status = outbox.Status(status)

		if publishedAt.Valid {
			t := publishedAt.Time.UTC()
			rec.PublishedAt = &t
		}

		out = append(out, rec)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}

	return out, nil
}
