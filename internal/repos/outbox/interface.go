package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/starledger/internal/events"
)

var ErrLocked = errors.New("outbox is being drained by another dispatcher")

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusDead      Status = "dead"
)

// Record is one stored envelope.
type Record struct {
	ID          int64
	Envelope    events.Envelope
	Status      Status
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}

type Outbox interface {
	Append(tx *sql.Tx, envs ...events.Envelope) error
	// Lock takes the dispatcher lock for the lifetime of tx or returns
	// ErrLocked.
	Lock(tx *sql.Tx) error
	Pending(tx *sql.Tx, limit int) ([]Record, error)
	MarkPublished(tx *sql.Tx, id int64, attempts int, at time.Time) error
	MarkDead(tx *sql.Tx, id int64, attempts int, lastErr string) error
	Counts(ctx context.Context) (map[Status]int, error)
	ByAggregate(ctx context.Context, aggregateType events.AggregateType, aggregateID string) ([]Record, error)
}
