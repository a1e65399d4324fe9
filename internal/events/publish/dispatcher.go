package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fastprodman/starledger/internal/config"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/outbox"
)

// Dispatcher polls the outbox and hands pending envelopes to a sink. Only
// one dispatcher drains at a time across all replicas.
type Dispatcher struct {
	db     *sql.DB
	store  outbox.Outbox
	sink   Sink
	cfg    config.OutboxConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(db *sql.DB, store outbox.Outbox, sink Sink, cfg config.OutboxConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Dispatcher{
		db:     db,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "outbox_dispatcher"),
		now:    time.Now,
	}
}

// Result counts what one drain pass did.
type Result struct {
	Published int
	Dead      int
}

// Run drains on every poll interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "poll_interval", d.cfg.PollInterval, "batch_size", d.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}

		res, err := d.DrainOnce(ctx)
		if err != nil {
			d.logger.Error("drain outbox", "error", err)
			continue
		}

		if res.Published > 0 || res.Dead > 0 {
			d.logger.Debug("outbox drained", "published", res.Published, "dead", res.Dead)
		}
	}
}

// DrainOnce publishes one batch. Marks are committed even when ctx is
// canceled midway; unfinished rows stay pending.
func (d *Dispatcher) DrainOnce(ctx context.Context) (Result, error) {
	var res Result

	err := pgutils.WithTx(context.WithoutCancel(ctx), d.db, func(tx *sql.Tx) error {
		err := d.store.Lock(tx)
		if err != nil {
			return err
		}

		recs, err := d.store.Pending(tx, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("load pending: %w", err)
		}

		for _, rec := range recs {
			if ctx.Err() != nil {
				return nil
			}

			attempts, perr := d.publish(ctx, rec)

			switch {
			case perr == nil:
				err = d.store.MarkPublished(tx, rec.ID, attempts, d.now().UTC())
				res.Published++
			case ctx.Err() != nil:
				return nil
			default:
				d.deadLetter(ctx, rec, attempts, perr)
				err = d.store.MarkDead(tx, rec.ID, attempts, perr.Error())
				res.Dead++
			}

			if err != nil {
				return fmt.Errorf("mark record %d: %w", rec.ID, err)
			}
		}

		return nil
	})
	if errors.Is(err, outbox.ErrLocked) {
		return Result{}, nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("drain outbox: %w", err)
	}

	return res, nil
}

func (d *Dispatcher) publish(ctx context.Context, rec outbox.Record) (int, error) {
	attempts := rec.Attempts

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.Backoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, d.sink.Publish(ctx, rec.Envelope)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("publish failed, retrying",
				"event_id", rec.Envelope.EventID,
				"attempt", attempts,
				"wait", wait,
				"error", err,
			)
		}),
	)

	return attempts, err
}

func (d *Dispatcher) deadLetter(ctx context.Context, rec outbox.Record, attempts int, cause error) {
	body, err := json.Marshal(rec.Envelope)
	if err != nil {
		body = rec.Envelope.Payload
	}

	d.logger.ErrorContext(ctx, "event dead-lettered",
		"outbox_id", rec.ID,
		"event_id", rec.Envelope.EventID,
		"event_type", rec.Envelope.Type,
		"attempts", attempts,
		"error", cause,
		"payload", string(body),
	)
}
