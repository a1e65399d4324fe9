// Package transfer runs the units of work on a user's bank and main
// balances.
package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/limiter"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/dualbalances"
	pgdualbalances "github.com/fastprodman/starledger/internal/repos/dualbalances/postgres"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	pgoutbox "github.com/fastprodman/starledger/internal/repos/outbox/postgres"
)

type Config struct {
	// Currency is used when a dual balance is opened by the first bank deposit.
	Currency           money.Currency
	ConflictRetries    int
	MaxOperationAmount money.Money // zero means no ceiling
}

type Service struct {
	db      *sql.DB
	duals   dualbalances.DualBalances
	outbox  outbox.Outbox
	limiter limiter.Limiter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func New(dbx *sql.DB, lim limiter.Limiter, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		db:      dbx,
		duals:   pgdualbalances.New(dbx),
		outbox:  pgoutbox.New(dbx),
		limiter: lim,
		cfg:     cfg,
		logger:  logger.With("component", "transfer_service"),
		now:     time.Now,
	}
}

// DepositToBank credits the bank side, opening the dual balance on first use.
func (s *Service) DepositToBank(ctx context.Context, userID ids.UserID, amount money.Money) (dualbalance.State, error) {
	if err := s.checkAmount(amount); err != nil {
		return dualbalance.State{}, s.fail(ctx, "deposit_to_bank", userID, err)
	}

	st, err := guarded(ctx, s, "deposit_to_bank", userID, func(tx *sql.Tx) (dualbalance.State, error) {
		d, err := s.Load(tx, userID, true)
		if err != nil {
			return dualbalance.State{}, err
		}

		err = d.DepositToBank(amount, s.now())
		if err != nil {
			return dualbalance.State{}, err
		}

		err = s.Save(tx, d)
		if err != nil {
			return dualbalance.State{}, err
		}

		return d.State(), nil
	})
	if err != nil {
		return dualbalance.State{}, err
	}

	return st, nil
}

// Transfer moves amount between the sides. A transfer refused for lack of
// funds still records its initiation event.
func (s *Service) Transfer(ctx context.Context, userID ids.UserID, amount money.Money, from, to dualbalance.BalanceType) (dualbalance.TransferResult, error) {
	if err := s.checkAmount(amount); err != nil {
		return dualbalance.TransferResult{}, s.fail(ctx, "transfer", userID, err)
	}

	var refused error

	res, err := guarded(ctx, s, "transfer", userID, func(tx *sql.Tx) (dualbalance.TransferResult, error) {
		refused = nil

		d, err := s.Load(tx, userID, false)
		if err != nil {
			return dualbalance.TransferResult{}, err
		}

		r, terr := d.Transfer(amount, from, to, s.now())
		if terr != nil {
			f, ok := dualbalance.TransferFailureOf(terr)
			if !ok || !f.InsufficientFunds {
				return dualbalance.TransferResult{}, terr
			}

			refused = terr

			return dualbalance.TransferResult{}, s.appendEvents(tx, d.Events())
		}

		err = s.Save(tx, d)
		if err != nil {
			return dualbalance.TransferResult{}, err
		}

		return r, nil
	})
	if err != nil {
		return dualbalance.TransferResult{}, err
	}

	if refused != nil {
		return dualbalance.TransferResult{}, s.fail(ctx, "transfer", userID, refused)
	}

	s.logger.InfoContext(ctx, "transfer completed",
		"user_id", userID,
		"transfer_id", res.TransferID,
		"amount", res.Amount,
	)

	return res, nil
}

func (s *Service) GetDualBalance(ctx context.Context, userID ids.UserID) (dualbalance.State, error) {
	st, err := s.duals.Get(ctx, userID)
	if errors.Is(err, dualbalances.ErrNotFound) {
		return dualbalance.State{}, errNotFound(userID)
	}

	if err != nil {
		return dualbalance.State{}, fmt.Errorf("get dual balance: %w", err)
	}

	return st, nil
}

// Load reads the dual balance of userID inside tx.
func (s *Service) Load(tx *sql.Tx, userID ids.UserID, create bool) (*dualbalance.DualBalance, error) {
	st, err := s.duals.Find(tx, userID)
	if errors.Is(err, dualbalances.ErrNotFound) {
		if create {
			return dualbalance.New(userID, s.cfg.Currency, s.now()), nil
		}

		return nil, errNotFound(userID)
	}

	if err != nil {
		return nil, fmt.Errorf("load dual balance: %w", err)
	}

	return dualbalance.Restore(st)
}

// Save persists d with a compare-and-swap on its version and appends its
// events to the outbox.
func (s *Service) Save(tx *sql.Tx, d *dualbalance.DualBalance) error {
	emitted := d.Events()
	id := d.ID()

	var err error

	switch {
	case d.IsNew():
		id, err = s.duals.Insert(tx, d.State())
		if err != nil {
			return fmt.Errorf("insert dual balance: %w", err)
		}
	case d.Version() != d.ExpectedVersion():
		err = s.duals.Update(tx, d.State(), d.ExpectedVersion())
		if err != nil {
			return fmt.Errorf("update dual balance: %w", err)
		}
	}

	d.MarkPersisted(id)

	return s.appendEvents(tx, emitted)
}

func (s *Service) appendEvents(tx *sql.Tx, evs []events.Event) error {
	envs, err := events.EncodeAll(evs)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	err = s.outbox.Append(tx, envs...)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	return nil
}

// retry runs fn in a transaction, retrying when the dual balance moved
// underneath it.
func retry[T any](ctx context.Context, s *Service, userID ids.UserID, fn func(tx *sql.Tx) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		out, err := pgutils.InTx(ctx, s.db, fn)
		if err == nil {
			return out, nil
		}

		if !IsConflict(err) {
			var zero T
			return zero, err
		}

		if attempt >= s.cfg.ConflictRetries {
			var zero T
			return zero, apperr.ConcurrentModification("dual_balance", userID.String(), err)
		}

		s.logger.DebugContext(ctx, "dual balance conflict, retrying", "user_id", userID, "attempt", attempt+1)
	}
}

// IsConflict reports errors cured by reloading the dual balance.
func IsConflict(err error) bool {
	return errors.Is(err, dualbalances.ErrVersionConflict) || errors.Is(err, dualbalances.ErrAlreadyExists)
}

// guarded is retry behind the per-user limiter, with failures logged once.
func guarded[T any](ctx context.Context, s *Service, op string, userID ids.UserID, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	release, err := s.limiter.Acquire(ctx, userID)
	if err != nil {
		return zero, s.fail(ctx, op, userID, err)
	}
	defer release()

	out, err := retry(ctx, s, userID, fn)
	if err != nil {
		return zero, s.fail(ctx, op, userID, err)
	}

	return out, nil
}

func (s *Service) checkAmount(amount money.Money) error {
	limit := s.cfg.MaxOperationAmount
	if limit.IsPositive() && amount.GreaterThan(limit) {
		return apperr.New(apperr.CodeTransactionLimitExceeded, "", map[string]any{
			"amount": amount.String(),
			"limit":  limit.String(),
		})
	}

	return nil
}

func (s *Service) fail(ctx context.Context, op string, userID ids.UserID, err error) error {
	e := apperr.From(err)

	apperr.Log(ctx, s.logger, "dual balance operation failed", e,
		slog.String("op", op),
		slog.Any("user_id", userID),
	)

	return e
}

func errNotFound(userID ids.UserID) *apperr.Error {
	return apperr.New(apperr.CodeBalanceNotFound, "dual balance not found", map[string]any{"user_id": userID})
}
