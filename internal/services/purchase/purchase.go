// Package purchase runs star purchases: debit the main balance, settle with
// the provider, refund on failure or timeout.
package purchase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/limiter"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	pgoutbox "github.com/fastprodman/starledger/internal/repos/outbox/postgres"
	"github.com/fastprodman/starledger/internal/repos/purchases"
	pgpurchases "github.com/fastprodman/starledger/internal/repos/purchases/postgres"
	"github.com/fastprodman/starledger/internal/services/transfer"
	"github.com/fastprodman/starledger/internal/settlement"
)

type Config struct {
	Timeout         time.Duration
	Currency        money.Currency // sent to the provider
	ConflictRetries int
}

type Service struct {
	db        *sql.DB
	purchases purchases.Purchases
	duals     *transfer.Service
	outbox    outbox.Outbox
	provider  settlement.Provider
	limiter   limiter.Limiter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func New(dbx *sql.DB, duals *transfer.Service, provider settlement.Provider, lim limiter.Limiter, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = purchase.DefaultTimeout
	}

	return &Service{
		db:        dbx,
		purchases: pgpurchases.New(dbx),
		duals:     duals,
		outbox:    pgoutbox.New(dbx),
		provider:  provider,
		limiter:   lim,
		cfg:       cfg,
		logger:    logger.With("component", "purchase_service"),
		now:       time.Now,
	}
}

type CreateRequest struct {
	PurchaseID ids.PurchaseID // optional; a repeated id returns the stored purchase
	UserID     ids.UserID
	Amount     money.Money
	Units      int
}

// CreatePurchase validates the package, debits the main balance and records
// a PENDING purchase in one transaction.
func (s *Service) CreatePurchase(ctx context.Context, req CreateRequest) (purchase.State, error) {
	err := purchase.Validate(req.Amount, req.Units)
	if err != nil {
		return purchase.State{}, s.fail(ctx, "create", req.PurchaseID, err)
	}

	release, err := s.limiter.Acquire(ctx, req.UserID)
	if err != nil {
		return purchase.State{}, s.fail(ctx, "create", req.PurchaseID, err)
	}
	defer release()

	if req.PurchaseID == "" {
		req.PurchaseID = ids.NewPurchaseID()
	}

	st, err := s.retry(ctx, req.PurchaseID, func(tx *sql.Tx) (purchase.State, error) {
		existing, err := s.purchases.Find(tx, req.PurchaseID)
		switch {
		case err == nil:
			if existing.UserID != req.UserID {
				return purchase.State{}, apperr.New(apperr.CodeInvalidTransaction, "purchase id already used", map[string]any{
					"purchase_id": req.PurchaseID.String(),
				})
			}

			return existing, nil
		case !errors.Is(err, purchases.ErrNotFound):
			return purchase.State{}, fmt.Errorf("find purchase: %w", err)
		}

		now := s.now()

		d, err := s.duals.Load(tx, req.UserID, false)
		if err != nil {
			return purchase.State{}, err
		}

		before, after, err := d.SpendFromMain(req.PurchaseID, req.Amount, now)
		if err != nil {
			return purchase.State{}, err
		}

		p, err := purchase.New(purchase.NewParams{
			PurchaseID:        req.PurchaseID,
			UserID:            req.UserID,
			DualBalanceID:     d.ID(),
			Amount:            req.Amount,
			RequestedUnits:    req.Units,
			MainBalanceBefore: before,
			MainBalanceAfter:  after,
		}, now)
		if err != nil {
			return purchase.State{}, err
		}

		err = s.duals.Save(tx, d)
		if err != nil {
			return purchase.State{}, err
		}

		err = s.save(tx, p)
		if err != nil {
			return purchase.State{}, err
		}

		return p.State(), nil
	})
	if err != nil {
		return purchase.State{}, s.fail(ctx, "create", req.PurchaseID, err)
	}

	s.logger.InfoContext(ctx, "purchase created",
		"purchase_id", st.PurchaseID,
		"user_id", st.UserID,
		"units", st.RequestedUnits,
		"amount", st.Amount,
	)

	return st, nil
}

// Purchase creates a purchase and settles it right away.
func (s *Service) Purchase(ctx context.Context, req CreateRequest) (purchase.State, error) {
	st, err := s.CreatePurchase(ctx, req)
	if err != nil {
		return purchase.State{}, err
	}

	if st.Status.IsTerminal() {
		return st, nil
	}

	return s.Settle(ctx, st.PurchaseID)
}

// Settle drives a PENDING purchase through the provider. No transaction is
// held while the provider is called; every state change is its own short
// transaction guarded by the purchase version. Settling an initiated
// purchase again only repeats the confirmation.
func (s *Service) Settle(ctx context.Context, id ids.PurchaseID) (purchase.State, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return purchase.State{}, err
	}

	p := purchase.Restore(st)
	if p.Status().IsTerminal() {
		return purchase.State{}, s.fail(ctx, "settle", id, apperr.New(apperr.CodePurchaseAlreadyTerminal, "", map[string]any{
			"purchase_id": id.String(),
			"status":      string(st.Status),
		}))
	}

	if !p.IsInitiated() {
		st, err = s.initiate(ctx, st)
		if err != nil {
			return purchase.State{}, err
		}
	}

	conf, err := s.provider.Confirm(ctx, st.ExternalTransactionID)
	if err != nil {
		return purchase.State{}, s.fail(ctx, "confirm", id, unconfirmed(st, err))
	}

	if !conf.Success {
		return s.failPurchase(ctx, id, conf.Message, conf.ErrorCode)
	}

	st, err = s.retry(ctx, id, func(tx *sql.Tx) (purchase.State, error) {
		p, err := s.load(tx, id)
		if err != nil {
			return purchase.State{}, err
		}

		d, err := s.duals.Load(tx, p.UserID(), false)
		if err != nil {
			return purchase.State{}, err
		}

		err = p.Complete(conf.UnitsReceived, d.Main(), rawJSON(conf.Raw), s.now())
		if err != nil {
			return purchase.State{}, err
		}

		return p.State(), s.save(tx, p)
	})
	if err != nil {
		return purchase.State{}, s.fail(ctx, "complete", id, err)
	}

	s.logger.InfoContext(ctx, "purchase completed",
		"purchase_id", id,
		"user_id", st.UserID,
		"units_received", conf.UnitsReceived,
	)

	return st, nil
}

func (s *Service) initiate(ctx context.Context, st purchase.State) (purchase.State, error) {
	resp, err := s.provider.Initiate(ctx, settlement.InitiateRequest{
		PurchaseID: st.PurchaseID,
		UserID:     st.UserID,
		Units:      st.RequestedUnits,
		Amount:     st.Amount,
		Currency:   s.cfg.Currency,
	})
	if err != nil {
		code, msg := settlement.Classify(err)
		return s.failPurchase(ctx, st.PurchaseID, msg, code)
	}

	if !resp.Success {
		return s.failPurchase(ctx, st.PurchaseID, resp.Message, resp.ErrorCode)
	}

	out, err := s.retry(ctx, st.PurchaseID, func(tx *sql.Tx) (purchase.State, error) {
		p, err := s.load(tx, st.PurchaseID)
		if err != nil {
			return purchase.State{}, err
		}

		err = p.Initiate(resp.ExternalTransactionID, s.now())
		if err != nil {
			return purchase.State{}, err
		}

		return p.State(), s.save(tx, p)
	})
	if err != nil {
		return purchase.State{}, s.fail(ctx, "initiate", st.PurchaseID, err)
	}

	return out, nil
}

// unconfirmed reports a confirmation whose outcome is unknown. The purchase
// stays PENDING so a later Settle or the timeout sweep can resolve it.
func unconfirmed(st purchase.State, err error) error {
	code, msg := settlement.Classify(err)

	e := apperr.Wrap(apperr.CodeStarPurchaseFailed, "settlement outcome unknown", map[string]any{
		"purchase_id":             st.PurchaseID.String(),
		"external_transaction_id": st.ExternalTransactionID,
		"external_error_code":     code,
		"reason":                  msg,
	}, err)
	e.Retryable = true

	return e
}

// failPurchase marks the purchase FAILED, refunds the main balance and
// returns the failure as an error.
func (s *Service) failPurchase(ctx context.Context, id ids.PurchaseID, reason, code string) (purchase.State, error) {
	if reason == "" {
		reason = "settlement failed"
	}

	var failure error

	_, err := s.retry(ctx, id, func(tx *sql.Tx) (purchase.State, error) {
		p, err := s.load(tx, id)
		if err != nil {
			return purchase.State{}, err
		}

		err = p.Fail(reason, code, s.now())
		if err != nil {
			return purchase.State{}, err
		}

		err = s.refund(tx, p, reason)
		if err != nil {
			return purchase.State{}, err
		}

		failure = p.FailureError()

		return p.State(), s.save(tx, p)
	})
	if err != nil {
		return purchase.State{}, s.fail(ctx, "fail", id, err)
	}

	return purchase.State{}, s.fail(ctx, "settle", id, failure)
}

// Cancel cancels a PENDING purchase that was never initiated and refunds the
// main balance.
func (s *Service) Cancel(ctx context.Context, id ids.PurchaseID, reason string) (purchase.State, error) {
	if reason == "" {
		reason = "cancelled"
	}

	st, err := s.retry(ctx, id, func(tx *sql.Tx) (purchase.State, error) {
		p, err := s.load(tx, id)
		if err != nil {
			return purchase.State{}, err
		}

		err = p.Cancel(reason, s.now())
		if err != nil {
			return purchase.State{}, err
		}

		err = s.refund(tx, p, reason)
		if err != nil {
			return purchase.State{}, err
		}

		return p.State(), s.save(tx, p)
	})
	if err != nil {
		return purchase.State{}, s.fail(ctx, "cancel", id, err)
	}

	return st, nil
}

func (s *Service) Get(ctx context.Context, id ids.PurchaseID) (purchase.State, error) {
	st, err := s.purchases.Get(ctx, id)
	if errors.Is(err, purchases.ErrNotFound) {
		return purchase.State{}, errNotFound(id)
	}

	if err != nil {
		return purchase.State{}, fmt.Errorf("get purchase: %w", err)
	}

	return st, nil
}

func (s *Service) ListByUser(ctx context.Context, userID ids.UserID, limit, offset int) ([]purchase.State, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	list, err := s.purchases.ListByUser(ctx, userID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	return list, nil
}

const sweepBatch = 100

// SweepTimeouts cancels purchases left PENDING past the timeout and refunds
// them. It returns how many were cancelled.
func (s *Service) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.purchases.ListPendingBefore(ctx, now.Add(-s.cfg.Timeout), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale purchases: %w", err)
	}

	cancelled := 0

	for _, st := range stale {
		if ctx.Err() != nil {
			break
		}

		_, err := s.retry(ctx, st.PurchaseID, func(tx *sql.Tx) (purchase.State, error) {
			p, err := s.load(tx, st.PurchaseID)
			if err != nil {
				return purchase.State{}, err
			}

			err = p.TimeoutCancel(now, s.cfg.Timeout)
			if err != nil {
				return purchase.State{}, err
			}

			err = s.refund(tx, p, purchase.ReasonTimeout)
			if err != nil {
				return purchase.State{}, err
			}

			return p.State(), s.save(tx, p)
		})
		if err != nil {
			apperr.Log(ctx, s.logger, "timeout purchase", err, slog.String("purchase_id", st.PurchaseID.String()))
			continue
		}

		cancelled++
	}

	if cancelled > 0 {
		s.logger.InfoContext(ctx, "timed out purchases cancelled", "count", cancelled)
	}

	return cancelled, nil
}

func (s *Service) refund(tx *sql.Tx, p *purchase.Purchase, reason string) error {
	d, err := s.duals.Load(tx, p.UserID(), false)
	if err != nil {
		return err
	}

	_, err = d.RefundToMain(p.PurchaseID(), p.Amount(), reason, s.now())
	if err != nil {
		return err
	}

	return s.duals.Save(tx, d)
}

func (s *Service) load(tx *sql.Tx, id ids.PurchaseID) (*purchase.Purchase, error) {
	st, err := s.purchases.Find(tx, id)
	if errors.Is(err, purchases.ErrNotFound) {
		return nil, errNotFound(id)
	}

	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}

	return purchase.Restore(st), nil
}

func (s *Service) save(tx *sql.Tx, p *purchase.Purchase) error {
	emitted := p.Events()
	id := p.ID()

	var err error

	if p.IsNew() {
		id, err = s.purchases.Insert(tx, p.State())
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
	} else {
		err = s.purchases.Update(tx, p.State(), p.ExpectedVersion())
		if err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
	}

	p.MarkPersisted(id)

	envs, err := events.EncodeAll(emitted)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	err = s.outbox.Append(tx, envs...)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	return nil
}

func (s *Service) retry(ctx context.Context, id ids.PurchaseID, fn func(tx *sql.Tx) (purchase.State, error)) (purchase.State, error) {
	for attempt := 0; ; attempt++ {
		st, err := pgutils.InTx(ctx, s.db, fn)
		if err == nil {
			return st, nil
		}

		if !isConflict(err) {
			return purchase.State{}, err
		}

		if attempt >= s.cfg.ConflictRetries {
			return purchase.State{}, apperr.ConcurrentModification("star_purchase", id.String(), err)
		}

		s.logger.DebugContext(ctx, "purchase conflict, retrying", "purchase_id", id, "attempt", attempt+1)
	}
}

func isConflict(err error) bool {
	return transfer.IsConflict(err) ||
		errors.Is(err, purchases.ErrVersionConflict) ||
		errors.Is(err, purchases.ErrDuplicate)
}

func (s *Service) fail(ctx context.Context, op string, id ids.PurchaseID, err error) error {
	e := apperr.From(err)

	apperr.Log(ctx, s.logger, "purchase operation failed", e,
		slog.String("op", op),
		slog.String("purchase_id", id.String()),
	)

	return e
}

// rawJSON keeps provider bodies storable in a JSONB column.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}

	if json.Valid(b) {
		return b
	}

	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}

	return quoted
}

func errNotFound(id ids.PurchaseID) *apperr.Error {
	return apperr.New(apperr.CodePurchaseNotFound, "", map[string]any{"purchase_id": id.String()})
}
