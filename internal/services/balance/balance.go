package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/config"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/limiter"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/balances"
	pgbalances "github.com/fastprodman/starledger/internal/repos/balances/postgres"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	pgoutbox "github.com/fastprodman/starledger/internal/repos/outbox/postgres"
	"github.com/fastprodman/starledger/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/starledger/internal/repos/transactions/postgres"
)

// Policy holds the limits applied before an operation reaches the aggregate.
type Policy struct {
	ConflictRetries    int
	MaxOperationAmount money.Money // zero means no ceiling
	CriticalAmount     money.Money // zero means never
	ReservationTTL     time.Duration
	AdminIDs           []ids.UserID
}

func PolicyFromConfig(cfg config.LedgerConfig) (Policy, error) {
	p := Policy{
		ConflictRetries: cfg.ConflictRetries,
		ReservationTTL:  cfg.ReservationTTL,
	}

	var err error

	if cfg.MaxOperationAmount != "" {
		p.MaxOperationAmount, err = money.Parse(cfg.MaxOperationAmount)
		if err != nil {
			return Policy{}, fmt.Errorf("max operation amount: %w", err)
		}
	}

	if cfg.CriticalAmount != "" {
		p.CriticalAmount, err = money.Parse(cfg.CriticalAmount)
		if err != nil {
			return Policy{}, fmt.Errorf("critical amount: %w", err)
		}
	}

	for _, id := range cfg.AdminIDs {
		admin, err := ids.NewUserID(id)
		if err != nil {
			return Policy{}, fmt.Errorf("admin ids: %w", err)
		}

		p.AdminIDs = append(p.AdminIDs, admin)
	}

	return p, nil
}

type Service struct {
	db       *sql.DB
	balances balances.Balances
	txns     transactions.Transactions
	outbox   outbox.Outbox
	limiter  limiter.Limiter
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

func New(dbx *sql.DB, lim limiter.Limiter, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		db:       dbx,
		balances: pgbalances.New(dbx),
		txns:     pgtransactions.New(dbx),
		outbox:   pgoutbox.New(dbx),
		limiter:  lim,
		policy:   policy,
		logger:   logger.With("component", "balance_service"),
		now:      time.Now,
	}
}

// mutation changes a loaded balance and returns the journal entry it touched.
type mutation func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error)

type unit struct {
	op      string
	account Account
	txID    ids.TransactionID // checked for replays when set
	amount  money.Money       // for severity escalation
	create  bool              // open the balance if it does not exist
	lock    bool              // SELECT ... FOR UPDATE
	apply   mutation
}

// run is the unit of work shared by every mutator:
//
// 1) Acquire a limiter slot for the user.
// 2) In one DB transaction: replay check, load, mutate, CAS save, journal, outbox.
// 3) Retry the whole transaction on version conflicts.
func (s *Service) run(ctx context.Context, u unit) (Result, error) {
	release, err := s.limiter.Acquire(ctx, u.account.UserID)
	if err != nil {
		return Result{}, s.fail(ctx, u, err)
	}
	defer release()

	res, err := s.retry(ctx, u)
	if err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	if res.Replayed {
		s.logger.InfoContext(ctx, "transaction replayed",
			"op", u.op,
			"user_id", u.account.UserID,
			"transaction_id", res.Transaction.TransactionID,
		)
	}

	return res, nil
}

func (s *Service) retry(ctx context.Context, u unit) (Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := pgutils.InTx(ctx, s.db, func(tx *sql.Tx) (Result, error) {
			return s.work(tx, u)
		})
		if err == nil {
			return res, nil
		}

		if !isConflict(err) {
			return Result{}, err
		}

		if attempt >= s.policy.ConflictRetries {
			return Result{}, apperr.ConcurrentModification("balance", u.account.UserID.String()+":"+u.account.Currency.Code(), err)
		}

		s.logger.DebugContext(ctx, "balance conflict, retrying", "op", u.op, "user_id", u.account.UserID, "attempt", attempt+1)
	}
}

func (s *Service) work(tx *sql.Tx, u unit) (Result, error) {
	if u.txID != "" {
		res, found, err := s.replay(tx, u)
		if err != nil || found {
			return res, err
		}
	}

	b, err := s.load(tx, u.account, u.lock, u.create)
	if err != nil {
		return Result{}, err
	}

	t, err := u.apply(b, s.now())
	if err != nil {
		return Result{}, err
	}

	err = s.save(tx, b)
	if err != nil {
		return Result{}, err
	}

	view, err := viewOf(b)
	if err != nil {
		return Result{}, err
	}

	res := Result{View: view}
	if t != nil {
		res.Transaction = t.State()
	}

	return res, nil
}

// replay returns the stored outcome of an already processed transaction id.
func (s *Service) replay(tx *sql.Tx, u unit) (Result, bool, error) {
	stored, err := s.txns.Find(tx, u.txID)
	if errors.Is(err, transactions.ErrNotFound) {
		return Result{}, false, nil
	}

	if err != nil {
		return Result{}, false, fmt.Errorf("find transaction: %w", err)
	}

	if stored.UserID != u.account.UserID || !stored.Currency.Equal(u.account.Currency) {
		return Result{}, false, apperr.New(apperr.CodeInvalidTransaction, "transaction id already used for another balance", map[string]any{
			"transaction_id": u.txID.String(),
		})
	}

	b, err := s.load(tx, u.account, false, false)
	if err != nil {
		return Result{}, false, err
	}

	view, err := viewOf(b)
	if err != nil {
		return Result{}, false, err
	}

	return Result{View: view, Transaction: stored, Replayed: true}, true, nil
}

func (s *Service) load(tx *sql.Tx, acc Account, lock, create bool) (*ledger.Balance, error) {
	find := s.balances.Find
	if lock {
		find = s.balances.FindForUpdate
	}

	state, err := find(tx, acc.UserID, acc.Currency)
	if errors.Is(err, balances.ErrNotFound) {
		if create {
			return ledger.NewBalance(acc.UserID, acc.Currency, s.now()), nil
		}

		return nil, errBalanceNotFound(acc)
	}

	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}

	rows, err := s.txns.ListPending(tx, state.ID)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	pending := make([]*ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		pending = append(pending, ledger.RestoreTransaction(r))
	}

	return ledger.RestoreBalance(state, pending)
}

// save writes the balance with a compare-and-swap on its version, then the
// journal changes and the emitted events.
func (s *Service) save(tx *sql.Tx, b *ledger.Balance) error {
	added, changed, emitted := b.Added(), b.Changed(), b.Events()

	id := b.ID()

	var err error

	switch {
	case b.IsNew():
		id, err = s.balances.Insert(tx, b.State())
		if err != nil {
			return fmt.Errorf("insert balance: %w", err)
		}
	case b.Version() != b.ExpectedVersion():
		err = s.balances.Update(tx, b.State(), b.ExpectedVersion())
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
	}

	b.MarkPersisted(id)

	for _, t := range added {
		_, err = s.txns.Insert(tx, t.State())
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	for _, t := range changed {
		err = s.txns.Settle(tx, t.State())
		if err != nil {
			return fmt.Errorf("settle transaction: %w", err)
		}
	}

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

// isConflict reports errors cured by reloading: a stale version, a racing
// first insert, a racing replay of the same transaction id.
func isConflict(err error) bool {
	return errors.Is(err, balances.ErrVersionConflict) ||
		errors.Is(err, balances.ErrAlreadyExists) ||
		errors.Is(err, transactions.ErrDuplicateTransaction) ||
		errors.Is(err, transactions.ErrNotPending)
}

func (s *Service) checkAmount(amount money.Money) error {
	if s.policy.MaxOperationAmount.IsPositive() && amount.GreaterThan(s.policy.MaxOperationAmount) {
		return apperr.New(apperr.CodeTransactionLimitExceeded, "", map[string]any{
			"amount": amount.String(),
			"limit":  s.policy.MaxOperationAmount.String(),
		})
	}

	return nil
}

func (s *Service) isAdmin(id ids.UserID) bool {
	return slices.Contains(s.policy.AdminIDs, id)
}

// fail converts err to the error returned to callers, escalates its severity
// for adjustments and large amounts, and logs it once.
func (s *Service) fail(ctx context.Context, u unit, err error) error {
	e := apperr.From(err)

	critical := u.op == opAdjust ||
		(s.policy.CriticalAmount.IsPositive() && u.amount.GreaterThanOrEqual(s.policy.CriticalAmount))
	if critical && e.Severity < apperr.SeverityCritical {
		e = e.WithSeverity(apperr.SeverityCritical)
	}

	apperr.Log(ctx, s.logger, "balance operation failed", e,
		slog.String("op", u.op),
		slog.Any("user_id", u.account.UserID),
		slog.String("currency", u.account.Currency.Code()),
	)

	return e
}

func errBalanceNotFound(acc Account) *apperr.Error {
	return apperr.New(apperr.CodeBalanceNotFound, "", map[string]any{
		"user_id":  acc.UserID,
		"currency": acc.Currency.Code(),
	})
}
