package transactions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrNotFound             = errors.New("transaction not found")
	ErrNotPending           = errors.New("transaction is not pending")
)

// Expired identifies a balance holding at least one expired reservation.
type Expired struct {
	UserID   ids.UserID
	Currency money.Currency
}

type Transactions interface {
	Insert(tx *sql.Tx, s ledger.TransactionState) (int64, error)
	// Settle persists a PENDING entry's terminal state.
	Settle(tx *sql.Tx, s ledger.TransactionState) error
	Find(tx *sql.Tx, id ids.TransactionID) (ledger.TransactionState, error)
	ListPending(tx *sql.Tx, balanceID ids.BalanceID) ([]ledger.TransactionState, error)

	Get(ctx context.Context, id ids.TransactionID) (ledger.TransactionState, error)
	ListByBalance(ctx context.Context, balanceID ids.BalanceID, limit, offset int) ([]ledger.TransactionState, error)
	Journal(ctx context.Context, balanceID ids.BalanceID) ([]ledger.TransactionState, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Expired, error)
}
