package balances

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

var (
	ErrNotFound        = errors.New("balance not found")
	ErrAlreadyExists   = errors.New("balance already exists")
	ErrVersionConflict = errors.New("balance version conflict")
)

type Balances interface {
	Get(ctx context.Context, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error)
	ListByUser(ctx context.Context, userID ids.UserID) ([]ledger.BalanceState, error)
	Find(tx *sql.Tx, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error)
	FindForUpdate(tx *sql.Tx, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error)
	Insert(tx *sql.Tx, s ledger.BalanceState) (ids.BalanceID, error)
	Update(tx *sql.Tx, s ledger.BalanceState, expectedVersion int64) error
}
