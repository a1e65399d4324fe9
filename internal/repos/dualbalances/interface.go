package dualbalances

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/ids"
)

var (
	ErrNotFound        = errors.New("dual balance not found")
	ErrAlreadyExists   = errors.New("dual balance already exists")
	ErrVersionConflict = errors.New("dual balance version conflict")
)

type DualBalances interface {
	Get(ctx context.Context, userID ids.UserID) (dualbalance.State, error)
	Find(tx *sql.Tx, userID ids.UserID) (dualbalance.State, error)
	FindByID(tx *sql.Tx, id ids.DualBalanceID) (dualbalance.State, error)
	Insert(tx *sql.Tx, s dualbalance.State) (ids.DualBalanceID, error)
	Update(tx *sql.Tx, s dualbalance.State, expectedVersion int64) error
}
