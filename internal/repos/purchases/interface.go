package purchases

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
)

var (
	ErrNotFound        = errors.New("purchase not found")
	ErrDuplicate       = errors.New("purchase already exists")
	ErrVersionConflict = errors.New("purchase version conflict")
)

type Purchases interface {
	Get(ctx context.Context, id ids.PurchaseID) (purchase.State, error)
	ListByUser(ctx context.Context, userID ids.UserID, limit, offset int) ([]purchase.State, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]purchase.State, error)
	Find(tx *sql.Tx, id ids.PurchaseID) (purchase.State, error)
	Insert(tx *sql.Tx, s purchase.State) (int64, error)
	Update(tx *sql.Tx, s purchase.State, expectedVersion int64) error
}
