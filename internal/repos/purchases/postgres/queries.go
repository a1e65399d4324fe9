package purchases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/repos/purchases"
)

func (r *purchasesRepo) Get(ctx context.Context, id ids.PurchaseID) (purchase.State, error) {
	s, err := scanPurchase(r.db.QueryRowContext(ctx, selectColumns+`
		WHERE purchase_id = $1
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return purchase.State{}, purchases.ErrNotFound
		}

		return purchase.State{}, fmt.Errorf("get purchase: %w", err)
	}

	return s, nil
}

func (r *purchasesRepo) Find(tx *sql.Tx, id ids.PurchaseID) (purchase.State, error) {
	s, err := scanPurchase(tx.QueryRow(selectColumns+`
		WHERE purchase_id = $1
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return purchase.State{}, purchases.ErrNotFound
		}

		return purchase.State{}, fmt.Errorf("find purchase: %w", err)
	}

	return s, nil
}

func (r *purchasesRepo) ListByUser(ctx context.Context, userID ids.UserID, limit, offset int) ([]purchase.State, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, int64(userID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	return scanAll(rows)
}

// ListPendingBefore returns PENDING purchases created before cutoff, oldest
// first.
func (r *purchasesRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]purchase.State, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending purchases: %w", err)
	}

	return scanAll(rows)
}
