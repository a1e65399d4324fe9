package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/transactions"
)

func (r *transactionsRepo) Get(ctx context.Context, id ids.TransactionID) (ledger.TransactionState, error) {
	s, err := scanTransaction(r.db.QueryRowContext(ctx, selectColumns+`
		WHERE transaction_id = $1
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.TransactionState{}, transactions.ErrNotFound
		}

		return ledger.TransactionState{}, fmt.Errorf("get transaction: %w", err)
	}

	return s, nil
}

// ListByBalance pages through a balance's journal, newest first.
func (r *transactionsRepo) ListByBalance(ctx context.Context, balanceID ids.BalanceID, limit, offset int) ([]ledger.TransactionState, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE balance_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, int64(balanceID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return scanAll(rows)
}

// Journal returns every entry of a balance in insertion order.
func (r *transactionsRepo) Journal(ctx context.Context, balanceID ids.BalanceID) ([]ledger.TransactionState, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE balance_id = $1
		ORDER BY id
	`, int64(balanceID))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	return scanAll(rows)
}

func (r *transactionsRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]transactions.Expired, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, currency
		FROM transactions
		WHERE status = 'PENDING'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	var out []transactions.Expired

	for rows.Next() {
		var (
			userID   int64
			currency money.Currency
		)

		err := rows.Scan(&userID, &currency)
		if err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}

		out = append(out, transactions.Expired{UserID: ids.UserID(userID), Currency: currency})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate expired: %w", err)
	}

	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
