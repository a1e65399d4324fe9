package balances

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/balances"
)

func (r *balancesRepo) Get(ctx context.Context, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE user_id = $1 AND currency = $2
	`, int64(userID), currency.Code())

	s, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.BalanceState{}, balances.ErrNotFound
		}

		return ledger.BalanceState{}, fmt.Errorf("get balance: %w", err)
	}

	return s, nil
}

func (r *balancesRepo) ListByUser(ctx context.Context, userID ids.UserID) ([]ledger.BalanceState, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY currency
	`, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	var out []ledger.BalanceState

	for rows.Next() {
		s, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}

		out = append(out, s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}

	return out, nil
}
