package balances

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/balances"
)

func (r *balancesRepo) Find(tx *sql.Tx, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error) {
	return find(tx, userID, currency, "")
}

// FindForUpdate locks the balance row until tx ends.
func (r *balancesRepo) FindForUpdate(tx *sql.Tx, userID ids.UserID, currency money.Currency) (ledger.BalanceState, error) {
	return find(tx, userID, currency, "FOR UPDATE")
}

func find(tx *sql.Tx, userID ids.UserID, currency money.Currency, lock string) (ledger.BalanceState, error) {
	row := tx.QueryRow(selectColumns+`
		WHERE user_id = $1 AND currency = $2
	`+lock, int64(userID), currency.Code())

	s, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.BalanceState{}, balances.ErrNotFound
		}

		return ledger.BalanceState{}, fmt.Errorf("find balance: %w", err)
	}

	return s, nil
}
