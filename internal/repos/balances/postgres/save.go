package balances

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/balances"
)

// Insert stores a new balance at s.Version. A concurrent insert for the same
// user and currency yields ErrAlreadyExists.
func (r *balancesRepo) Insert(tx *sql.Tx, s ledger.BalanceState) (ids.BalanceID, error) {
	var id int64

	err := tx.QueryRow(`
		INSERT INTO balances (user_id, currency, current_balance, total_deposited, total_spent,
		                      total_refunded, net_adjustments, active, created_at, last_updated, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, int64(s.UserID), s.Currency.Code(), s.CurrentBalance, s.TotalDeposited, s.TotalSpent,
		s.TotalRefunded, s.NetAdjustments, s.Active, s.CreatedAt, s.LastUpdated, s.Version,
	).Scan(&id)
	if err != nil {
		if pgutils.IsUniqueViolation(err, "balances_user_currency_key") {
			return 0, balances.ErrAlreadyExists
		}

		return 0, fmt.Errorf("insert balance: %w", pgutils.ConstraintViolation(err))
	}

	return ids.BalanceID(id), nil
}

// Update writes s only if the stored version is still expectedVersion.
func (r *balancesRepo) Update(tx *sql.Tx, s ledger.BalanceState, expectedVersion int64) error {
	res, err := tx.Exec(`
		UPDATE balances
		SET current_balance = $3,
		    total_deposited = $4,
		    total_spent     = $5,
		    total_refunded  = $6,
		    net_adjustments = $7,
		    active          = $8,
		    last_updated    = $9,
		    version         = $10
		WHERE id = $1
		  AND version = $2
	`, int64(s.ID), expectedVersion, s.CurrentBalance, s.TotalDeposited, s.TotalSpent,
		s.TotalRefunded, s.NetAdjustments, s.Active, s.LastUpdated, s.Version)
	if err != nil {
		return fmt.Errorf("update balance: %w", pgutils.ConstraintViolation(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return balances.ErrVersionConflict
	}

	return nil
}
