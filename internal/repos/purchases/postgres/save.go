package purchases

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/purchases"
)

func (r *purchasesRepo) Insert(tx *sql.Tx, s purchase.State) (int64, error) {
	var id int64

	err := tx.QueryRow(`
		INSERT INTO star_purchases (purchase_id, user_id, dual_balance_id, external_transaction_id,
		                            purchase_amount, requested_units, main_balance_before,
		                            main_balance_after, status, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, s.PurchaseID.String(), int64(s.UserID), int64(s.DualBalanceID), s.ExternalTransactionID,
		s.Amount, s.RequestedUnits, s.MainBalanceBefore, s.MainBalanceAfter, string(s.Status),
		s.CreatedAt, s.Version,
	).Scan(&id)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return 0, purchases.ErrDuplicate
		}

		return 0, fmt.Errorf("insert purchase: %w", pgutils.ConstraintViolation(err))
	}

	return id, nil
}

func (r *purchasesRepo) Update(tx *sql.Tx, s purchase.State, expectedVersion int64) error {
	var actualUnits sql.NullInt64
	if s.ActualUnitsReceived != nil {
		actualUnits = sql.NullInt64{Int64: int64(*s.ActualUnitsReceived), Valid: true}
	}

	var raw any
	if len(s.RawResponse) > 0 {
		raw = string(s.RawResponse)
	}

	res, err := tx.Exec(`
		UPDATE star_purchases
		SET external_transaction_id = $3,
		    actual_units_received   = $4,
		    main_balance_after      = $5,
		    status                  = $6,
		    initiated_at            = $7,
		    completed_at            = $8,
		    failure_reason          = $9,
		    external_error_code     = $10,
		    retryable               = $11,
		    raw_response            = $12,
		    version                 = $13
		WHERE purchase_id = $1
		  AND version = $2
	`, s.PurchaseID.String(), expectedVersion, s.ExternalTransactionID, actualUnits,
		s.MainBalanceAfter, string(s.Status), nullTime(s.InitiatedAt), nullTime(s.CompletedAt),
		s.FailureReason, s.ExternalErrorCode, s.Retryable, raw, s.Version)
	if err != nil {
		return fmt.Errorf("update purchase: %w", pgutils.ConstraintViolation(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return purchases.ErrVersionConflict
	}

	return nil
}
