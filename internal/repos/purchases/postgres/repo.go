package purchases

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/repos/purchases"
)

var _ purchases.Purchases = (*purchasesRepo)(nil)

type purchasesRepo struct{ db *sql.DB }

func New(db *sql.DB) *purchasesRepo {
	return &purchasesRepo{db: db}
}

const selectColumns = `
	SELECT id, purchase_id, user_id, dual_balance_id, external_transaction_id, purchase_amount,
	       requested_units, actual_units_received, main_balance_before, main_balance_after,
	       status, created_at, initiated_at, completed_at, failure_reason, external_error_code,
	       retryable, raw_response, version
	FROM star_purchases`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (purchase.State, error) {
	var (
		s             purchase.State
		purchaseID    string
		userID        int64
		dualBalanceID int64
		status        string
		actualUnits   sql.NullInt64
		initiatedAt   sql.NullTime
		completedAt   sql.NullTime
		raw           []byte
	)

	err := row.Scan(
		&s.ID, &purchaseID, &userID, &dualBalanceID, &s.ExternalTransactionID, &s.Amount,
		&s.RequestedUnits, &actualUnits, &s.MainBalanceBefore, &s.MainBalanceAfter,
		&status, &s.CreatedAt, &initiatedAt, &completedAt, &s.FailureReason, &s.ExternalErrorCode,
		&s.Retryable, &raw, &s.Version,
	)
	if err != nil {
		return purchase.State{}, err
	}

	s.PurchaseID = ids.PurchaseID(purchaseID)
	s.UserID = ids.UserID(userID)
	s.DualBalanceID = ids.DualBalanceID(dualBalanceID)
	s.Status = purchase.Status(status)
	s.CreatedAt = s.CreatedAt.UTC()

	if actualUnits.Valid {
		units := int(actualUnits.Int64)
		s.ActualUnitsReceived = &units
	}

	if initiatedAt.Valid {
		t := initiatedAt.Time.UTC()
		s.InitiatedAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		s.CompletedAt = &t
	}

	if len(raw) > 0 {
		s.RawResponse = raw
	}

	return s, nil
}

func scanAll(rows *sql.Rows) ([]purchase.State, error) {
	//nolint:errcheck
	defer rows.Close()

	var out []purchase.State

	for rows.Next() {
		s, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}

		out = append(out, s)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
