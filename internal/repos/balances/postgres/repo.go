package balances

import (
	"database/sql"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/repos/balances"
)

var _ balances.Balances = (*balancesRepo)(nil)

type balancesRepo struct{ db *sql.DB }

func New(db *sql.DB) *balancesRepo {
	return &balancesRepo{db: db}
}

const selectColumns = `
	SELECT id, user_id, currency, current_balance, total_deposited, total_spent,
	       total_refunded, net_adjustments, active, created_at, last_updated, version
	FROM balances`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (ledger.BalanceState, error) {
	var (
		s      ledger.BalanceState
		userID int64
		id     int64
	)

	err := row.Scan(
		&id, &userID, &s.Currency, &s.CurrentBalance, &s.TotalDeposited, &s.TotalSpent,
		&s.TotalRefunded, &s.NetAdjustments, &s.Active, &s.CreatedAt, &s.LastUpdated, &s.Version,
	)
	if err != nil {
		return ledger.BalanceState{}, err
	}

	s.ID = ids.BalanceID(id)
	s.UserID = ids.UserID(userID)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastUpdated = s.LastUpdated.UTC()

	return s, nil
}
