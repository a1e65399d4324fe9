package transactions

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

const selectColumns = `
	SELECT id, transaction_id, balance_id, user_id, currency, type, amount, balance_before,
	       balance_after, status, order_id, source, description, reason, processed_by,
	       created_at, expires_at, completed_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.TransactionState, error) {
	var (
		s           ledger.TransactionState
		txID        string
		balanceID   int64
		userID      int64
		typ, status string
		processedBy sql.NullInt64
		expiresAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&s.ID, &txID, &balanceID, &userID, &s.Currency, &typ, &s.Amount, &s.BalanceBefore,
		&s.BalanceAfter, &status, &s.OrderID, &s.Source, &s.Description, &s.Reason, &processedBy,
		&s.CreatedAt, &expiresAt, &completedAt,
	)
	if err != nil {
		return ledger.TransactionState{}, err
	}

	s.TransactionID = ids.TransactionID(txID)
	s.BalanceID = ids.BalanceID(balanceID)
	s.UserID = ids.UserID(userID)
	s.Type = ledger.TxType(typ)
	s.Status = ledger.Status(status)
	s.CreatedAt = s.CreatedAt.UTC()

	if processedBy.Valid {
		admin := ids.UserID(processedBy.Int64)
		s.ProcessedBy = &admin
	}

	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		s.ExpiresAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		s.CompletedAt = &t
	}

	return s, nil
}

func scanAll(rows *sql.Rows) ([]ledger.TransactionState, error) {
	//nolint:errcheck
	defer rows.Close()

	var out []ledger.TransactionState

	for rows.Next() {
		s, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		out = append(out, s)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return out, nil
}

func (r *transactionsRepo) Insert(tx *sql.Tx, s ledger.TransactionState) (int64, error) {
	var processedBy sql.NullInt64
	if s.ProcessedBy != nil {
		processedBy = sql.NullInt64{Int64: int64(*s.ProcessedBy), Valid: true}
	}

	var id int64

	err := tx.QueryRow(`
		INSERT INTO transactions (transaction_id, balance_id, user_id, currency, type, amount,
		                          balance_before, balance_after, status, order_id, source,
		                          description, reason, processed_by, created_at, expires_at,
		                          completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`, s.TransactionID.String(), int64(s.BalanceID), int64(s.UserID), s.Currency.Code(), string(s.Type),
		s.Amount, s.BalanceBefore, s.BalanceAfter, string(s.Status), s.OrderID, s.Source,
		s.Description, s.Reason, processedBy, s.CreatedAt, nullTime(s.ExpiresAt), nullTime(s.CompletedAt),
	).Scan(&id)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return 0, transactions.ErrDuplicateTransaction
		}

		return 0, fmt.Errorf("insert transaction: %w", pgutils.ConstraintViolation(err))
	}

	return id, nil
}

func (r *transactionsRepo) Settle(tx *sql.Tx, s ledger.TransactionState) error {
	res, err := tx.Exec(`
		UPDATE transactions
		SET status         = $2,
		    amount         = $3,
		    balance_before = $4,
		    balance_after  = $5,
		    reason         = $6,
		    completed_at   = $7
		WHERE transaction_id = $1
		  AND status = 'PENDING'
	`, s.TransactionID.String(), string(s.Status), s.Amount, s.BalanceBefore, s.BalanceAfter,
		s.Reason, nullTime(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("settle transaction: %w", pgutils.ConstraintViolation(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return transactions.ErrNotPending
	}

	return nil
}

func (r *transactionsRepo) Find(tx *sql.Tx, id ids.TransactionID) (ledger.TransactionState, error) {
	s, err := scanTransaction(tx.QueryRow(selectColumns+`
		WHERE transaction_id = $1
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.TransactionState{}, transactions.ErrNotFound
		}

		return ledger.TransactionState{}, fmt.Errorf("find transaction: %w", err)
	}

	return s, nil
}

// ListPending returns the open reservations of a balance, oldest first.
func (r *transactionsRepo) ListPending(tx *sql.Tx, balanceID ids.BalanceID) ([]ledger.TransactionState, error) {
	rows, err := tx.Query(selectColumns+`
		WHERE balance_id = $1
		  AND status = 'PENDING'
		ORDER BY created_at, id
	`, int64(balanceID))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	return scanAll(rows)
}
