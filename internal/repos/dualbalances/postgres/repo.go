package dualbalances

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/dualbalances"
)

var _ dualbalances.DualBalances = (*dualBalancesRepo)(nil)

type dualBalancesRepo struct{ db *sql.DB }

func New(db *sql.DB) *dualBalancesRepo {
	return &dualBalancesRepo{db: db}
}

const selectColumns = `
	SELECT id, user_id, currency, bank_balance, main_balance, total_deposited_to_bank,
	       total_transferred_to_main, total_spent_from_main, total_refunded_to_main,
	       active, created_at, last_updated, version
	FROM dual_balances`

func scan(row *sql.Row, op string) (dualbalance.State, error) {
	var (
		s      dualbalance.State
		id     int64
		userID int64
	)

	err := row.Scan(
		&id, &userID, &s.Currency, &s.BankBalance, &s.MainBalance, &s.TotalDepositedToBank,
		&s.TotalTransferredToMain, &s.TotalSpentFromMain, &s.TotalRefundedToMain,
		&s.Active, &s.CreatedAt, &s.LastUpdated, &s.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dualbalance.State{}, dualbalances.ErrNotFound
		}

		return dualbalance.State{}, fmt.Errorf("%s: %w", op, err)
	}

	s.ID = ids.DualBalanceID(id)
	s.UserID = ids.UserID(userID)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastUpdated = s.LastUpdated.UTC()

	return s, nil
}

func (r *dualBalancesRepo) Get(ctx context.Context, userID ids.UserID) (dualbalance.State, error) {
	return scan(r.db.QueryRowContext(ctx, selectColumns+`
		WHERE user_id = $1
	`, int64(userID)), "get dual balance")
}

func (r *dualBalancesRepo) Find(tx *sql.Tx, userID ids.UserID) (dualbalance.State, error) {
	return scan(tx.QueryRow(selectColumns+`
		WHERE user_id = $1
	`, int64(userID)), "find dual balance")
}

func (r *dualBalancesRepo) FindByID(tx *sql.Tx, id ids.DualBalanceID) (dualbalance.State, error) {
	return scan(tx.QueryRow(selectColumns+`
		WHERE id = $1
	`, int64(id)), "find dual balance by id")
}

func (r *dualBalancesRepo) Insert(tx *sql.Tx, s dualbalance.State) (ids.DualBalanceID, error) {
	var id int64

	err := tx.QueryRow(`
		INSERT INTO dual_balances (user_id, currency, bank_balance, main_balance,
		                           total_deposited_to_bank, total_transferred_to_main,
		                           total_spent_from_main, total_refunded_to_main, active,
		                           created_at, last_updated, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, int64(s.UserID), s.Currency.Code(), s.BankBalance, s.MainBalance, s.TotalDepositedToBank,
		s.TotalTransferredToMain, s.TotalSpentFromMain, s.TotalRefundedToMain, s.Active,
		s.CreatedAt, s.LastUpdated, s.Version,
	).Scan(&id)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return 0, dualbalances.ErrAlreadyExists
		}

		return 0, fmt.Errorf("insert dual balance: %w", pgutils.ConstraintViolation(err))
	}

	return ids.DualBalanceID(id), nil
}

func (r *dualBalancesRepo) Update(tx *sql.Tx, s dualbalance.State, expectedVersion int64) error {
	res, err := tx.Exec(`
		UPDATE dual_balances
		SET bank_balance              = $3,
		    main_balance              = $4,
		    total_deposited_to_bank   = $5,
		    total_transferred_to_main = $6,
		    total_spent_from_main     = $7,
		    total_refunded_to_main    = $8,
		    active                    = $9,
		    last_updated              = $10,
		    version                   = $11
		WHERE id = $1
		  AND version = $2
	`, int64(s.ID), expectedVersion, s.BankBalance, s.MainBalance, s.TotalDepositedToBank,
		s.TotalTransferredToMain, s.TotalSpentFromMain, s.TotalRefundedToMain, s.Active,
		s.LastUpdated, s.Version)
	if err != nil {
		return fmt.Errorf("update dual balance: %w", pgutils.ConstraintViolation(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return dualbalances.ErrVersionConflict
	}

	return nil
}
