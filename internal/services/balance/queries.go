package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/repos/balances"
	"github.com/fastprodman/starledger/internal/repos/transactions"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// GetBalance returns the balance with its reserved and available amounts
// (no locks; suitable for the GET endpoint).
func (s *Service) GetBalance(ctx context.Context, acc Account) (View, error) {
	v, err := pgutils.InTx(ctx, s.db, func(tx *sql.Tx) (View, error) {
		b, err := s.load(tx, acc, false, false)
		if err != nil {
			return View{}, err
		}

		return viewOf(b)
	})
	if err != nil {
		return View{}, fmt.Errorf("get balance: %w", err)
	}

	return v, nil
}

// ListBalances returns every balance of userID, one per currency.
func (s *Service) ListBalances(ctx context.Context, userID ids.UserID) ([]View, error) {
	list, err := s.balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}

	out := make([]View, 0, len(list))

	for _, state := range list {
		v, err := s.GetBalance(ctx, Account{UserID: userID, Currency: state.Currency})
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

// ListTransactions pages through a balance's journal, newest first.
func (s *Service) ListTransactions(ctx context.Context, acc Account, limit, offset int) ([]ledger.TransactionState, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	limit = min(limit, MaxPageSize)
	offset = max(offset, 0)

	state, err := s.balances.Get(ctx, acc.UserID, acc.Currency)
	if errors.Is(err, balances.ErrNotFound) {
		return nil, errBalanceNotFound(acc)
	}

	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	list, err := s.txns.ListByBalance(ctx, state.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return list, nil
}

// Verify replays the journal of a balance and checks the stored totals
// against it.
func (s *Service) Verify(ctx context.Context, acc Account) error {
	view, err := s.GetBalance(ctx, acc)
	if err != nil {
		return err
	}

	journal, err := s.txns.Journal(ctx, view.Balance.ID)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	entries := make([]*ledger.Transaction, 0, len(journal))
	for _, j := range journal {
		entries = append(entries, ledger.RestoreTransaction(j))
	}

	b, err := ledger.RestoreBalance(view.Balance, nil)
	if err != nil {
		return err
	}

	return b.Reconcile(entries)
}

// GetTransaction returns one journal entry by its id.
func (s *Service) GetTransaction(ctx context.Context, id ids.TransactionID) (ledger.TransactionState, error) {
	t, err := s.txns.Get(ctx, id)
	if errors.Is(err, transactions.ErrNotFound) {
		return ledger.TransactionState{}, errTransactionNotFound(id)
	}

	if err != nil {
		return ledger.TransactionState{}, fmt.Errorf("get transaction: %w", err)
	}

	return t, nil
}
