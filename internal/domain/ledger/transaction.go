package ledger

import (
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

type TxType string

const (
	TxDeposit    TxType = "DEPOSIT"
	TxWithdrawal TxType = "WITHDRAWAL"
	TxPurchase   TxType = "PURCHASE"
	TxRefund     TxType = "REFUND"
	TxAdjustment TxType = "ADJUSTMENT"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// TransactionState is the persisted shape of a journal entry.
type TransactionState struct {
	ID            int64
	TransactionID ids.TransactionID
	BalanceID     ids.BalanceID
	UserID        ids.UserID
	Currency      money.Currency
	Type          TxType
	Amount        money.Money
	BalanceBefore money.Money
	BalanceAfter  money.Money
	Status        Status
	OrderID       string
	Source        string
	Description   string
	Reason        string
	ProcessedBy   *ids.UserID
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	CompletedAt   *time.Time
}

// Transaction is one balance-affecting journal entry. Only PENDING entries
// (reservations) can change, and only once.
type Transaction struct {
	s TransactionState
}

// RestoreTransaction rebuilds a transaction loaded from storage.
func RestoreTransaction(s TransactionState) *Transaction {
	return &Transaction{s: s}
}

// State returns a copy of the transaction's fields.
func (t *Transaction) State() TransactionState { return t.s }

func (t *Transaction) TransactionID() ids.TransactionID { return t.s.TransactionID }
func (t *Transaction) Type() TxType                     { return t.s.Type }
func (t *Transaction) Status() Status                   { return t.s.Status }
func (t *Transaction) Amount() money.Money              { return t.s.Amount }
func (t *Transaction) OrderID() string                  { return t.s.OrderID }
func (t *Transaction) BalanceBefore() money.Money       { return t.s.BalanceBefore }
func (t *Transaction) BalanceAfter() money.Money        { return t.s.BalanceAfter }
func (t *Transaction) IsPending() bool                  { return t.s.Status == StatusPending }

// IsExpired reports whether a pending reservation outlived its expiry.
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.IsPending() && t.s.ExpiresAt != nil && !now.Before(*t.s.ExpiresAt)
}

func (t *Transaction) transition(to Status, now time.Time) error {
	if t.s.Status != StatusPending {
		return errInvalidTransactionState(t.s.TransactionID, t.s.Status, to)
	}

	t.s.Status = to
	at := now.UTC()
	t.s.CompletedAt = &at

	return nil
}

func (t *Transaction) complete(before, after money.Money, now time.Time) error {
	if err := t.transition(StatusCompleted, now); err != nil {
		return err
	}

	t.s.BalanceBefore = before
	t.s.BalanceAfter = after

	return nil
}

func (t *Transaction) cancel(reason string, now time.Time) error {
	if err := t.transition(StatusCancelled, now); err != nil {
		return err
	}

	t.s.Reason = reason

	return nil
}

func (t *Transaction) fail(reason string, now time.Time) error {
	if err := t.transition(StatusFailed, now); err != nil {
		return err
	}

	t.s.Reason = reason

	return nil
}

func errInvalidTransactionState(id ids.TransactionID, from, to Status) *apperr.Error {
	return apperr.New(apperr.CodeInvalidTransactionState, "", map[string]any{
		"transaction_id": id.String(),
		"from":           string(from),
		"to":             string(to),
	})
}
