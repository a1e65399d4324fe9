// Package dualbalance implements the per-user bank/main balance pair and the
// one-way transfer between them.
package dualbalance

import (
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/google/uuid"
)

// BalanceType names one side of a dual balance.
type BalanceType string

const (
	Bank BalanceType = "BANK"
	Main BalanceType = "MAIN"
)

// ParseBalanceType accepts BANK or MAIN.
func ParseBalanceType(s string) (BalanceType, error) {
	switch BalanceType(s) {
	case Bank, Main:
		return BalanceType(s), nil
	default:
		return "", apperr.Validation(apperr.FieldError{Field: "balanceType", Message: "must be BANK or MAIN"})
	}
}

type State struct {
	ID                     ids.DualBalanceID
	UserID                 ids.UserID
	Currency               money.Currency
	BankBalance            money.Money
	MainBalance            money.Money
	TotalDepositedToBank   money.Money
	TotalTransferredToMain money.Money
	TotalSpentFromMain     money.Money
	TotalRefundedToMain    money.Money
	Active                 bool
	CreatedAt              time.Time
	LastUpdated            time.Time
	Version                int64
}

// TransferResult is the outcome of a completed transfer.
type TransferResult struct {
	TransferID string
	Amount     money.Money
	BankBefore money.Money
	BankAfter  money.Money
	MainBefore money.Money
	MainAfter  money.Money
	At         time.Time
}

// DualBalance holds a user's bank balance, fed by deposits, and main balance,
// spent on purchases.
type DualBalance struct {
	s               State
	expectedVersion int64
	emitted         []events.Event
}

func New(userID ids.UserID, currency money.Currency, now time.Time) *DualBalance {
	now = now.UTC()

	return &DualBalance{s: State{
		UserID:      userID,
		Currency:    currency,
		Active:      true,
		CreatedAt:   now,
		LastUpdated: now,
	}}
}

// Restore rebuilds a dual balance from storage.
func Restore(s State) (*DualBalance, error) {
	d := &DualBalance{s: s, expectedVersion: s.Version}
	if err := d.CheckInvariant(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *DualBalance) State() State           { return d.s }
func (d *DualBalance) ID() ids.DualBalanceID  { return d.s.ID }
func (d *DualBalance) UserID() ids.UserID     { return d.s.UserID }
func (d *DualBalance) Bank() money.Money      { return d.s.BankBalance }
func (d *DualBalance) Main() money.Money      { return d.s.MainBalance }
func (d *DualBalance) Version() int64         { return d.s.Version }
func (d *DualBalance) ExpectedVersion() int64 { return d.expectedVersion }
func (d *DualBalance) IsNew() bool            { return d.expectedVersion == 0 }
func (d *DualBalance) Events() []events.Event { return d.emitted }

// MarkPersisted records a successful save.
func (d *DualBalance) MarkPersisted(id ids.DualBalanceID) {
	d.s.ID = id
	d.expectedVersion = d.s.Version
	d.emitted = nil
}

// CheckInvariant verifies both sides against their lifetime totals.
func (d *DualBalance) CheckInvariant() error {
	return checkTotals(d.s)
}

func checkTotals(s State) error {
	bank := s.TotalDepositedToBank.Decimal().Sub(s.TotalTransferredToMain.Decimal())
	mainSide := s.TotalTransferredToMain.Decimal().
		Sub(s.TotalSpentFromMain.Decimal()).
		Add(s.TotalRefundedToMain.Decimal())

	if !bank.Equal(s.BankBalance.Decimal()) || !mainSide.Equal(s.MainBalance.Decimal()) {
		return apperr.Invariant("dual balance totals do not add up", map[string]any{
			"user_id": s.UserID,
			"bank":    s.BankBalance.String(),
			"main":    s.MainBalance.String(),
		})
	}

	return nil
}

func (d *DualBalance) commit(next State, now time.Time) error {
	next.LastUpdated = now
	next.Version++

	if err := checkTotals(next); err != nil {
		return err
	}

	d.s = next

	return nil
}

// credit adds amount to every field, failing with INVALID_AMOUNT if one of
// them would leave the supported range.
func credit(amount money.Money, fields ...*money.Money) error {
	for _, f := range fields {
		sum, err := f.Add(amount)
		if err != nil {
			return err
		}

		*f = sum
	}

	return nil
}

func (d *DualBalance) ensureActive() error {
	if !d.s.Active {
		return apperr.New(apperr.CodeBalanceInactive, "", map[string]any{"user_id": d.s.UserID})
	}

	return nil
}

// DepositToBank credits the bank side.
func (d *DualBalance) DepositToBank(amount money.Money, now time.Time) error {
	now = now.UTC()

	if err := d.ensureActive(); err != nil {
		return err
	}

	if !amount.IsPositive() {
		return apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero", nil)
	}

	before := d.s.BankBalance
	next := d.s
	if err := credit(amount, &next.BankBalance, &next.TotalDepositedToBank); err != nil {
		return err
	}

	if err := d.commit(next, now); err != nil {
		return err
	}

	d.emitted = append(d.emitted, events.BankDeposited{
		UserID:     d.s.UserID,
		Amount:     amount,
		BankBefore: before,
		BankAfter:  d.s.BankBalance,
		At:         now,
	})

	return nil
}

// Transfer moves amount from one side to the other. Only BANK to MAIN is
// legal. BalanceTransferInitiated is emitted before the balances change and
// BalanceTransferCompleted after; a transfer that fails on funds leaves only
// the Initiated event behind.
func (d *DualBalance) Transfer(amount money.Money, from, to BalanceType, now time.Time) (TransferResult, error) {
	now = now.UTC()

	if from != Bank || to != Main {
		return TransferResult{}, errDirection(from, to)
	}

	if err := d.ensureActive(); err != nil {
		return TransferResult{}, err
	}

	if !amount.IsPositive() {
		return TransferResult{}, apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero", nil)
	}

	res := TransferResult{
		TransferID: uuid.NewString(),
		Amount:     amount,
		BankBefore: d.s.BankBalance,
		MainBefore: d.s.MainBalance,
		At:         now,
	}

	d.emitted = append(d.emitted, events.BalanceTransferInitiated{
		UserID:     d.s.UserID,
		TransferID: res.TransferID,
		From:       string(from),
		To:         string(to),
		Amount:     amount,
		BankBefore: res.BankBefore,
		MainBefore: res.MainBefore,
		At:         now,
	})

	bankAfter, err := d.s.BankBalance.Subtract(amount)
	if err != nil {
		return TransferResult{}, errTransferInsufficient(d.s.BankBalance, amount)
	}

	next := d.s
	next.BankBalance = bankAfter

	if err := credit(amount, &next.MainBalance, &next.TotalTransferredToMain); err != nil {
		return TransferResult{}, err
	}

	if err := d.commit(next, now); err != nil {
		return TransferResult{}, err
	}

	res.BankAfter = d.s.BankBalance
	res.MainAfter = d.s.MainBalance

	d.emitted = append(d.emitted, events.BalanceTransferCompleted{
		UserID:     d.s.UserID,
		TransferID: res.TransferID,
		From:       string(from),
		To:         string(to),
		Amount:     amount,
		BankAfter:  res.BankAfter,
		MainAfter:  res.MainAfter,
		At:         now,
	})

	return res, nil
}

// SpendFromMain debits the main side for a purchase and returns the main
// balance before and after.
func (d *DualBalance) SpendFromMain(purchaseID ids.PurchaseID, amount money.Money, now time.Time) (before, after money.Money, err error) {
	now = now.UTC()

	if err := d.ensureActive(); err != nil {
		return money.Zero, money.Zero, err
	}

	if !amount.IsPositive() {
		return money.Zero, money.Zero, apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero", nil)
	}

	before = d.s.MainBalance

	after, err = before.Subtract(amount)
	if err != nil {
		return money.Zero, money.Zero, ledger.ErrInsufficientBalance(before, amount)
	}

	next := d.s
	next.MainBalance = after

	if err := credit(amount, &next.TotalSpentFromMain); err != nil {
		return money.Zero, money.Zero, err
	}

	if err := d.commit(next, now); err != nil {
		return money.Zero, money.Zero, err
	}

	d.emitted = append(d.emitted, events.MainBalanceDebited{
		UserID:     d.s.UserID,
		PurchaseID: purchaseID,
		Amount:     amount,
		MainBefore: before,
		MainAfter:  after,
		At:         now,
	})

	return before, after, nil
}

// RefundToMain credits the main side back for a purchase that did not
// complete. It is allowed on inactive balances so money is never stranded.
func (d *DualBalance) RefundToMain(purchaseID ids.PurchaseID, amount money.Money, reason string, now time.Time) (money.Money, error) {
	now = now.UTC()

	if !amount.IsPositive() {
		return money.Zero, apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero", nil)
	}

	before := d.s.MainBalance
	next := d.s
	if err := credit(amount, &next.MainBalance, &next.TotalRefundedToMain); err != nil {
		return money.Zero, err
	}

	if err := d.commit(next, now); err != nil {
		return money.Zero, err
	}

	d.emitted = append(d.emitted, events.MainBalanceCredited{
		UserID:     d.s.UserID,
		PurchaseID: purchaseID,
		Amount:     amount,
		Reason:     reason,
		MainBefore: before,
		MainAfter:  d.s.MainBalance,
		At:         now,
	})

	return d.s.MainBalance, nil
}

// Deactivate blocks deposits, transfers and spending.
func (d *DualBalance) Deactivate(now time.Time) {
	if !d.s.Active {
		return
	}

	d.s.Active = false
	d.s.LastUpdated = now.UTC()
	d.s.Version++
}
