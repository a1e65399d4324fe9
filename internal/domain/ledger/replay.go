package ledger

import (
	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/shopspring/decimal"
)

// Totals are the balance figures implied by a journal.
type Totals struct {
	CurrentBalance money.Money
	TotalDeposited money.Money
	TotalSpent     money.Money
	TotalRefunded  money.Money
	NetAdjustments decimal.Decimal
}

// Replay recomputes balance totals from the journal. Only COMPLETED entries
// count. Adjustment direction is taken from balanceAfter - balanceBefore.
func Replay(journal []*Transaction) (Totals, error) {
	tot := Totals{NetAdjustments: decimal.Zero}

	for _, t := range journal {
		if t.Status() != StatusCompleted {
			continue
		}

		var err error

		switch t.Type() {
		case TxDeposit:
			tot.TotalDeposited, err = tot.TotalDeposited.Add(t.Amount())
		case TxWithdrawal, TxPurchase:
			tot.TotalSpent, err = tot.TotalSpent.Add(t.Amount())
		case TxRefund:
			tot.TotalRefunded, err = tot.TotalRefunded.Add(t.Amount())
		case TxAdjustment:
			tot.NetAdjustments = tot.NetAdjustments.Add(t.BalanceAfter().Decimal().Sub(t.BalanceBefore().Decimal()))
		}

		if err != nil {
			return Totals{}, apperr.Invariant("journal totals out of range", map[string]any{
				"transaction_id": t.TransactionID().String(),
			})
		}
	}

	current := tot.TotalDeposited.Decimal().
		Sub(tot.TotalSpent.Decimal()).
		Add(tot.TotalRefunded.Decimal()).
		Add(tot.NetAdjustments)

	cur, err := money.Of(current)
	if err != nil {
		return Totals{}, apperr.Invariant("journal implies a negative balance", map[string]any{
			"replayed": current.StringFixed(money.Scale),
		})
	}

	tot.CurrentBalance = cur

	return tot, nil
}

// Reconcile compares the stored totals with the journal replay and returns
// an invariant violation on any drift.
func (b *Balance) Reconcile(journal []*Transaction) error {
	tot, err := Replay(journal)
	if err != nil {
		return err
	}

	drift := !tot.CurrentBalance.Equal(b.s.CurrentBalance) ||
		!tot.TotalDeposited.Equal(b.s.TotalDeposited) ||
		!tot.TotalSpent.Equal(b.s.TotalSpent) ||
		!tot.TotalRefunded.Equal(b.s.TotalRefunded) ||
		!tot.NetAdjustments.Equal(b.s.NetAdjustments)

	if drift {
		return apperr.Invariant("balance does not match its journal", map[string]any{
			"user_id":  b.s.UserID,
			"currency": b.s.Currency.Code(),
			"stored":   b.s.CurrentBalance.String(),
			"replayed": tot.CurrentBalance.String(),
		})
	}

	return nil
}
