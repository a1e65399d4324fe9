package balance

import (
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/shopspring/decimal"
)

// Account addresses one balance.
type Account struct {
	UserID   ids.UserID
	Currency money.Currency
}

type DepositRequest struct {
	Account
	TransactionID ids.TransactionID // optional; replays return the stored entry
	Amount        money.Money
	Source        string
	Description   string
}

type WithdrawRequest struct {
	Account
	TransactionID ids.TransactionID
	Amount        money.Money
	Description   string
}

type ReserveRequest struct {
	Account
	TransactionID ids.TransactionID
	Amount        money.Money
	OrderID       string
}

type ReleaseRequest struct {
	Account
	OrderID string
	Reason  string
}

type CaptureRequest struct {
	Account
	OrderID string
	Amount  money.Money
}

type RefundRequest struct {
	Account
	TransactionID ids.TransactionID
	Amount        money.Money
	OrderID       string
	Description   string
}

type AdjustRequest struct {
	Account
	TransactionID ids.TransactionID
	Delta         decimal.Decimal
	Reason        string
	AdminID       ids.UserID
}

// View is a balance as seen by callers.
type View struct {
	Balance   ledger.BalanceState
	Reserved  money.Money
	Available money.Money
}

// Result is the outcome of a mutation. Replayed is set when the transaction
// id had already been processed and nothing was applied.
type Result struct {
	View
	Transaction ledger.TransactionState
	Replayed    bool
}

func viewOf(b *ledger.Balance) (View, error) {
	reserved, err := b.Reserved()
	if err != nil {
		return View{}, err
	}

	available, err := b.Available()
	if err != nil {
		return View{}, err
	}

	return View{
		Balance:   b.State(),
		Reserved:  reserved,
		Available: available,
	}, nil
}
