package ledger

import (
	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

// ErrInsufficientBalance reports that required exceeds what is available.
func ErrInsufficientBalance(available, required money.Money) *apperr.Error {
	return apperr.New(apperr.CodeInsufficientBalance, "", map[string]any{
		"available": available,
		"required":  required,
	})
}

// InsufficientBalanceDetails extracts available/required from an
// INSUFFICIENT_BALANCE error.
func InsufficientBalanceDetails(err error) (available, required money.Money, ok bool) {
	if !apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		return money.Zero, money.Zero, false
	}

	e := apperr.From(err)

	available, ok1 := e.Context["available"].(money.Money)
	required, ok2 := e.Context["required"].(money.Money)

	return available, required, ok1 && ok2
}

func errNonPositiveAmount(op string) *apperr.Error {
	return apperr.New(apperr.CodeInvalidAmount, "amount must be greater than zero", map[string]any{
		"operation": op,
	})
}

func errInactive(userID ids.UserID, currency money.Currency) *apperr.Error {
	return apperr.New(apperr.CodeBalanceInactive, "", map[string]any{
		"user_id":  userID,
		"currency": currency.Code(),
	})
}

func errNoPendingReservation(orderID string) *apperr.Error {
	return apperr.New(apperr.CodeInvalidTransactionState, "no pending reservation for order", map[string]any{
		"order_id": orderID,
	})
}
