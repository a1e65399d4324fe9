package dualbalance

import (
	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/money"
)

// RuleBankToMainOnly is the rule reported for an illegal transfer direction.
const RuleBankToMainOnly = "BANK_TO_MAIN_ONLY"

// TransferFailure is the structured payload of a BALANCE_TRANSFER_FAILED error.
type TransferFailure struct {
	Rule              string
	InsufficientFunds bool
	Shortfall         money.Money
}

func errDirection(from, to BalanceType) *apperr.Error {
	return apperr.New(apperr.CodeBalanceTransferFailed, "Transfers are only allowed from the bank balance to the main balance.", map[string]any{
		"rule": RuleBankToMainOnly,
		"from": string(from),
		"to":   string(to),
	})
}

func errTransferInsufficient(available, required money.Money) *apperr.Error {
	shortfall, err := required.Subtract(available)
	if err != nil {
		shortfall = money.Zero
	}

	return apperr.New(apperr.CodeBalanceTransferFailed, "Not enough funds on the bank balance.", map[string]any{
		"insufficient_funds": true,
		"shortfall":          shortfall,
		"available":          available,
		"required":           required,
	})
}

// TransferFailureOf extracts the transfer failure payload from err.
func TransferFailureOf(err error) (TransferFailure, bool) {
	if !apperr.IsCode(err, apperr.CodeBalanceTransferFailed) {
		return TransferFailure{}, false
	}

	e := apperr.From(err)

	var f TransferFailure
	f.Rule, _ = e.Context["rule"].(string)
	f.InsufficientFunds, _ = e.Context["insufficient_funds"].(bool)
	f.Shortfall, _ = e.Context["shortfall"].(money.Money)

	return f, true
}
