// Package apperr defines the error taxonomy shared by the ledger: every failure
// that crosses a package boundary carries a stable code, a kind, a severity and
// a correlation id.
package apperr

import "net/http"

// Code is a stable, machine-readable error code.
type Code string

const (
	// Validation
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeNegativeResult      Code = "NEGATIVE_RESULT"
	CodeUnsupportedCurrency Code = "UNSUPPORTED_CURRENCY"
	CodeInvalidIdentifier   Code = "INVALID_IDENTIFIER"

	// Balance ledger
	CodeInsufficientBalance      Code = "INSUFFICIENT_BALANCE"
	CodeInvalidTransaction       Code = "INVALID_TRANSACTION"
	CodeInvalidTransactionState  Code = "INVALID_TRANSACTION_STATE"
	CodeBalanceInactive          Code = "BALANCE_INACTIVE"
	CodeBalanceNotFound          Code = "BALANCE_NOT_FOUND"
	CodeTransactionNotFound      Code = "TRANSACTION_NOT_FOUND"
	CodeTransactionLimitExceeded Code = "TRANSACTION_LIMIT_EXCEEDED"

	// Concurrency
	CodeConcurrentModification      Code = "CONCURRENT_MODIFICATION"
	CodeConcurrentOperationExceeded Code = "CONCURRENT_OPERATION_EXCEEDED"

	// Transfers between bank and main balances
	CodeBalanceTransferFailed Code = "BALANCE_TRANSFER_FAILED"

	// Star purchases
	CodeInvalidPurchaseAmount    Code = "INVALID_PURCHASE_AMOUNT"
	CodeInvalidUnitsCount        Code = "INVALID_UNITS_COUNT"
	CodeInvalidPackage           Code = "INVALID_PACKAGE"
	CodePurchaseAlreadyTerminal  Code = "PURCHASE_ALREADY_TERMINAL"
	CodePurchaseAlreadyInitiated Code = "PURCHASE_ALREADY_INITIATED"
	CodePurchaseNotTimedOut      Code = "PURCHASE_NOT_TIMED_OUT"
	CodePurchaseNotFound         Code = "PURCHASE_NOT_FOUND"
	CodeStarPurchaseFailed       Code = "STAR_PURCHASE_FAILED"

	// Security
	CodeUnauthorizedAdminOperation Code = "UNAUTHORIZED_ADMIN_OPERATION"
	CodeSecurityViolation          Code = "SECURITY_VIOLATION"

	// Defects
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Definition is the registry entry for a code.
type Definition struct {
	Code       Code
	Kind       Kind
	Severity   Severity
	Message    string // default user-facing message
	HTTPStatus int
	Retryable  bool
}

// registry is built once and only read afterwards.
var registry = buildRegistry()

func buildRegistry() map[Code]Definition {
	defs := []Definition{
		{CodeValidationFailed, KindValidation, SeverityLow, "The request contains invalid fields.", http.StatusBadRequest, false},
		{CodeInvalidAmount, KindValidation, SeverityLow, "The amount is not valid.", http.StatusBadRequest, false},
		{CodeNegativeResult, KindValidation, SeverityMedium, "The operation would produce a negative amount.", http.StatusUnprocessableEntity, false},
		{CodeUnsupportedCurrency, KindValidation, SeverityLow, "The currency is not supported.", http.StatusBadRequest, false},
		{CodeInvalidIdentifier, KindValidation, SeverityLow, "The identifier is not valid.", http.StatusBadRequest, false},

		{CodeInsufficientBalance, KindBusiness, SeverityMedium, "Insufficient balance for this operation.", http.StatusConflict, false},
		{CodeInvalidTransaction, KindBusiness, SeverityMedium, "The transaction is not valid.", http.StatusUnprocessableEntity, false},
		{CodeInvalidTransactionState, KindBusiness, SeverityHigh, "The transaction cannot change from its current state.", http.StatusConflict, false},
		{CodeBalanceInactive, KindBusiness, SeverityMedium, "The balance is not active.", http.StatusConflict, false},
		{CodeBalanceNotFound, KindBusiness, SeverityLow, "Balance not found.", http.StatusNotFound, false},
		{CodeTransactionNotFound, KindBusiness, SeverityLow, "Transaction not found.", http.StatusNotFound, false},
		{CodeTransactionLimitExceeded, KindBusiness, SeverityHigh, "The amount exceeds the allowed limit.", http.StatusUnprocessableEntity, false},

		{CodeConcurrentModification, KindConflict, SeverityLow, "The balance was changed by another operation, please try again.", http.StatusConflict, true},
		{CodeConcurrentOperationExceeded, KindConflict, SeverityLow, "Too many operations in progress, please try again.", http.StatusTooManyRequests, true},

		{CodeBalanceTransferFailed, KindBusiness, SeverityMedium, "The transfer could not be completed.", http.StatusConflict, false},

		{CodeInvalidPurchaseAmount, KindValidation, SeverityLow, "The purchase amount is not valid.", http.StatusBadRequest, false},
		{CodeInvalidUnitsCount, KindValidation, SeverityLow, "The number of stars is not valid.", http.StatusBadRequest, false},
		{CodeInvalidPackage, KindValidation, SeverityLow, "This star package is not available.", http.StatusBadRequest, false},
		{CodePurchaseAlreadyTerminal, KindBusiness, SeverityHigh, "The purchase is already finished.", http.StatusConflict, false},
		{CodePurchaseAlreadyInitiated, KindBusiness, SeverityHigh, "The purchase is already in progress.", http.StatusConflict, false},
		{CodePurchaseNotTimedOut, KindBusiness, SeverityMedium, "The purchase has not timed out yet.", http.StatusConflict, false},
		{CodePurchaseNotFound, KindBusiness, SeverityLow, "Purchase not found.", http.StatusNotFound, false},
		{CodeStarPurchaseFailed, KindExternal, SeverityHigh, "The star purchase failed.", http.StatusBadGateway, false},

		{CodeUnauthorizedAdminOperation, KindSecurity, SeverityCritical, "You are not allowed to perform this operation.", http.StatusForbidden, false},
		{CodeSecurityViolation, KindSecurity, SeverityCritical, "You are not allowed to perform this operation.", http.StatusForbidden, false},

		{CodeInvariantViolation, KindInvariant, SeverityCritical, "An internal error occurred.", http.StatusInternalServerError, false},
		{CodeInternal, KindInternal, SeverityHigh, "An internal error occurred.", http.StatusInternalServerError, false},
	}

	m := make(map[Code]Definition, len(defs))
	for _, d := range defs {
		m[d.Code] = d
	}

	return m
}

// Lookup returns the registry entry for code.
func Lookup(code Code) (Definition, bool) {
	d, ok := registry[code]
	return d, ok
}

// HTTPStatus maps a code to a response status, defaulting to 500.
func (c Code) HTTPStatus() int {
	d, ok := registry[c]
	if !ok {
		return http.StatusInternalServerError
	}

	return d.HTTPStatus
}
