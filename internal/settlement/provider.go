// Package settlement talks to the external star settlement provider.
package settlement

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

// Provider is the outbound contract used by the purchase flow. A non-nil
// error means no definite answer was received; a response with Success
// false is a definite rejection.
type Provider interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Confirm(ctx context.Context, externalTxID string) (ConfirmResponse, error)
}

type InitiateRequest struct {
	PurchaseID ids.PurchaseID `json:"purchaseId"`
	UserID     ids.UserID     `json:"userId"`
	Units      int            `json:"units"`
	Amount     money.Money    `json:"amount"`
	Currency   money.Currency `json:"currency"`
}

type InitiateResponse struct {
	Success               bool            `json:"success"`
	ExternalTransactionID string          `json:"transactionId"`
	ErrorCode             string          `json:"errorCode,omitempty"`
	Message               string          `json:"message,omitempty"`
	Raw                   json.RawMessage `json:"-"`
}

type ConfirmResponse struct {
	Success       bool            `json:"success"`
	UnitsReceived int             `json:"unitsReceived"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	Message       string          `json:"message,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// Error is a failed exchange with the provider.
type Error struct {
	Code    string
	Message string
	Raw     json.RawMessage
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "settlement " + e.Code + ": " + e.Cause.Error()
	}

	return "settlement " + e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func unavailable(cause error) *Error {
	return &Error{Code: purchase.ErrCodeServiceUnavailable, Message: "settlement provider unavailable", Cause: cause}
}

// Classify returns the provider error code and message for err. Anything
// that is not a provider answer counts as the provider being unavailable.
func Classify(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}

	return purchase.ErrCodeServiceUnavailable, "settlement provider unavailable"
}
