// Package events defines the closed set of domain events emitted by the ledger
// aggregates and their wire envelope.
package events

import (
	"time"

	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/shopspring/decimal"
)

// Event is implemented only by the types in this package.
type Event interface {
	isEvent()
}

// Balance ledger events. The aggregate id is "<userID>:<currency>".

type BalanceDeposited struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	Source        string            `json:"source"`
	Amount        money.Money       `json:"amount"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	At            time.Time         `json:"at"`
}

type BalanceWithdrawn struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	Amount        money.Money       `json:"amount"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	At            time.Time         `json:"at"`
}

type FundsReserved struct {
	UserID          ids.UserID        `json:"userId"`
	Currency        money.Currency    `json:"currency"`
	TransactionID   ids.TransactionID `json:"transactionId"`
	OrderID         string            `json:"orderId"`
	Amount          money.Money       `json:"amount"`
	AvailableBefore money.Money       `json:"availableBefore"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	At              time.Time         `json:"at"`
}

type ReservationReleased struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	OrderID       string            `json:"orderId"`
	Amount        money.Money       `json:"amount"`
	Reason        string            `json:"reason"`
	At            time.Time         `json:"at"`
}

type ReservedPaymentProcessed struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	OrderID       string            `json:"orderId"`
	Amount        money.Money       `json:"amount"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	At            time.Time         `json:"at"`
}

type BalanceRefunded struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	OrderID       string            `json:"orderId,omitempty"`
	Amount        money.Money       `json:"amount"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	At            time.Time         `json:"at"`
}

type BalanceAdjusted struct {
	UserID        ids.UserID        `json:"userId"`
	Currency      money.Currency    `json:"currency"`
	TransactionID ids.TransactionID `json:"transactionId"`
	Delta         decimal.Decimal   `json:"delta"`
	Reason        string            `json:"reason"`
	AdminID       ids.UserID        `json:"adminId"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	At            time.Time         `json:"at"`
}

// Dual balance events. The aggregate id is the user id.

type BankDeposited struct {
	UserID     ids.UserID  `json:"userId"`
	Amount     money.Money `json:"amount"`
	BankBefore money.Money `json:"bankBefore"`
	BankAfter  money.Money `json:"bankAfter"`
	At         time.Time   `json:"at"`
}

type BalanceTransferInitiated struct {
	UserID     ids.UserID  `json:"userId"`
	TransferID string      `json:"transferId"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Amount     money.Money `json:"amount"`
	BankBefore money.Money `json:"bankBefore"`
	MainBefore money.Money `json:"mainBefore"`
	At         time.Time   `json:"at"`
}

type BalanceTransferCompleted struct {
	UserID     ids.UserID  `json:"userId"`
	TransferID string      `json:"transferId"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Amount     money.Money `json:"amount"`
	BankAfter  money.Money `json:"bankAfter"`
	MainAfter  money.Money `json:"mainAfter"`
	At         time.Time   `json:"at"`
}

type MainBalanceDebited struct {
	UserID     ids.UserID     `json:"userId"`
	PurchaseID ids.PurchaseID `json:"purchaseId"`
	Amount     money.Money    `json:"amount"`
	MainBefore money.Money    `json:"mainBefore"`
	MainAfter  money.Money    `json:"mainAfter"`
	At         time.Time      `json:"at"`
}

type MainBalanceCredited struct {
	UserID     ids.UserID     `json:"userId"`
	PurchaseID ids.PurchaseID `json:"purchaseId"`
	Amount     money.Money    `json:"amount"`
	Reason     string         `json:"reason"`
	MainBefore money.Money    `json:"mainBefore"`
	MainAfter  money.Money    `json:"mainAfter"`
	At         time.Time      `json:"at"`
}

// Star purchase events. The aggregate id is the purchase id.

type PurchaseCreated struct {
	PurchaseID     ids.PurchaseID    `json:"purchaseId"`
	UserID         ids.UserID        `json:"userId"`
	DualBalanceID  ids.DualBalanceID `json:"dualBalanceId"`
	Amount         money.Money       `json:"amount"`
	RequestedUnits int               `json:"requestedUnits"`
	At             time.Time         `json:"at"`
}

type PurchaseInitiated struct {
	PurchaseID            ids.PurchaseID `json:"purchaseId"`
	UserID                ids.UserID     `json:"userId"`
	ExternalTransactionID string         `json:"externalTransactionId"`
	At                    time.Time      `json:"at"`
}

type PurchaseCompleted struct {
	PurchaseID            ids.PurchaseID `json:"purchaseId"`
	UserID                ids.UserID     `json:"userId"`
	ExternalTransactionID string         `json:"externalTransactionId"`
	RequestedUnits        int            `json:"requestedUnits"`
	UnitsReceived         int            `json:"unitsReceived"`
	Amount                money.Money    `json:"amount"`
	MainBalanceAfter      money.Money    `json:"mainBalanceAfter"`
	At                    time.Time      `json:"at"`
}

type PurchaseFailed struct {
	PurchaseID        ids.PurchaseID `json:"purchaseId"`
	UserID            ids.UserID     `json:"userId"`
	Reason            string         `json:"reason"`
	ExternalErrorCode string         `json:"externalErrorCode,omitempty"`
	IsRetryable       bool           `json:"isRetryable"`
	At                time.Time      `json:"at"`
}

type PurchaseCancelled struct {
	PurchaseID ids.PurchaseID `json:"purchaseId"`
	UserID     ids.UserID     `json:"userId"`
	Reason     string         `json:"reason"`
	At         time.Time      `json:"at"`
}

func (BalanceDeposited) isEvent()         {}
func (BalanceWithdrawn) isEvent()         {}
func (FundsReserved) isEvent()            {}
func (ReservationReleased) isEvent()      {}
func (ReservedPaymentProcessed) isEvent() {}
func (BalanceRefunded) isEvent()          {}
func (BalanceAdjusted) isEvent()          {}
func (BankDeposited) isEvent()            {}
func (BalanceTransferInitiated) isEvent() {}
func (BalanceTransferCompleted) isEvent() {}
func (MainBalanceDebited) isEvent()       {}
func (MainBalanceCredited) isEvent()      {}
func (PurchaseCreated) isEvent()          {}
func (PurchaseInitiated) isEvent()        {}
func (PurchaseCompleted) isEvent()        {}
func (PurchaseFailed) isEvent()           {}
func (PurchaseCancelled) isEvent()        {}
