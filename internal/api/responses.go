package api

import (
	"time"

	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/services/balance"
)

type balanceResponse struct {
	UserID         ids.UserID     `json:"userId"`
	Currency       money.Currency `json:"currency"`
	Balance        money.Money    `json:"balance"`
	Reserved       money.Money    `json:"reserved"`
	Available      money.Money    `json:"available"`
	TotalDeposited money.Money    `json:"totalDeposited"`
	TotalSpent     money.Money    `json:"totalSpent"`
	TotalRefunded  money.Money    `json:"totalRefunded"`
	NetAdjustments string         `json:"netAdjustments"`
	Active         bool           `json:"active"`
	Version        int64          `json:"version"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}

func toBalance(v balance.View) balanceResponse {
	b := v.Balance

	return balanceResponse{
		UserID:         b.UserID,
		Currency:       b.Currency,
		Balance:        b.CurrentBalance,
		Reserved:       v.Reserved,
		Available:      v.Available,
		TotalDeposited: b.TotalDeposited,
		TotalSpent:     b.TotalSpent,
		TotalRefunded:  b.TotalRefunded,
		NetAdjustments: b.NetAdjustments.StringFixed(money.Scale),
		Active:         b.Active,
		Version:        b.Version,
		LastUpdated:    b.LastUpdated,
	}
}

type transactionResponse struct {
	TransactionID ids.TransactionID `json:"transactionId"`
	Type          ledger.TxType     `json:"type"`
	Status        ledger.Status     `json:"status"`
	Amount        money.Money       `json:"amount"`
	Currency      money.Currency    `json:"currency"`
	BalanceBefore money.Money       `json:"balanceBefore"`
	BalanceAfter  money.Money       `json:"balanceAfter"`
	OrderID       string            `json:"orderId,omitempty"`
	Description   string            `json:"description,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ProcessedBy   *ids.UserID       `json:"processedBy,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

func toTransaction(t ledger.TransactionState) transactionResponse {
	return transactionResponse{
		TransactionID: t.TransactionID,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount,
		Currency:      t.Currency,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		OrderID:       t.OrderID,
		Description:   t.Description,
		Reason:        t.Reason,
		ProcessedBy:   t.ProcessedBy,
		CreatedAt:     t.CreatedAt,
		ExpiresAt:     t.ExpiresAt,
		CompletedAt:   t.CompletedAt,
	}
}

// mutationResponse answers every balance mutation. Replayed is true when
// the transaction id had already been applied.
type mutationResponse struct {
	Balance     balanceResponse      `json:"balance"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
	Replayed    bool                 `json:"replayed"`
}

func toMutation(res balance.Result) mutationResponse {
	out := mutationResponse{Balance: toBalance(res.View), Replayed: res.Replayed}

	if res.Transaction.TransactionID != "" {
		t := toTransaction(res.Transaction)
		out.Transaction = &t
	}

	return out
}

type dualBalanceResponse struct {
	UserID                 ids.UserID     `json:"userId"`
	Currency               money.Currency `json:"currency"`
	BankBalance            money.Money    `json:"bankBalance"`
	MainBalance            money.Money    `json:"mainBalance"`
	TotalDepositedToBank   money.Money    `json:"totalDepositedToBank"`
	TotalTransferredToMain money.Money    `json:"totalTransferredToMain"`
	TotalSpentFromMain     money.Money    `json:"totalSpentFromMain"`
	TotalRefundedToMain    money.Money    `json:"totalRefundedToMain"`
	Active                 bool           `json:"active"`
	Version                int64          `json:"version"`
	LastUpdated            time.Time      `json:"lastUpdated"`
}

func toDualBalance(s dualbalance.State) dualBalanceResponse {
	return dualBalanceResponse{
		UserID:                 s.UserID,
		Currency:               s.Currency,
		BankBalance:            s.BankBalance,
		MainBalance:            s.MainBalance,
		TotalDepositedToBank:   s.TotalDepositedToBank,
		TotalTransferredToMain: s.TotalTransferredToMain,
		TotalSpentFromMain:     s.TotalSpentFromMain,
		TotalRefundedToMain:    s.TotalRefundedToMain,
		Active:                 s.Active,
		Version:                s.Version,
		LastUpdated:            s.LastUpdated,
	}
}

type transferResponse struct {
	TransferID string      `json:"transferId"`
	Amount     money.Money `json:"amount"`
	BankBefore money.Money `json:"bankBefore"`
	BankAfter  money.Money `json:"bankAfter"`
	MainBefore money.Money `json:"mainBefore"`
	MainAfter  money.Money `json:"mainAfter"`
	At         time.Time   `json:"at"`
}

func toTransfer(r dualbalance.TransferResult) transferResponse {
	return transferResponse(r)
}

type purchaseResponse struct {
	PurchaseID            ids.PurchaseID  `json:"purchaseId"`
	UserID                ids.UserID      `json:"userId"`
	Status                purchase.Status `json:"status"`
	Amount                money.Money     `json:"amount"`
	RequestedUnits        int             `json:"requestedUnits"`
	ActualUnitsReceived   *int            `json:"actualUnitsReceived,omitempty"`
	MainBalanceBefore     money.Money     `json:"mainBalanceBefore"`
	MainBalanceAfter      money.Money     `json:"mainBalanceAfter"`
	ExternalTransactionID string          `json:"externalTransactionId,omitempty"`
	FailureReason         string          `json:"failureReason,omitempty"`
	ExternalErrorCode     string          `json:"externalErrorCode,omitempty"`
	Retryable             bool            `json:"retryable"`
	CreatedAt             time.Time       `json:"createdAt"`
	InitiatedAt           *time.Time      `json:"initiatedAt,omitempty"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
}

func toPurchase(s purchase.State) purchaseResponse {
	return purchaseResponse{
		PurchaseID:            s.PurchaseID,
		UserID:                s.UserID,
		Status:                s.Status,
		Amount:                s.Amount,
		RequestedUnits:        s.RequestedUnits,
		ActualUnitsReceived:   s.ActualUnitsReceived,
		MainBalanceBefore:     s.MainBalanceBefore,
		MainBalanceAfter:      s.MainBalanceAfter,
		ExternalTransactionID: s.ExternalTransactionID,
		FailureReason:         s.FailureReason,
		ExternalErrorCode:     s.ExternalErrorCode,
		Retryable:             s.Retryable,
		CreatedAt:             s.CreatedAt,
		InitiatedAt:           s.InitiatedAt,
		CompletedAt:           s.CompletedAt,
	}
}
