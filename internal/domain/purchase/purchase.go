// Package purchase implements the star purchase state machine.
package purchase

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

// DefaultTimeout is how long a purchase may stay PENDING before a sweep may
// cancel it.
const DefaultTimeout = 30 * time.Minute

const ReasonTimeout = "timeout"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

var packages = []int{1, 3, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Packages returns the star package sizes that can be bought.
func Packages() []int { return slices.Clone(packages) }

// IsAllowedPackage reports whether units is a sellable package size.
func IsAllowedPackage(units int) bool {
	_, ok := slices.BinarySearch(packages, units)
	return ok
}

// Provider error codes that are worth retrying.
const (
	ErrCodeTemporary          = "TEMPORARY_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// IsRetryableCode classifies a provider error code.
func IsRetryableCode(code string) bool {
	switch code {
	case ErrCodeTemporary, ErrCodeRateLimited, ErrCodeServiceUnavailable:
		return true
	default:
		return false
	}
}

type State struct {
	ID                    int64
	PurchaseID            ids.PurchaseID
	UserID                ids.UserID
	DualBalanceID         ids.DualBalanceID
	ExternalTransactionID string
	Amount                money.Money
	RequestedUnits        int
	ActualUnitsReceived   *int
	MainBalanceBefore     money.Money
	MainBalanceAfter      money.Money
	Status                Status
	CreatedAt             time.Time
	InitiatedAt           *time.Time
	CompletedAt           *time.Time
	FailureReason         string
	ExternalErrorCode     string
	Retryable             bool
	RawResponse           json.RawMessage
	Version               int64
}

// NewParams describes a purchase whose price was already debited from the
// main balance.
type NewParams struct {
	PurchaseID        ids.PurchaseID
	UserID            ids.UserID
	DualBalanceID     ids.DualBalanceID
	Amount            money.Money
	RequestedUnits    int
	MainBalanceBefore money.Money
	MainBalanceAfter  money.Money
}

// Purchase is one attempt to buy a star package through the settlement
// provider.
type Purchase struct {
	s               State
	expectedVersion int64
	emitted         []events.Event
}

// Validate checks the amount and package size of a would-be purchase.
func Validate(amount money.Money, units int) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.CodeInvalidPurchaseAmount, "", map[string]any{"amount": amount})
	}

	if units <= 0 {
		return apperr.New(apperr.CodeInvalidUnitsCount, "", map[string]any{"requested_units": units})
	}

	if !IsAllowedPackage(units) {
		return apperr.New(apperr.CodeInvalidPackage, "", map[string]any{
			"requested_units": units,
			"allowed":         Packages(),
		})
	}

	return nil
}

func New(p NewParams, now time.Time) (*Purchase, error) {
	now = now.UTC()

	if err := Validate(p.Amount, p.RequestedUnits); err != nil {
		return nil, err
	}

	if p.PurchaseID == "" {
		p.PurchaseID = ids.NewPurchaseID()
	}

	pu := &Purchase{s: State{
		PurchaseID:        p.PurchaseID,
		UserID:            p.UserID,
		DualBalanceID:     p.DualBalanceID,
		Amount:            p.Amount,
		RequestedUnits:    p.RequestedUnits,
		MainBalanceBefore: p.MainBalanceBefore,
		MainBalanceAfter:  p.MainBalanceAfter,
		Status:            StatusPending,
		CreatedAt:         now,
		Version:           1,
	}}

	pu.emitted = append(pu.emitted, events.PurchaseCreated{
		PurchaseID:     pu.s.PurchaseID,
		UserID:         pu.s.UserID,
		DualBalanceID:  pu.s.DualBalanceID,
		Amount:         pu.s.Amount,
		RequestedUnits: pu.s.RequestedUnits,
		At:             now,
	})

	return pu, nil
}

// Restore rebuilds a purchase from storage.
func Restore(s State) *Purchase {
	return &Purchase{s: s, expectedVersion: s.Version}
}

func (p *Purchase) State() State               { return p.s }
func (p *Purchase) ID() int64                  { return p.s.ID }
func (p *Purchase) PurchaseID() ids.PurchaseID { return p.s.PurchaseID }
func (p *Purchase) UserID() ids.UserID         { return p.s.UserID }
func (p *Purchase) Amount() money.Money        { return p.s.Amount }
func (p *Purchase) Status() Status             { return p.s.Status }
func (p *Purchase) IsInitiated() bool          { return p.s.ExternalTransactionID != "" }
func (p *Purchase) Version() int64             { return p.s.Version }
func (p *Purchase) ExpectedVersion() int64     { return p.expectedVersion }
func (p *Purchase) IsNew() bool                { return p.expectedVersion == 0 }
func (p *Purchase) Events() []events.Event     { return p.emitted }

func (p *Purchase) MarkPersisted(id int64) {
	p.s.ID = id
	p.expectedVersion = p.s.Version
	p.emitted = nil
}

func (p *Purchase) ensureOpen() error {
	if p.s.Status.IsTerminal() {
		return apperr.New(apperr.CodePurchaseAlreadyTerminal, "", map[string]any{
			"purchase_id": p.s.PurchaseID.String(),
			"status":      string(p.s.Status),
		})
	}

	return nil
}

// Initiate correlates the purchase with the provider's transaction. The
// purchase stays PENDING.
func (p *Purchase) Initiate(externalTxID string, now time.Time) error {
	now = now.UTC()

	if err := p.ensureOpen(); err != nil {
		return err
	}

	if p.IsInitiated() {
		return apperr.New(apperr.CodePurchaseAlreadyInitiated, "", map[string]any{
			"purchase_id":             p.s.PurchaseID.String(),
			"external_transaction_id": p.s.ExternalTransactionID,
		})
	}

	if externalTxID == "" {
		return apperr.Validation(apperr.FieldError{Field: "externalTransactionId", Message: "required"})
	}

	p.s.ExternalTransactionID = externalTxID
	p.s.InitiatedAt = &now
	p.s.Version++

	p.emitted = append(p.emitted, events.PurchaseInitiated{
		PurchaseID:            p.s.PurchaseID,
		UserID:                p.s.UserID,
		ExternalTransactionID: externalTxID,
		At:                    now,
	})

	return nil
}

// Complete records a successful settlement.
func (p *Purchase) Complete(actualUnits int, mainBalanceAfter money.Money, raw json.RawMessage, now time.Time) error {
	now = now.UTC()

	if err := p.ensureOpen(); err != nil {
		return err
	}

	if !p.IsInitiated() {
		return apperr.New(apperr.CodeInvalidTransactionState, "purchase was not initiated", map[string]any{
			"purchase_id": p.s.PurchaseID.String(),
		})
	}

	if actualUnits <= 0 {
		return apperr.New(apperr.CodeInvalidUnitsCount, "", map[string]any{"actual_units": actualUnits})
	}

	p.s.Status = StatusCompleted
	p.s.ActualUnitsReceived = &actualUnits
	p.s.MainBalanceAfter = mainBalanceAfter
	p.s.RawResponse = raw
	p.s.CompletedAt = &now
	p.s.Version++

	p.emitted = append(p.emitted, events.PurchaseCompleted{
		PurchaseID:            p.s.PurchaseID,
		UserID:                p.s.UserID,
		ExternalTransactionID: p.s.ExternalTransactionID,
		RequestedUnits:        p.s.RequestedUnits,
		UnitsReceived:         actualUnits,
		Amount:                p.s.Amount,
		MainBalanceAfter:      mainBalanceAfter,
		At:                    now,
	})

	return nil
}

// Fail records a settlement failure. The provider's error code decides
// whether the failure is retryable.
func (p *Purchase) Fail(reason, externalErrorCode string, now time.Time) error {
	now = now.UTC()

	if err := p.ensureOpen(); err != nil {
		return err
	}

	p.s.Status = StatusFailed
	p.s.FailureReason = reason
	p.s.ExternalErrorCode = externalErrorCode
	p.s.Retryable = IsRetryableCode(externalErrorCode)
	p.s.CompletedAt = &now
	p.s.Version++

	p.emitted = append(p.emitted, events.PurchaseFailed{
		PurchaseID:        p.s.PurchaseID,
		UserID:            p.s.UserID,
		Reason:            reason,
		ExternalErrorCode: externalErrorCode,
		IsRetryable:       p.s.Retryable,
		At:                now,
	})

	return nil
}

// Cancel cancels a PENDING purchase that has not been sent to the provider.
func (p *Purchase) Cancel(reason string, now time.Time) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}

	// the provider may already be delivering; only the timeout sweep can
	// give up on an initiated purchase
	if p.IsInitiated() {
		return apperr.New(apperr.CodePurchaseAlreadyInitiated, "", map[string]any{
			"purchase_id":             p.s.PurchaseID.String(),
			"external_transaction_id": p.s.ExternalTransactionID,
		})
	}

	return p.cancel(reason, now)
}

func (p *Purchase) cancel(reason string, now time.Time) error {
	now = now.UTC()

	p.s.Status = StatusCancelled
	p.s.FailureReason = reason
	p.s.CompletedAt = &now
	p.s.Version++

	p.emitted = append(p.emitted, events.PurchaseCancelled{
		PurchaseID: p.s.PurchaseID,
		UserID:     p.s.UserID,
		Reason:     reason,
		At:         now,
	})

	return nil
}

// IsTimedOut reports whether the purchase is still PENDING past threshold.
func (p *Purchase) IsTimedOut(now time.Time, threshold time.Duration) bool {
	return p.s.Status == StatusPending && now.After(p.s.CreatedAt.Add(threshold))
}

// TimeoutCancel cancels a purchase that has been PENDING longer than
// threshold.
func (p *Purchase) TimeoutCancel(now time.Time, threshold time.Duration) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}

	if !p.IsTimedOut(now, threshold) {
		return apperr.New(apperr.CodePurchaseNotTimedOut, "", map[string]any{
			"purchase_id": p.s.PurchaseID.String(),
			"deadline":    p.s.CreatedAt.Add(threshold),
		})
	}

	return p.cancel(ReasonTimeout, now)
}

// FailureError converts a failed purchase into the error returned to callers.
func (p *Purchase) FailureError() error {
	if p.s.Status != StatusFailed {
		return nil
	}

	e := apperr.New(apperr.CodeStarPurchaseFailed, "", map[string]any{
		"purchase_id":         p.s.PurchaseID.String(),
		"reason":              p.s.FailureReason,
		"external_error_code": p.s.ExternalErrorCode,
	})
	e.Retryable = p.s.Retryable

	return e
}
