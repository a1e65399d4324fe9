package balance

import (
	"context"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"
	opReserve  = "reserve"
	opRelease  = "release_reserved"
	opCapture  = "process_reserved_payment"
	opRefund   = "refund"
	opAdjust   = "adjust_balance"
	opStatus   = "set_active"
	opExpire   = "release_expired"
)

// ReasonExpired is recorded on reservations cancelled by the expiry sweep.
const ReasonExpired = "expired"

// Deposit credits a balance, opening it on first use.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (Result, error) {
	u := unit{op: opDeposit, account: req.Account, txID: req.TransactionID, amount: req.Amount, create: true}

	if err := s.checkAmount(req.Amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.Deposit(req.TransactionID, req.Amount, req.Source, req.Description, now)
	}

	return s.run(ctx, u)
}

func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (Result, error) {
	u := unit{op: opWithdraw, account: req.Account, txID: req.TransactionID, amount: req.Amount}

	if err := s.checkAmount(req.Amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.Withdraw(req.TransactionID, req.Amount, req.Description, now)
	}

	return s.run(ctx, u)
}

// Reserve holds funds for an order. The balance row is locked so the
// availability check and the reservation insert cannot interleave with
// another reservation.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (Result, error) {
	u := unit{op: opReserve, account: req.Account, txID: req.TransactionID, amount: req.Amount, lock: true}

	if err := s.checkAmount(req.Amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.Reserve(req.TransactionID, req.Amount, req.OrderID, s.policy.ReservationTTL, now)
	}

	return s.run(ctx, u)
}

func (s *Service) ReleaseReserved(ctx context.Context, req ReleaseRequest) (Result, error) {
	u := unit{op: opRelease, account: req.Account}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		released, err := b.ReleaseReserved(req.OrderID, req.Reason, now)
		if err != nil {
			return nil, err
		}

		return released[0], nil
	}

	return s.run(ctx, u)
}

func (s *Service) ProcessReservedPayment(ctx context.Context, req CaptureRequest) (Result, error) {
	u := unit{op: opCapture, account: req.Account, amount: req.Amount, lock: true}

	if err := s.checkAmount(req.Amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.ProcessReservedPayment(req.OrderID, req.Amount, now)
	}

	return s.run(ctx, u)
}

func (s *Service) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	u := unit{op: opRefund, account: req.Account, txID: req.TransactionID, amount: req.Amount}

	if err := s.checkAmount(req.Amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.Refund(req.TransactionID, req.Amount, req.OrderID, req.Description, now)
	}

	return s.run(ctx, u)
}

// AdjustBalance applies an administrative correction. Only allow-listed
// admins may adjust; every failure is logged as critical.
func (s *Service) AdjustBalance(ctx context.Context, req AdjustRequest) (Result, error) {
	amount, err := money.Of(req.Delta.Abs())
	u := unit{op: opAdjust, account: req.Account, txID: req.TransactionID, amount: amount, create: true}

	if err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	if !s.isAdmin(req.AdminID) {
		return Result{}, s.fail(ctx, u, apperr.UnauthorizedAdminOperation(int64(req.AdminID), opAdjust))
	}

	if err := s.checkAmount(amount); err != nil {
		return Result{}, s.fail(ctx, u, err)
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		return b.AdjustBalance(req.TransactionID, req.Delta, req.Reason, req.AdminID, now)
	}

	res, err := s.run(ctx, u)
	if err != nil {
		return Result{}, err
	}

	s.logger.WarnContext(ctx, "balance adjusted",
		"user_id", req.UserID,
		"currency", req.Currency.Code(),
		"admin_id", req.AdminID,
		"delta", req.Delta.StringFixed(money.Scale),
		"reason", req.Reason,
	)

	return res, nil
}

// SetActive deactivates or re-activates a balance. Inactive balances reject
// every mutation except this one.
func (s *Service) SetActive(ctx context.Context, acc Account, active bool, adminID ids.UserID) (View, error) {
	u := unit{op: opStatus, account: acc}

	if !s.isAdmin(adminID) {
		return View{}, s.fail(ctx, u, apperr.UnauthorizedAdminOperation(int64(adminID), opStatus))
	}

	u.apply = func(b *ledger.Balance, now time.Time) (*ledger.Transaction, error) {
		if active {
			b.Activate(now)
		} else {
			b.Deactivate(now)
		}

		return nil, nil
	}

	res, err := s.run(ctx, u)
	if err != nil {
		return View{}, err
	}

	return res.View, nil
}
