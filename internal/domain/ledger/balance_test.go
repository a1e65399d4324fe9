package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func funded(t *testing.T, amount string) *Balance {
	t.Helper()

	b := NewBalance(42, money.USD, t0)
	if _, err := b.Deposit("", money.MustParse(amount), "card", "seed", t0); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	return b
}

func available(t *testing.T, b *Balance) string {
	t.Helper()

	avail, err := b.Available()
	if err != nil {
		t.Fatalf("available: %v", err)
	}

	return avail.String()
}

func TestBalance_Deposit(t *testing.T) {
	t.Parallel()

	b := NewBalance(42, money.USD, t0)

	tx, err := b.Deposit("", money.MustParse("100.00"), "card", "top up", t0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := b.Current().String(); got != "100.00" {
		t.Fatalf("current: want 100.00, got %s", got)
	}
	if got := b.State().TotalDeposited.String(); got != "100.00" {
		t.Fatalf("deposited: want 100.00, got %s", got)
	}
	if tx.Status() != StatusCompleted {
		t.Fatalf("status: want COMPLETED, got %s", tx.Status())
	}
	if tx.TransactionID() == "" {
		t.Fatalf("transaction id was not generated")
	}
	if b.Version() != 1 || b.ExpectedVersion() != 0 {
		t.Fatalf("versions: got %d/%d", b.Version(), b.ExpectedVersion())
	}
	if len(b.Added()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("want 1 added and 1 event, got %d/%d", len(b.Added()), len(b.Events()))
	}

	ev, ok := b.Events()[0].(events.BalanceDeposited)
	if !ok {
		t.Fatalf("want BalanceDeposited, got %T", b.Events()[0])
	}
	if !ev.BalanceBefore.IsZero() || ev.BalanceAfter.String() != "100.00" {
		t.Fatalf("event images: %s -> %s", ev.BalanceBefore, ev.BalanceAfter)
	}
}

func TestBalance_NonPositiveAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   func(b *Balance) error
	}{
		{"deposit", func(b *Balance) error { _, err := b.Deposit("", money.Zero, "", "", t0); return err }},
		{"withdraw", func(b *Balance) error { _, err := b.Withdraw("", money.Zero, "", t0); return err }},
		{"reserve", func(b *Balance) error { _, err := b.Reserve("", money.Zero, "O1", 0, t0); return err }},
		{"refund", func(b *Balance) error { _, err := b.Refund("", money.Zero, "", "", t0); return err }},
		{"adjust", func(b *Balance) error {
			_, err := b.AdjustBalance("", decimal.Zero, "noop", 7, t0)
			return err
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := funded(t, "10.00")
			before := b.State()

			err := tt.op(b)
			if !apperr.IsCode(err, apperr.CodeInvalidAmount) {
				t.Fatalf("want INVALID_AMOUNT, got %v", err)
			}
			if b.State() != before {
				t.Fatalf("state changed on failure")
			}
		})
	}
}

func TestBalance_Withdraw(t *testing.T) {
	t.Parallel()

	b := funded(t, "100.00")

	if _, err := b.Withdraw("", money.MustParse("25.50"), "cash out", t0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := b.Current().String(); got != "74.50" {
		t.Fatalf("current: want 74.50, got %s", got)
	}
	if got := b.State().TotalSpent.String(); got != "25.50" {
		t.Fatalf("spent: want 25.50, got %s", got)
	}

	before := b.State()
	nEvents := len(b.Events())

	_, err := b.Withdraw("", money.MustParse("1000.00"), "too much", t0)
	if !apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("want INSUFFICIENT_BALANCE, got %v", err)
	}

	avail, req, ok := InsufficientBalanceDetails(err)
	if !ok || avail.String() != "74.50" || req.String() != "1000.00" {
		t.Fatalf("details: ok=%v available=%s required=%s", ok, avail, req)
	}
	if b.State() != before || len(b.Events()) != nEvents {
		t.Fatalf("failed withdraw mutated the balance")
	}
}

func TestBalance_ReserveAndRelease(t *testing.T) {
	t.Parallel()

	b := funded(t, "500.00")

	tx, err := b.Reserve("", money.MustParse("100.00"), "O1", 0, t0)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if tx.Status() != StatusPending {
		t.Fatalf("want PENDING, got %s", tx.Status())
	}
	if b.Current().String() != "500.00" {
		t.Fatalf("reserve changed current: %s", b.Current())
	}
	if available(t, b) != "400.00" {
		t.Fatalf("available: want 400.00, got %s", available(t, b))
	}

	released, err := b.ReleaseReserved("O1", "user cancelled", t0)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 || released[0].Status() != StatusCancelled {
		t.Fatalf("release result: %+v", released)
	}
	if b.Current().String() != "500.00" || available(t, b) != "500.00" {
		t.Fatalf("after release: current=%s available=%s", b.Current(), available(t, b))
	}

	_, err = b.ReleaseReserved("O1", "again", t0)
	if !apperr.IsCode(err, apperr.CodeInvalidTransactionState) {
		t.Fatalf("second release: want INVALID_TRANSACTION_STATE, got %v", err)
	}
}

func TestBalance_ReserveChecksOutstandingHolds(t *testing.T) {
	t.Parallel()

	b := funded(t, "150.00")

	if _, err := b.Reserve("", money.MustParse("100.00"), "O1", 0, t0); err != nil {
		t.Fatalf("reserve O1: %v", err)
	}

	_, err := b.Reserve("", money.MustParse("60.00"), "O2", 0, t0)
	avail, _, ok := InsufficientBalanceDetails(err)
	if !ok || avail.String() != "50.00" {
		t.Fatalf("want insufficient with available 50.00, got %v", err)
	}

	_, err = b.Reserve("", money.MustParse("10.00"), "O1", 0, t0)
	if !apperr.IsCode(err, apperr.CodeInvalidTransaction) {
		t.Fatalf("duplicate order: want INVALID_TRANSACTION, got %v", err)
	}

	_, err = b.Withdraw("", money.MustParse("60.00"), "", t0)
	avail, _, ok = InsufficientBalanceDetails(err)
	if !ok || avail.String() != "50.00" {
		t.Fatalf("withdraw over held funds: want insufficient with available 50.00, got %v", err)
	}
	if b.Current().String() != "150.00" {
		t.Fatalf("failed withdraw changed current: %s", b.Current())
	}

	if _, err := b.Withdraw("", money.MustParse("50.00"), "", t0); err != nil {
		t.Fatalf("withdraw within available: %v", err)
	}
}

func TestBalance_HeldFundsSurviveWithdrawal(t *testing.T) {
	t.Parallel()

	b := funded(t, "500.00")

	if _, err := b.Reserve("", money.MustParse("400.00"), "O1", 0, t0); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := b.Withdraw("", money.MustParse("300.00"), "", t0)
	if !apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("want INSUFFICIENT_BALANCE, got %v", err)
	}
	if b.Current().String() != "500.00" || available(t, b) != "100.00" {
		t.Fatalf("after refused withdraw: current=%s available=%s", b.Current(), available(t, b))
	}

	if _, err := b.ProcessReservedPayment("O1", money.MustParse("400.00"), t0); err != nil {
		t.Fatalf("capture after refused withdraw: %v", err)
	}
	if b.Current().String() != "100.00" {
		t.Fatalf("after capture: current=%s", b.Current())
	}
}

func TestBalance_CreditsRespectUpperBound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   func(b *Balance) error
	}{
		{"deposit", func(b *Balance) error {
			_, err := b.Deposit("", money.MustParse("1.00"), "", "", t0)
			return err
		}},
		{"refund", func(b *Balance) error {
			_, err := b.Refund("", money.MustParse("0.01"), "O1", "", t0)
			return err
		}},
		{"adjust", func(b *Balance) error {
			_, err := b.AdjustBalance("", decimal.RequireFromString("0.01"), "support", 7, t0)
			return err
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := funded(t, "9999999999.99")
			version := b.Version()

			err := tt.op(b)
			if !apperr.IsCode(err, apperr.CodeInvalidAmount) {
				t.Fatalf("want INVALID_AMOUNT, got %v", err)
			}
			if b.Current().String() != "9999999999.99" || b.Version() != version || len(b.Added()) != 1 {
				t.Fatalf("state changed: current=%s version=%d added=%d", b.Current(), b.Version(), len(b.Added()))
			}
		})
	}
}

func TestBalance_ProcessReservedPayment(t *testing.T) {
	t.Parallel()

	b := funded(t, "500.00")

	if _, err := b.Reserve("", money.MustParse("100.00"), "O2", 0, t0); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	tx, err := b.ProcessReservedPayment("O2", money.MustParse("100.00"), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if tx.Status() != StatusCompleted {
		t.Fatalf("want COMPLETED, got %s", tx.Status())
	}
	if b.Current().String() != "400.00" || b.State().TotalSpent.String() != "100.00" {
		t.Fatalf("after capture: current=%s spent=%s", b.Current(), b.State().TotalSpent)
	}
	if tx.BalanceBefore().String() != "500.00" || tx.BalanceAfter().String() != "400.00" {
		t.Fatalf("images: %s -> %s", tx.BalanceBefore(), tx.BalanceAfter())
	}
	if len(b.Reservations()) != 0 {
		t.Fatalf("reservation still outstanding")
	}
	if len(b.Changed()) != 1 {
		t.Fatalf("want reservation tracked as changed")
	}

	_, err = b.ProcessReservedPayment("O2", money.MustParse("100.00"), t0)
	if !apperr.IsCode(err, apperr.CodeInvalidTransactionState) {
		t.Fatalf("want INVALID_TRANSACTION_STATE, got %v", err)
	}
}

func TestBalance_ProcessReservedPaymentRespectsOtherHolds(t *testing.T) {
	t.Parallel()

	b := funded(t, "100.00")

	if _, err := b.Reserve("", money.MustParse("40.00"), "A", 0, t0); err != nil {
		t.Fatalf("reserve A: %v", err)
	}
	if _, err := b.Reserve("", money.MustParse("50.00"), "B", 0, t0); err != nil {
		t.Fatalf("reserve B: %v", err)
	}

	_, err := b.ProcessReservedPayment("B", money.MustParse("70.00"), t0)
	if !apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("want INSUFFICIENT_BALANCE, got %v", err)
	}

	if _, err := b.ProcessReservedPayment("B", money.MustParse("60.00"), t0); err != nil {
		t.Fatalf("capture within spendable: %v", err)
	}
	if available(t, b) != "0.00" {
		t.Fatalf("available: want 0.00, got %s", available(t, b))
	}
}

func TestBalance_FailAndExpireReservations(t *testing.T) {
	t.Parallel()

	b := funded(t, "100.00")

	if _, err := b.Reserve("", money.MustParse("10.00"), "A", time.Minute, t0); err != nil {
		t.Fatalf("reserve A: %v", err)
	}
	if _, err := b.Reserve("", money.MustParse("10.00"), "B", time.Hour, t0); err != nil {
		t.Fatalf("reserve B: %v", err)
	}

	expired := b.ExpiredOrders(t0.Add(2 * time.Minute))
	if len(expired) != 1 || expired[0] != "A" {
		t.Fatalf("expired: %v", expired)
	}

	failed, err := b.FailReserved("B", "provider rejected", t0)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed[0].Status() != StatusFailed || failed[0].State().Reason != "provider rejected" {
		t.Fatalf("failed entry: %+v", failed[0].State())
	}

	if err := failed[0].cancel("late", t0); !apperr.IsCode(err, apperr.CodeInvalidTransactionState) {
		t.Fatalf("terminal entry: want INVALID_TRANSACTION_STATE, got %v", err)
	}
}

func TestBalance_RefundIsGross(t *testing.T) {
	t.Parallel()

	b := funded(t, "50.00")

	if _, err := b.Withdraw("", money.MustParse("20.00"), "", t0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := b.Refund("", money.MustParse("20.00"), "O9", "return", t0); err != nil {
		t.Fatalf("refund: %v", err)
	}

	s := b.State()
	if s.CurrentBalance.String() != "50.00" || s.TotalSpent.String() != "20.00" || s.TotalRefunded.String() != "20.00" {
		t.Fatalf("totals: %+v", s)
	}
}

func TestBalance_AdjustBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		delta    string
		admin    ids.UserID
		hold     string
		want     string
		wantCode apperr.Code
	}{
		{name: "credit", delta: "5.25", admin: 7, want: "15.25"},
		{name: "debit", delta: "-10.00", admin: 7, want: "0.00"},
		{name: "below_zero", delta: "-10.01", admin: 7, wantCode: apperr.CodeInvalidAmount},
		{name: "into_held_funds", delta: "-7.00", admin: 7, hold: "4.00", wantCode: apperr.CodeInvalidAmount},
		{name: "beside_held_funds", delta: "-6.00", admin: 7, hold: "4.00", want: "4.00"},
		{name: "no_admin", delta: "1.00", admin: 0, wantCode: apperr.CodeUnauthorizedAdminOperation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := funded(t, "10.00")
			if tt.hold != "" {
				if _, err := b.Reserve("", money.MustParse(tt.hold), "H", 0, t0); err != nil {
					t.Fatalf("reserve: %v", err)
				}
			}

			tx, err := b.AdjustBalance("", decimal.RequireFromString(tt.delta), "support", tt.admin, t0)
			if tt.wantCode != "" {
				if !apperr.IsCode(err, tt.wantCode) {
					t.Fatalf("want %s, got %v", tt.wantCode, err)
				}
				if apperr.From(err).Severity != apperr.SeverityCritical {
					t.Fatalf("adjustment failures are critical, got %s", apperr.From(err).Severity)
				}
				return
			}

			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			if b.Current().String() != tt.want {
				t.Fatalf("current: want %s, got %s", tt.want, b.Current())
			}
			if pb := tx.State().ProcessedBy; pb == nil || *pb != tt.admin {
				t.Fatalf("processedBy not recorded")
			}
			if err := b.CheckInvariant(); err != nil {
				t.Fatalf("invariant: %v", err)
			}
		})
	}
}

func TestBalance_Inactive(t *testing.T) {
	t.Parallel()

	b := funded(t, "10.00")
	b.Deactivate(t0)

	_, err := b.Deposit("", money.MustParse("1.00"), "", "", t0)
	if !apperr.IsCode(err, apperr.CodeBalanceInactive) {
		t.Fatalf("want BALANCE_INACTIVE, got %v", err)
	}

	b.Activate(t0)

	if _, err := b.Deposit("", money.MustParse("1.00"), "", "", t0); err != nil {
		t.Fatalf("deposit after activate: %v", err)
	}
}

func TestBalance_MarkPersisted(t *testing.T) {
	t.Parallel()

	b := funded(t, "10.00")
	b.MarkPersisted(99)

	if b.ID() != 99 || b.ExpectedVersion() != b.Version() || b.IsNew() {
		t.Fatalf("after persist: id=%d expected=%d version=%d", b.ID(), b.ExpectedVersion(), b.Version())
	}
	if len(b.Added()) != 0 || len(b.Events()) != 0 {
		t.Fatalf("pending changes not cleared")
	}
}

func TestRestoreBalance(t *testing.T) {
	t.Parallel()

	good := BalanceState{
		ID:             1,
		UserID:         42,
		Currency:       money.USD,
		CurrentBalance: money.MustParse("30.00"),
		TotalDeposited: money.MustParse("50.00"),
		TotalSpent:     money.MustParse("20.00"),
		Active:         true,
		Version:        3,
	}

	pending := RestoreTransaction(TransactionState{
		TransactionID: ids.NewTransactionID(),
		Type:          TxPurchase,
		Amount:        money.MustParse("5.00"),
		Status:        StatusPending,
		OrderID:       "O1",
	})

	b, err := RestoreBalance(good, []*Transaction{pending})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.ExpectedVersion() != 3 || available(t, b) != "25.00" {
		t.Fatalf("restored: expected=%d available=%s", b.ExpectedVersion(), available(t, b))
	}

	overHeld := RestoreTransaction(TransactionState{
		TransactionID: ids.NewTransactionID(),
		Type:          TxPurchase,
		Amount:        money.MustParse("30.01"),
		Status:        StatusPending,
		OrderID:       "O2",
	})

	_, err = RestoreBalance(good, []*Transaction{overHeld})
	if !apperr.IsCode(err, apperr.CodeInvariantViolation) {
		t.Fatalf("holds above current: want INVARIANT_VIOLATION, got %v", err)
	}

	bad := good
	bad.CurrentBalance = money.MustParse("31.00")

	_, err = RestoreBalance(bad, nil)
	if !apperr.IsCode(err, apperr.CodeInvariantViolation) {
		t.Fatalf("want INVARIANT_VIOLATION, got %v", err)
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Severity != apperr.SeverityCritical {
		t.Fatalf("invariant violations are critical")
	}
}
