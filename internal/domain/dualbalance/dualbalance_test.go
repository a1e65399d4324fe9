package dualbalance

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func withBank(t *testing.T, amount string) *DualBalance {
	t.Helper()

	d := New(7, money.USD, t0)
	if err := d.DepositToBank(money.MustParse(amount), t0); err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	d.MarkPersisted(1)

	return d
}

func TestTransfer_BankToMain(t *testing.T) {
	t.Parallel()

	d := withBank(t, "200.00")

	res, err := d.Transfer(money.MustParse("200.00"), Bank, Main, t0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if d.Bank().String() != "0.00" || d.Main().String() != "200.00" {
		t.Fatalf("after transfer: bank=%s main=%s", d.Bank(), d.Main())
	}
	if res.BankBefore.String() != "200.00" || res.MainAfter.String() != "200.00" {
		t.Fatalf("result images: %+v", res)
	}

	evs := d.Events()
	if len(evs) != 2 {
		t.Fatalf("want 2 events, got %d", len(evs))
	}
	if _, ok := evs[0].(events.BalanceTransferInitiated); !ok {
		t.Fatalf("first event: want Initiated, got %T", evs[0])
	}
	done, ok := evs[1].(events.BalanceTransferCompleted)
	if !ok || done.TransferID != res.TransferID {
		t.Fatalf("second event: %+v", evs[1])
	}

	d.MarkPersisted(1)

	_, err = d.Transfer(money.MustParse("1.00"), Bank, Main, t0)
	f, ok := TransferFailureOf(err)
	if !ok || !f.InsufficientFunds || f.Shortfall.String() != "1.00" {
		t.Fatalf("want insufficient transfer with shortfall 1.00, got %v (%+v)", err, f)
	}
	if len(d.Events()) != 1 {
		t.Fatalf("failed transfer must leave only the Initiated event, got %d", len(d.Events()))
	}
	if d.Bank().String() != "0.00" || d.Main().String() != "200.00" {
		t.Fatalf("failed transfer mutated balances")
	}
}

func TestTransfer_Direction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to BalanceType
	}{
		{"main_to_bank", Main, Bank},
		{"bank_to_bank", Bank, Bank},
		{"main_to_main", Main, Main},
		{"unknown", BalanceType("SAVINGS"), Main},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := withBank(t, "50.00")

			_, err := d.Transfer(money.MustParse("10.00"), tt.from, tt.to, t0)
			f, ok := TransferFailureOf(err)
			if !ok || f.Rule != RuleBankToMainOnly || f.InsufficientFunds {
				t.Fatalf("want BANK_TO_MAIN_ONLY, got %v", err)
			}
			if len(d.Events()) != 0 {
				t.Fatalf("direction failure must not emit events")
			}
		})
	}
}

func TestSpendAndRefundMain(t *testing.T) {
	t.Parallel()

	d := withBank(t, "100.00")
	if _, err := d.Transfer(money.MustParse("60.00"), Bank, Main, t0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	pid := ids.NewPurchaseID()

	before, after, err := d.SpendFromMain(pid, money.MustParse("45.00"), t0)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if before.String() != "60.00" || after.String() != "15.00" {
		t.Fatalf("spend images: %s -> %s", before, after)
	}

	_, _, err = d.SpendFromMain(pid, money.MustParse("15.01"), t0)
	if !apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("want INSUFFICIENT_BALANCE, got %v", err)
	}

	d.Deactivate(t0)

	got, err := d.RefundToMain(pid, money.MustParse("45.00"), "timeout", t0)
	if err != nil {
		t.Fatalf("refund on inactive: %v", err)
	}
	if got.String() != "60.00" {
		t.Fatalf("main after refund: %s", got)
	}

	if err := d.DepositToBank(money.MustParse("1.00"), t0); !apperr.IsCode(err, apperr.CodeBalanceInactive) {
		t.Fatalf("want BALANCE_INACTIVE, got %v", err)
	}
}

// Completed transfers always move exactly amount, never more than the bank
// side held.
func TestTransfer_RandomConservesFunds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 11))
	d := New(9, money.EUR, t0)

	for i := 0; i < 500; i++ {
		amount, _ := money.FromCents(rng.Int64N(10_000) + 1)

		if rng.IntN(3) == 0 {
			if err := d.DepositToBank(amount, t0); err != nil {
				t.Fatalf("step %d deposit: %v", i, err)
			}
			continue
		}

		bank, mainBefore := d.Bank(), d.Main()

		_, err := d.Transfer(amount, Bank, Main, t0)
		if amount.GreaterThan(bank) {
			if f, ok := TransferFailureOf(err); !ok || !f.InsufficientFunds {
				t.Fatalf("step %d: want insufficient, got %v", i, err)
			}
			continue
		}

		if err != nil {
			t.Fatalf("step %d transfer: %v", i, err)
		}

		wantBank, _ := bank.Subtract(amount)
		wantMain, _ := mainBefore.Add(amount)
		if !d.Bank().Equal(wantBank) || !d.Main().Equal(wantMain) {
			t.Fatalf("step %d: bank %s->%s main %s->%s amount %s", i, bank, d.Bank(), mainBefore, d.Main(), amount)
		}
		if err := d.CheckInvariant(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestParseBalanceType(t *testing.T) {
	t.Parallel()

	if bt, err := ParseBalanceType("BANK"); err != nil || bt != Bank {
		t.Fatalf("BANK: %v %v", bt, err)
	}
	if _, err := ParseBalanceType("bank"); !apperr.IsCode(err, apperr.CodeValidationFailed) {
		t.Fatalf("lowercase: want VALIDATION_FAILED, got %v", err)
	}
}

func TestDepositToBank_UpperBound(t *testing.T) {
	t.Parallel()

	d := withBank(t, "9999999999.99")

	err := d.DepositToBank(money.MustParse("0.01"), t0)
	if !apperr.IsCode(err, apperr.CodeInvalidAmount) {
		t.Fatalf("want INVALID_AMOUNT, got %v", err)
	}
	if d.Bank().String() != "9999999999.99" || d.Version() != 1 || len(d.Events()) != 0 {
		t.Fatalf("state changed: bank=%s version=%d events=%d", d.Bank(), d.Version(), len(d.Events()))
	}
}
