package events

import (
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
)

func TestEncode_Streams(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	pid := ids.NewPurchaseID()

	tests := []struct {
		name    string
		ev      Event
		aggType AggregateType
		aggID   string
		typ     Type
	}{
		{"deposit", BalanceDeposited{UserID: 4, Currency: money.USD, At: at}, AggregateBalance, "4:USD", TypeBalanceDeposited},
		{"adjust", BalanceAdjusted{UserID: 4, Currency: money.XTR, At: at}, AggregateBalance, "4:XTR", TypeBalanceAdjusted},
		{"transfer", BalanceTransferInitiated{UserID: 9, At: at}, AggregateDualBalance, "9", TypeTransferInitiated},
		{"purchase", PurchaseFailed{PurchaseID: pid, UserID: 9, At: at}, AggregatePurchase, pid.String(), TypePurchaseFailed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if env.AggregateType != tt.aggType || env.AggregateID != tt.aggID || env.Type != tt.typ {
				t.Fatalf("envelope: %+v", env)
			}
			if env.EventID == "" || env.OccurredAt.Location() != time.UTC {
				t.Fatalf("event id or time: %q %v", env.EventID, env.OccurredAt)
			}
		})
	}
}

func TestEncodeDecode_PreservesPayload(t *testing.T) {
	t.Parallel()

	in := PurchaseFailed{
		PurchaseID:        ids.NewPurchaseID(),
		UserID:            12,
		Reason:            "provider busy",
		ExternalErrorCode: "RATE_LIMITED",
		IsRetryable:       true,
		At:                time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	env, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, ok := out.(PurchaseFailed)
	if !ok {
		t.Fatalf("want PurchaseFailed, got %T", out)
	}
	if !got.At.Equal(in.At) {
		t.Fatalf("time: want %v, got %v", in.At, got.At)
	}

	got.At = in.At
	if got != in {
		t.Fatalf("round trip: want %+v, got %+v", in, got)
	}
}

func TestEncodeAll_KeepsOrder(t *testing.T) {
	t.Parallel()

	amount := money.MustParse("5.00")
	evs := []Event{
		BalanceTransferInitiated{UserID: 1, Amount: amount},
		BalanceTransferCompleted{UserID: 1, Amount: amount},
	}

	envs, err := EncodeAll(evs)
	if err != nil {
		t.Fatalf("encode all: %v", err)
	}
	if len(envs) != 2 || envs[0].Type != TypeTransferInitiated || envs[1].Type != TypeTransferCompleted {
		t.Fatalf("order: %+v", envs)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := Decode(Envelope{Type: "balance.exploded", Payload: []byte(`{}`)}); err == nil {
		t.Fatalf("want error for unknown type")
	}
	if _, err := Encode(nil); err == nil {
		t.Fatalf("want error for nil event")
	}
}
