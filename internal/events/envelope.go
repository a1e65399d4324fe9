package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateType names the aggregate stream an event belongs to.
type AggregateType string

const (
	AggregateBalance     AggregateType = "balance"
	AggregateDualBalance AggregateType = "dual_balance"
	AggregatePurchase    AggregateType = "star_purchase"
)

// Type is the stable wire name of an event.
type Type string

const (
	TypeBalanceDeposited         Type = "balance.deposited"
	TypeBalanceWithdrawn         Type = "balance.withdrawn"
	TypeFundsReserved            Type = "balance.funds_reserved"
	TypeReservationReleased      Type = "balance.reservation_released"
	TypeReservedPaymentProcessed Type = "balance.reserved_payment_processed"
	TypeBalanceRefunded          Type = "balance.refunded"
	TypeBalanceAdjusted          Type = "balance.adjusted"
	TypeBankDeposited            Type = "dual_balance.bank_deposited"
	TypeTransferInitiated        Type = "dual_balance.transfer_initiated"
	TypeTransferCompleted        Type = "dual_balance.transfer_completed"
	TypeMainBalanceDebited       Type = "dual_balance.main_debited"
	TypeMainBalanceCredited      Type = "dual_balance.main_credited"
	TypePurchaseCreated          Type = "star_purchase.created"
	TypePurchaseInitiated        Type = "star_purchase.initiated"
	TypePurchaseCompleted        Type = "star_purchase.completed"
	TypePurchaseFailed           Type = "star_purchase.failed"
	TypePurchaseCancelled        Type = "star_purchase.cancelled"
)

// Envelope is the serialized form written to the outbox and handed to sinks.
type Envelope struct {
	EventID       string          `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func balanceStream(userID fmt.Stringer, currency fmt.Stringer) string {
	return userID.String() + ":" + currency.String()
}

// Encode is the single place that maps every event variant to its stream and
// wire type.
//
//nolint:cyclop,funlen
func Encode(e Event) (Envelope, error) {
	var (
		aggType AggregateType
		aggID   string
		typ     Type
		at      time.Time
	)

	switch ev := e.(type) {
	case BalanceDeposited:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeBalanceDeposited, ev.At
	case BalanceWithdrawn:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeBalanceWithdrawn, ev.At
	case FundsReserved:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeFundsReserved, ev.At
	case ReservationReleased:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeReservationReleased, ev.At
	case ReservedPaymentProcessed:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeReservedPaymentProcessed, ev.At
	case BalanceRefunded:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeBalanceRefunded, ev.At
	case BalanceAdjusted:
		aggType, aggID, typ, at = AggregateBalance, balanceStream(ev.UserID, ev.Currency), TypeBalanceAdjusted, ev.At
	case BankDeposited:
		aggType, aggID, typ, at = AggregateDualBalance, ev.UserID.String(), TypeBankDeposited, ev.At
	case BalanceTransferInitiated:
		aggType, aggID, typ, at = AggregateDualBalance, ev.UserID.String(), TypeTransferInitiated, ev.At
	case BalanceTransferCompleted:
		aggType, aggID, typ, at = AggregateDualBalance, ev.UserID.String(), TypeTransferCompleted, ev.At
	case MainBalanceDebited:
		aggType, aggID, typ, at = AggregateDualBalance, ev.UserID.String(), TypeMainBalanceDebited, ev.At
	case MainBalanceCredited:
		aggType, aggID, typ, at = AggregateDualBalance, ev.UserID.String(), TypeMainBalanceCredited, ev.At
	case PurchaseCreated:
		aggType, aggID, typ, at = AggregatePurchase, ev.PurchaseID.String(), TypePurchaseCreated, ev.At
	case PurchaseInitiated:
		aggType, aggID, typ, at = AggregatePurchase, ev.PurchaseID.String(), TypePurchaseInitiated, ev.At
	case PurchaseCompleted:
		aggType, aggID, typ, at = AggregatePurchase, ev.PurchaseID.String(), TypePurchaseCompleted, ev.At
	case PurchaseFailed:
		aggType, aggID, typ, at = AggregatePurchase, ev.PurchaseID.String(), TypePurchaseFailed, ev.At
	case PurchaseCancelled:
		aggType, aggID, typ, at = AggregatePurchase, ev.PurchaseID.String(), TypePurchaseCancelled, ev.At
	default:
		return Envelope{}, fmt.Errorf("encode event: unknown variant %T", e)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}

	return Envelope{
		EventID:       uuid.NewString(),
		AggregateType: aggType,
		AggregateID:   aggID,
		Type:          typ,
		Payload:       payload,
		OccurredAt:    at.UTC(),
	}, nil
}

// EncodeAll encodes events preserving their order.
func EncodeAll(evs []Event) ([]Envelope, error) {
	out := make([]Envelope, 0, len(evs))

	for _, e := range evs {
		env, err := Encode(e)
		if err != nil {
			return nil, err
		}

		out = append(out, env)
	}

	return out, nil
}

// Decode turns an envelope back into its event variant.
//
//nolint:cyclop,funlen
func Decode(env Envelope) (Event, error) {
	var (
		e   Event
		err error
	)

	switch env.Type {
	case TypeBalanceDeposited:
		e, err = decodeAs[BalanceDeposited](env.Payload)
	case TypeBalanceWithdrawn:
		e, err = decodeAs[BalanceWithdrawn](env.Payload)
	case TypeFundsReserved:
		e, err = decodeAs[FundsReserved](env.Payload)
	case TypeReservationReleased:
		e, err = decodeAs[ReservationReleased](env.Payload)
	case TypeReservedPaymentProcessed:
		e, err = decodeAs[ReservedPaymentProcessed](env.Payload)
	case TypeBalanceRefunded:
		e, err = decodeAs[BalanceRefunded](env.Payload)
	case TypeBalanceAdjusted:
		e, err = decodeAs[BalanceAdjusted](env.Payload)
	case TypeBankDeposited:
		e, err = decodeAs[BankDeposited](env.Payload)
	case TypeTransferInitiated:
		e, err = decodeAs[BalanceTransferInitiated](env.Payload)
	case TypeTransferCompleted:
		e, err = decodeAs[BalanceTransferCompleted](env.Payload)
	case TypeMainBalanceDebited:
		e, err = decodeAs[MainBalanceDebited](env.Payload)
	case TypeMainBalanceCredited:
		e, err = decodeAs[MainBalanceCredited](env.Payload)
	case TypePurchaseCreated:
		e, err = decodeAs[PurchaseCreated](env.Payload)
	case TypePurchaseInitiated:
		e, err = decodeAs[PurchaseInitiated](env.Payload)
	case TypePurchaseCompleted:
		e, err = decodeAs[PurchaseCompleted](env.Payload)
	case TypePurchaseFailed:
		e, err = decodeAs[PurchaseFailed](env.Payload)
	case TypePurchaseCancelled:
		e, err = decodeAs[PurchaseCancelled](env.Payload)
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}

	return e, nil
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}

	return v, nil
}
