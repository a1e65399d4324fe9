// Package ledger implements the single-currency balance aggregate and its
// append-only transaction journal.
package ledger

import (
	"sort"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/shopspring/decimal"
)

// BalanceState is the persisted shape of a balance.
type BalanceState struct {
	ID             ids.BalanceID
	UserID         ids.UserID
	Currency       money.Currency
	CurrentBalance money.Money
	TotalDeposited money.Money
	TotalSpent     money.Money
	TotalRefunded  money.Money
	NetAdjustments decimal.Decimal // signed sum of administrative deltas
	Active         bool
	CreatedAt      time.Time
	LastUpdated    time.Time
	Version        int64
}

// Balance is the per user+currency account. It is loaded together with its
// PENDING reservations, mutated through its methods, and saved with a
// compare-and-swap on Version.
type Balance struct {
	s               BalanceState
	expectedVersion int64

	reservations []*Transaction // PENDING, oldest first
	added        []*Transaction
	changed      []*Transaction
	emitted      []events.Event
}

// NewBalance opens an empty, active balance. It has version 0 until saved.
func NewBalance(userID ids.UserID, currency money.Currency, now time.Time) *Balance {
	now = now.UTC()

	return &Balance{
		s: BalanceState{
			UserID:         userID,
			Currency:       currency,
			NetAdjustments: decimal.Zero,
			Active:         true,
			CreatedAt:      now,
			LastUpdated:    now,
		},
	}
}

// RestoreBalance rebuilds a balance from storage with its pending
// reservations. It fails if the stored totals are inconsistent.
func RestoreBalance(s BalanceState, pending []*Transaction) (*Balance, error) {
	b := &Balance{s: s, expectedVersion: s.Version}

	for _, t := range pending {
		if !t.IsPending() {
			return nil, apperr.Invariant("non-pending transaction loaded as reservation", map[string]any{
				"transaction_id": t.TransactionID().String(),
				"status":         string(t.Status()),
			})
		}

		b.reservations = append(b.reservations, t)
	}

	sort.SliceStable(b.reservations, func(i, j int) bool {
		return b.reservations[i].s.CreatedAt.Before(b.reservations[j].s.CreatedAt)
	})

	if err := b.CheckInvariant(); err != nil {
		return nil, err
	}

	return b, nil
}

// State returns a copy of the balance fields.
func (b *Balance) State() BalanceState { return b.s }

func (b *Balance) ID() ids.BalanceID        { return b.s.ID }
func (b *Balance) UserID() ids.UserID       { return b.s.UserID }
func (b *Balance) Currency() money.Currency { return b.s.Currency }
func (b *Balance) Current() money.Money     { return b.s.CurrentBalance }
func (b *Balance) Active() bool             { return b.s.Active }
func (b *Balance) Version() int64           { return b.s.Version }
func (b *Balance) ExpectedVersion() int64   { return b.expectedVersion }
func (b *Balance) IsNew() bool              { return b.expectedVersion == 0 }
func (b *Balance) Events() []events.Event   { return b.emitted }
func (b *Balance) Added() []*Transaction    { return b.added }
func (b *Balance) Changed() []*Transaction  { return b.changed }

func (b *Balance) Reservations() []*Transaction {
	out := make([]*Transaction, len(b.reservations))
	copy(out, b.reservations)

	return out
}

// Reserved is the sum of PENDING reservations.
func (b *Balance) Reserved() (money.Money, error) {
	amounts := make([]money.Money, 0, len(b.reservations))
	for _, t := range b.reservations {
		amounts = append(amounts, t.Amount())
	}

	total, err := money.Sum(amounts...)
	if err != nil {
		return money.Zero, apperr.Invariant("reserved total out of range", map[string]any{
			"user_id":  b.s.UserID,
			"currency": b.s.Currency.Code(),
		})
	}

	return total, nil
}

// Available is the current balance minus outstanding reservations. Holds
// above the current balance are an invariant violation.
func (b *Balance) Available() (money.Money, error) {
	reserved, err := b.Reserved()
	if err != nil {
		return money.Zero, err
	}

	avail, err := b.s.CurrentBalance.Subtract(reserved)
	if err != nil {
		return money.Zero, apperr.Invariant("reservations exceed the current balance", map[string]any{
			"user_id":         b.s.UserID,
			"currency":        b.s.Currency.Code(),
			"current_balance": b.s.CurrentBalance.String(),
			"reserved":        reserved.String(),
		})
	}

	return avail, nil
}

// MarkPersisted records a successful save: the stored row now has the
// current version and id.
func (b *Balance) MarkPersisted(id ids.BalanceID) {
	b.s.ID = id
	b.expectedVersion = b.s.Version

	for _, t := range b.added {
		t.s.BalanceID = id
	}

	b.added = nil
	b.changed = nil
	b.emitted = nil
}

// CheckInvariant verifies current == deposited - spent + refunded + adjustments.
func (b *Balance) CheckInvariant() error {
	if err := checkTotals(b.s); err != nil {
		return err
	}

	_, err := b.Available()

	return err
}

func checkTotals(s BalanceState) error {
	expected := s.TotalDeposited.Decimal().
		Sub(s.TotalSpent.Decimal()).
		Add(s.TotalRefunded.Decimal()).
		Add(s.NetAdjustments)

	if !expected.Equal(s.CurrentBalance.Decimal()) {
		return apperr.Invariant("balance totals do not add up", map[string]any{
			"user_id":         s.UserID,
			"currency":        s.Currency.Code(),
			"current_balance": s.CurrentBalance.String(),
			"expected":        expected.StringFixed(money.Scale),
		})
	}

	return nil
}

func (b *Balance) ensureActive() error {
	if !b.s.Active {
		return errInactive(b.s.UserID, b.s.Currency)
	}

	return nil
}

func (b *Balance) newTransaction(txID ids.TransactionID, typ TxType, amount money.Money, now time.Time) *Transaction {
	if txID == "" {
		txID = ids.NewTransactionID()
	}

	return &Transaction{s: TransactionState{
		TransactionID: txID,
		BalanceID:     b.s.ID,
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: b.s.CurrentBalance,
		BalanceAfter:  b.s.CurrentBalance,
		Status:        StatusPending,
		CreatedAt:     now,
	}}
}

// apply moves the balance to after with the totals changed by update, and
// completes t. Nothing is changed if update fails or the result breaks the
// invariant.
func (b *Balance) apply(t *Transaction, after money.Money, now time.Time, update func(*BalanceState) error) error {
	next := b.s
	if err := update(&next); err != nil {
		return err
	}

	next.CurrentBalance = after
	next.LastUpdated = now
	next.Version++

	if err := checkTotals(next); err != nil {
		return err
	}

	if err := t.complete(b.s.CurrentBalance, after, now); err != nil {
		return err
	}

	b.s = next

	return nil
}

// Deposit credits amount. The entry is born COMPLETED.
func (b *Balance) Deposit(txID ids.TransactionID, amount money.Money, source, description string, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, errNonPositiveAmount("deposit")
	}

	after, err := b.s.CurrentBalance.Add(amount)
	if err != nil {
		return nil, err
	}

	t := b.newTransaction(txID, TxDeposit, amount, now)
	t.s.Source = source
	t.s.Description = description

	err = b.apply(t, after, now, func(s *BalanceState) (err error) {
		s.TotalDeposited, err = s.TotalDeposited.Add(amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.added = append(b.added, t)
	b.emitted = append(b.emitted, events.BalanceDeposited{
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		TransactionID: t.TransactionID(),
		Source:        source,
		Amount:        amount,
		BalanceBefore: t.BalanceBefore(),
		BalanceAfter:  t.BalanceAfter(),
		At:            now,
	})

	return t, nil
}

// Withdraw debits amount if the balance net of reservations covers it.
func (b *Balance) Withdraw(txID ids.TransactionID, amount money.Money, description string, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, errNonPositiveAmount("withdraw")
	}

	available, err := b.Available()
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(available) {
		return nil, ErrInsufficientBalance(available, amount)
	}

	after, err := b.s.CurrentBalance.Subtract(amount)
	if err != nil {
		return nil, ErrInsufficientBalance(available, amount)
	}

	t := b.newTransaction(txID, TxWithdrawal, amount, now)
	t.s.Description = description

	err = b.apply(t, after, now, func(s *BalanceState) (err error) {
		s.TotalSpent, err = s.TotalSpent.Add(amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.added = append(b.added, t)
	b.emitted = append(b.emitted, events.BalanceWithdrawn{
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		TransactionID: t.TransactionID(),
		Amount:        amount,
		BalanceBefore: t.BalanceBefore(),
		BalanceAfter:  t.BalanceAfter(),
		At:            now,
	})

	return t, nil
}

// Reserve holds amount for orderID as a PENDING PURCHASE entry. The current
// balance is untouched; the hold only lowers Available.
func (b *Balance) Reserve(txID ids.TransactionID, amount money.Money, orderID string, ttl time.Duration, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, errNonPositiveAmount("reserve")
	}

	if orderID == "" {
		return nil, apperr.Validation(apperr.FieldError{Field: "orderId", Message: "required"})
	}

	if len(b.reservationsFor(orderID)) > 0 {
		return nil, apperr.New(apperr.CodeInvalidTransaction, "order already has a pending reservation", map[string]any{
			"order_id": orderID,
		})
	}

	available, err := b.Available()
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(available) {
		return nil, ErrInsufficientBalance(available, amount)
	}

	t := b.newTransaction(txID, TxPurchase, amount, now)
	t.s.OrderID = orderID
	t.s.Description = "reservation for order " + orderID

	if ttl > 0 {
		exp := now.Add(ttl)
		t.s.ExpiresAt = &exp
	}

	b.s.LastUpdated = now
	b.s.Version++

	b.reservations = append(b.reservations, t)
	b.added = append(b.added, t)

	ev := events.FundsReserved{
		UserID:          b.s.UserID,
		Currency:        b.s.Currency,
		TransactionID:   t.TransactionID(),
		OrderID:         orderID,
		Amount:          amount,
		AvailableBefore: available,
		At:              now,
	}
	if t.s.ExpiresAt != nil {
		ev.ExpiresAt = *t.s.ExpiresAt
	}

	b.emitted = append(b.emitted, ev)

	return t, nil
}

// ReleaseReserved cancels the pending reservation(s) of orderID. Nothing was
// subtracted, so the balance does not change.
func (b *Balance) ReleaseReserved(orderID, reason string, now time.Time) ([]*Transaction, error) {
	return b.closeReservations(orderID, now, func(t *Transaction) error {
		return t.cancel(reason, now)
	}, reason)
}

// FailReserved marks the pending reservation(s) of orderID as FAILED, used
// when the order they back could not be fulfilled.
func (b *Balance) FailReserved(orderID, reason string, now time.Time) ([]*Transaction, error) {
	return b.closeReservations(orderID, now, func(t *Transaction) error {
		return t.fail(reason, now)
	}, reason)
}

func (b *Balance) closeReservations(orderID string, now time.Time, finish func(*Transaction) error, reason string) ([]*Transaction, error) {
	now = now.UTC()

	matched := b.reservationsFor(orderID)
	if len(matched) == 0 {
		return nil, errNoPendingReservation(orderID)
	}

	for _, t := range matched {
		if err := finish(t); err != nil {
			return nil, err
		}

		b.changed = append(b.changed, t)
		b.emitted = append(b.emitted, events.ReservationReleased{
			UserID:        b.s.UserID,
			Currency:      b.s.Currency,
			TransactionID: t.TransactionID(),
			OrderID:       orderID,
			Amount:        t.Amount(),
			Reason:        reason,
			At:            now,
		})
	}

	b.dropReservations(orderID)
	b.s.LastUpdated = now
	b.s.Version++

	return matched, nil
}

// ProcessReservedPayment captures the reservation of orderID: the entry turns
// COMPLETED and amount is now withdrawn.
func (b *Balance) ProcessReservedPayment(orderID string, amount money.Money, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, errNonPositiveAmount("process_reserved_payment")
	}

	matched := b.reservationsFor(orderID)
	if len(matched) == 0 {
		return nil, errNoPendingReservation(orderID)
	}

	t := matched[0]

	// other holds stay in force while this one is captured
	reserved, err := b.Reserved()
	if err != nil {
		return nil, err
	}

	others, err := reserved.Subtract(t.Amount())
	if err != nil {
		return nil, apperr.Invariant("reservation exceeds reserved total", map[string]any{"order_id": orderID})
	}

	spendable, err := b.s.CurrentBalance.Subtract(others)
	if err != nil || amount.GreaterThan(spendable) {
		return nil, ErrInsufficientBalance(spendable, amount)
	}

	after, err := b.s.CurrentBalance.Subtract(amount)
	if err != nil {
		return nil, ErrInsufficientBalance(b.s.CurrentBalance, amount)
	}

	err = b.apply(t, after, now, func(s *BalanceState) (err error) {
		s.TotalSpent, err = s.TotalSpent.Add(amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.s.Amount = amount
	b.removeReservation(t)
	b.changed = append(b.changed, t)
	b.emitted = append(b.emitted, events.ReservedPaymentProcessed{
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		TransactionID: t.TransactionID(),
		OrderID:       orderID,
		Amount:        amount,
		BalanceBefore: t.BalanceBefore(),
		BalanceAfter:  t.BalanceAfter(),
		At:            now,
	})

	return t, nil
}

// Refund credits amount back. Totals are gross: TotalSpent is not reduced.
func (b *Balance) Refund(txID ids.TransactionID, amount money.Money, orderID, description string, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, errNonPositiveAmount("refund")
	}

	after, err := b.s.CurrentBalance.Add(amount)
	if err != nil {
		return nil, err
	}

	t := b.newTransaction(txID, TxRefund, amount, now)
	t.s.OrderID = orderID
	t.s.Description = description

	err = b.apply(t, after, now, func(s *BalanceState) (err error) {
		s.TotalRefunded, err = s.TotalRefunded.Add(amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.added = append(b.added, t)
	b.emitted = append(b.emitted, events.BalanceRefunded{
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		TransactionID: t.TransactionID(),
		OrderID:       orderID,
		Amount:        amount,
		BalanceBefore: t.BalanceBefore(),
		BalanceAfter:  t.BalanceAfter(),
		At:            now,
	})

	return t, nil
}

// AdjustBalance applies a signed administrative delta. The journal entry
// stores |delta|; the direction is balanceAfter - balanceBefore.
func (b *Balance) AdjustBalance(txID ids.TransactionID, delta decimal.Decimal, reason string, adminID ids.UserID, now time.Time) (*Transaction, error) {
	now = now.UTC()

	if err := b.ensureActive(); err != nil {
		return nil, err
	}

	if adminID <= 0 {
		return nil, apperr.UnauthorizedAdminOperation(int64(adminID), "adjust_balance")
	}

	abs, err := money.Of(delta.Abs())
	if err != nil {
		return nil, err
	}

	if abs.IsZero() {
		return nil, errNonPositiveAmount("adjust_balance").WithSeverity(apperr.SeverityCritical)
	}

	var after money.Money

	if delta.IsNegative() {
		// held funds are not available to a correction either
		available, err := b.Available()
		if err != nil {
			return nil, err
		}

		if abs.GreaterThan(available) {
			return nil, apperr.New(apperr.CodeInvalidAmount, "adjustment exceeds the available balance", map[string]any{
				"current":   b.s.CurrentBalance,
				"available": available,
				"delta":     delta.StringFixed(money.Scale),
			}).WithSeverity(apperr.SeverityCritical)
		}

		after, err = b.s.CurrentBalance.Subtract(abs)
		if err != nil {
			return nil, err
		}
	} else {
		after, err = b.s.CurrentBalance.Add(abs)
		if err != nil {
			return nil, apperr.From(err).WithSeverity(apperr.SeverityCritical)
		}
	}

	signed := abs.Decimal()
	if delta.IsNegative() {
		signed = signed.Neg()
	}

	t := b.newTransaction(txID, TxAdjustment, abs, now)
	t.s.Description = reason
	t.s.Reason = reason
	processedBy := adminID
	t.s.ProcessedBy = &processedBy

	err = b.apply(t, after, now, func(s *BalanceState) error {
		net := s.NetAdjustments.Add(signed)
		if _, err := money.Of(net.Abs()); err != nil {
			return apperr.From(err).WithSeverity(apperr.SeverityCritical)
		}

		s.NetAdjustments = net

		return nil
	})
	if err != nil {
		return nil, err
	}

	b.added = append(b.added, t)
	b.emitted = append(b.emitted, events.BalanceAdjusted{
		UserID:        b.s.UserID,
		Currency:      b.s.Currency,
		TransactionID: t.TransactionID(),
		Delta:         signed,
		Reason:        reason,
		AdminID:       adminID,
		BalanceBefore: t.BalanceBefore(),
		BalanceAfter:  t.BalanceAfter(),
		At:            now,
	})

	return t, nil
}

// ExpiredOrders lists orders whose reservations expired at now.
func (b *Balance) ExpiredOrders(now time.Time) []string {
	var out []string

	seen := make(map[string]struct{})

	for _, t := range b.reservations {
		if !t.IsExpired(now) {
			continue
		}

		if _, ok := seen[t.OrderID()]; ok {
			continue
		}

		seen[t.OrderID()] = struct{}{}
		out = append(out, t.OrderID())
	}

	return out
}

// Deactivate blocks further mutations. Balances are never deleted.
func (b *Balance) Deactivate(now time.Time) {
	if !b.s.Active {
		return
	}

	b.s.Active = false
	b.s.LastUpdated = now.UTC()
	b.s.Version++
}

// Activate re-enables a deactivated balance.
func (b *Balance) Activate(now time.Time) {
	if b.s.Active {
		return
	}

	b.s.Active = true
	b.s.LastUpdated = now.UTC()
	b.s.Version++
}

func (b *Balance) reservationsFor(orderID string) []*Transaction {
	var out []*Transaction

	for _, t := range b.reservations {
		if t.OrderID() == orderID {
			out = append(out, t)
		}
	}

	return out
}

func (b *Balance) dropReservations(orderID string) {
	kept := b.reservations[:0]

	for _, t := range b.reservations {
		if t.OrderID() != orderID {
			kept = append(kept, t)
		}
	}

	b.reservations = kept
}

func (b *Balance) removeReservation(target *Transaction) {
	kept := b.reservations[:0]

	for _, t := range b.reservations {
		if t != target {
			kept = append(kept, t)
		}
	}

	b.reservations = kept
}
