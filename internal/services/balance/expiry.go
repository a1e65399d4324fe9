package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/ids"
)

const expiryBatch = 100

// ReleaseExpiredReservations cancels reservations whose expiry passed at
// now. Failures on one balance are logged and do not stop the sweep. It
// returns the number of orders released.
func (s *Service) ReleaseExpiredReservations(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.txns.ListExpired(ctx, now, expiryBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	released := 0

	for _, e := range expired {
		if ctx.Err() != nil {
			break
		}

		n := 0
		u := unit{op: opExpire, account: Account{UserID: e.UserID, Currency: e.Currency}}
		u.apply = func(b *ledger.Balance, _ time.Time) (*ledger.Transaction, error) {
			n = 0

			for _, orderID := range b.ExpiredOrders(now) {
				if _, err := b.ReleaseReserved(orderID, ReasonExpired, now); err != nil {
					return nil, err
				}

				n++
			}

			return nil, nil
		}

		_, err := s.retry(ctx, u)
		if err != nil {
			apperr.Log(ctx, s.logger, "release expired reservations", err,
				slog.Any("user_id", e.UserID),
				slog.String("currency", e.Currency.Code()),
			)

			continue
		}

		released += n
	}

	if released > 0 {
		s.logger.InfoContext(ctx, "expired reservations released", "count", released)
	}

	return released, nil
}

func errTransactionNotFound(id ids.TransactionID) *apperr.Error {
	return apperr.New(apperr.CodeTransactionNotFound, "", map[string]any{"transaction_id": id.String()})
}
