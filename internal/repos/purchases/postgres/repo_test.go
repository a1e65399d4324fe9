package purchases

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/pgtestutil"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/purchases"
)

func seedDualBalance(t *testing.T, db *sql.DB, userID int64) ids.DualBalanceID {
	t.Helper()

	var id int64

	err := db.QueryRow(`
		INSERT INTO dual_balances (user_id, currency) VALUES ($1, 'USD') RETURNING id
	`, userID).Scan(&id)
	if err != nil {
		t.Fatalf("seed dual balance: %v", err)
	}

	return ids.DualBalanceID(id)
}

func TestPurchases_Lifecycle(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	created := time.Now().Add(-time.Hour).UTC()

	p, err := purchase.New(purchase.NewParams{
		UserID:            4,
		DualBalanceID:     seedDualBalance(t, db, 4),
		Amount:            money.MustParse("4.99"),
		RequestedUnits:    25,
		MainBalanceBefore: money.MustParse("10.00"),
		MainBalanceAfter:  money.MustParse("5.01"),
	}, created)
	if err != nil {
		t.Fatalf("new purchase: %v", err)
	}

	tx, err := db.BeginTx(t.Context(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	id, err := repo.Insert(tx, p.State())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	p.MarkPersisted(id)

	if _, err := repo.Insert(tx, p.State()); !errors.Is(err, purchases.ErrDuplicate) {
		t.Fatalf("duplicate: want ErrDuplicate, got %v", err)
	}
}

func TestPurchases_UpdateAndSweepQuery(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	dbID := seedDualBalance(t, db, 4)
	old := time.Now().Add(-time.Hour).UTC()

	mk := func(at time.Time) *purchase.Purchase {
		p, err := purchase.New(purchase.NewParams{
			UserID:            4,
			DualBalanceID:     dbID,
			Amount:            money.MustParse("1.00"),
			RequestedUnits:    10,
			MainBalanceBefore: money.MustParse("2.00"),
			MainBalanceAfter:  money.MustParse("1.00"),
		}, at)
		if err != nil {
			t.Fatalf("new purchase: %v", err)
		}

		return p
	}

	stale, recent := mk(old), mk(time.Now().UTC())

	tx, err := db.BeginTx(t.Context(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	for _, p := range []*purchase.Purchase{stale, recent} {
		id, err := repo.Insert(tx, p.State())
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		p.MarkPersisted(id)
	}

	if err := recent.Initiate("ext-9", time.Now()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := recent.Complete(10, money.MustParse("1.00"), []byte(`{"units":10}`), time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := repo.Update(tx, recent.State(), recent.ExpectedVersion()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := repo.Update(tx, recent.State(), recent.ExpectedVersion()); !errors.Is(err, purchases.ErrVersionConflict) {
		t.Fatalf("stale update: want ErrVersionConflict, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.Get(t.Context(), recent.PurchaseID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != purchase.StatusCompleted || got.ActualUnitsReceived == nil || *got.ActualUnitsReceived != 10 {
		t.Fatalf("completed row: %+v", got)
	}
	if got.ExternalTransactionID != "ext-9" || got.InitiatedAt == nil || len(got.RawResponse) == 0 {
		t.Fatalf("settlement fields: %+v", got)
	}

	pending, err := repo.ListPendingBefore(t.Context(), time.Now().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].PurchaseID != stale.PurchaseID() {
		t.Fatalf("pending: %+v", pending)
	}

	mine, err := repo.ListByUser(t.Context(), 4, 10, 0)
	if err != nil || len(mine) != 2 {
		t.Fatalf("list by user: %v %d", err, len(mine))
	}

	if _, err := repo.Get(t.Context(), ids.NewPurchaseID()); !errors.Is(err, purchases.ErrNotFound) {
		t.Fatalf("missing: want ErrNotFound, got %v", err)
	}
}
