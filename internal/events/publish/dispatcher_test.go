package publish

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/config"
	"github.com/fastprodman/starledger/internal/events"
	"github.com/fastprodman/starledger/internal/infra/pgtestutil"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	pgoutbox "github.com/fastprodman/starledger/internal/repos/outbox/postgres"
	"github.com/redis/go-redis/v9"
)

type recordingSink struct {
	mu       sync.Mutex
	got      []string
	calls    map[string]int
	failFor  map[string]int // event id -> failures before success, -1 = always
	errToUse error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		calls:    make(map[string]int),
		failFor:  make(map[string]int),
		errToUse: errors.New("sink down"),
	}
}

func (s *recordingSink) Publish(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[env.EventID]++

	left, ok := s.failFor[env.EventID]
	if ok && (left < 0 || s.calls[env.EventID] <= left) {
		return s.errToUse
	}

	s.got = append(s.got, env.EventID)

	return nil
}

func seed(t *testing.T, db *sql.DB, n int) []events.Envelope {
	t.Helper()

	now := time.Now().UTC()
	envs := make([]events.Envelope, 0, n)

	for i := range n {
		env, err := events.Encode(events.BalanceWithdrawn{
			UserID:   5,
			Currency: money.EUR,
			Amount:   money.MustParse("2.00"),
			At:       now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		envs = append(envs, env)
	}

	tx, err := db.BeginTx(t.Context(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	if err := pgoutbox.New(db).Append(tx, envs...); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	return envs
}

func testConfig() config.OutboxConfig {
	return config.OutboxConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  3,
		Backoff:      time.Millisecond,
	}
}

func TestDispatcher_DrainOnce(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	envs := seed(t, db, 4)

	sink := newRecordingSink()
	sink.failFor[envs[1].EventID] = 2  // succeeds on the third try
	sink.failFor[envs[2].EventID] = -1 // never succeeds

	var logs bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	store := pgoutbox.New(db)
	d := NewDispatcher(db, store, sink, testConfig(), logger)

	res, err := d.DrainOnce(t.Context())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Published != 3 || res.Dead != 1 {
		t.Fatalf("result: %+v", res)
	}

	want := []string{envs[0].EventID, envs[1].EventID, envs[3].EventID}
	if strings.Join(sink.got, ",") != strings.Join(want, ",") {
		t.Fatalf("published order: got %v, want %v", sink.got, want)
	}
	if sink.calls[envs[2].EventID] != 3 {
		t.Fatalf("dead event attempts: want 3, got %d", sink.calls[envs[2].EventID])
	}

	counts, err := store.Counts(t.Context())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[outbox.StatusPublished] != 3 || counts[outbox.StatusDead] != 1 || counts[outbox.StatusPending] != 0 {
		t.Fatalf("counts: %v", counts)
	}

	if !strings.Contains(logs.String(), "event dead-lettered") || !strings.Contains(logs.String(), envs[2].EventID) {
		t.Fatalf("dead letter not logged with payload: %s", logs.String())
	}

	// nothing left to do
	res, err = d.DrainOnce(t.Context())
	if err != nil || res != (Result{}) {
		t.Fatalf("second drain: %+v %v", res, err)
	}
}

func TestDispatcher_SkipsWhenLocked(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	seed(t, db, 2)

	store := pgoutbox.New(db)

	holder, err := db.BeginTx(t.Context(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer holder.Rollback()

	if err := store.Lock(holder); err != nil {
		t.Fatalf("lock: %v", err)
	}

	sink := newRecordingSink()
	d := NewDispatcher(db, store, sink, testConfig(), slog.New(slog.DiscardHandler))

	res, err := d.DrainOnce(t.Context())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res != (Result{}) || len(sink.got) != 0 {
		t.Fatalf("locked drain published: %+v %v", res, sink.got)
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	envs := seed(t, db, 1)
	sink := newRecordingSink()
	d := NewDispatcher(db, pgoutbox.New(db), sink, testConfig(), slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- d.Run(ctx) }()

	deadline := time.After(5 * time.Second)

	for {
		sink.mu.Lock()
		n := len(sink.got)
		sink.mu.Unlock()

		if n == 1 {
			break
		}

		select {
		case <-deadline:
			t.Fatalf("event %s never published", envs[0].EventID)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	env, err := events.Encode(events.BalanceDeposited{UserID: 1, Currency: money.USD, At: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil))).Publish(t.Context(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line["event_id"] != env.EventID || line["event_type"] != string(events.TypeBalanceDeposited) {
		t.Fatalf("log line: %v", line)
	}
}

func TestRedisSink(t *testing.T) {
	t.Parallel()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	prefix := "test" + time.Now().Format("150405.000000")
	sub := rdb.Subscribe(t.Context(), Channel(prefix, events.AggregatePurchase))
	defer sub.Close()

	if _, err := sub.Receive(t.Context()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env, err := events.Encode(events.PurchaseCancelled{At: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := NewRedisSink(rdb, prefix).Publish(t.Context(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if got.EventID != env.EventID {
			t.Fatalf("event id: got %s, want %s", got.EventID, env.EventID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
	}
}
