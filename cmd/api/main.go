package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/starledger/internal/api"
	"github.com/fastprodman/starledger/internal/events/publish"
	"github.com/fastprodman/starledger/internal/infra/logging"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/internal/limiter"
	"github.com/fastprodman/starledger/internal/money"
	pgoutbox "github.com/fastprodman/starledger/internal/repos/outbox/postgres"
	"github.com/fastprodman/starledger/internal/services/balance"
	"github.com/fastprodman/starledger/internal/services/purchase"
	"github.com/fastprodman/starledger/internal/services/transfer"
	"github.com/fastprodman/starledger/internal/settlement"
	"github.com/fastprodman/starledger/pkg/envconf"
	"github.com/fastprodman/starledger/pkg/shutdownqueue"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logger := logging.SetupJSON(cfg.LogLevel, slog.String("service", "starledger"), slog.String("env", cfg.Env))
	shutdownqueue.SetLogger(logger)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	dbConns, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add("postgres", func(context.Context) error {
		return dbConns.Close()
	})

	lim, sink, err := setupRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}

	currency, err := money.ParseCurrency(cfg.Settlement.Currency)
	if err != nil {
		return fmt.Errorf("settlement currency: %w", err)
	}

	provider, err := settlement.NewHTTPClient(cfg.Settlement)
	if err != nil {
		return fmt.Errorf("settlement client: %w", err)
	}

	// --- Services ---
	policy, err := balance.PolicyFromConfig(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("ledger policy: %w", err)
	}

	if len(policy.AdminIDs) == 0 {
		logger.Warn("no admin ids configured, balance adjustments are disabled")
	}

	balanceSrv := balance.New(dbConns, lim, policy, logger)
	transferSrv := transfer.New(dbConns, lim, transfer.Config{
		Currency:           currency,
		ConflictRetries:    cfg.Ledger.ConflictRetries,
		MaxOperationAmount: policy.MaxOperationAmount,
	}, logger)
	purchaseSrv := purchase.New(dbConns, transferSrv, provider, lim, purchase.Config{
		Timeout:         cfg.Purchase.Timeout,
		Currency:        currency,
		ConflictRetries: cfg.Ledger.ConflictRetries,
	}, logger)

	outboxStore := pgoutbox.New(dbConns)
	dispatcher := publish.NewDispatcher(dbConns, outboxStore, sink, cfg.Outbox, logger)

	// --- Background workers ---
	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	workers, workersCtx := errgroup.WithContext(workersCtx)

	workers.Go(func() error { return dispatcher.Run(workersCtx) })
	workers.Go(func() error {
		return every(workersCtx, logger, "purchase_timeouts", cfg.Purchase.SweepInterval, purchaseSrv.SweepTimeouts)
	})
	workers.Go(func() error {
		return every(workersCtx, logger, "reservation_expiry", cfg.Purchase.SweepInterval, balanceSrv.ReleaseExpiredReservations)
	})

	// Workers stop after the server so in-flight requests still get their
	// events dispatched.
	shutdownqueue.Add("background workers", func(context.Context) error {
		stopWorkers()
		return workers.Wait()
	})

	// --- HTTP server ---
	handler := api.NewRouter(api.NewHandler(api.Deps{
		Balances:        balanceSrv,
		Duals:           transferSrv,
		Purchases:       purchaseSrv,
		Outbox:          outboxStore,
		DefaultCurrency: currency,
	}), logger)

	// Requests outlive the signal; they are cancelled only when a graceful
	// shutdown runs out of time.
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	srv := api.NewServer(reqCtx, cfg.Port, handler, logger)

	shutdownqueue.Add("http server", func(c context.Context) error {
		defer cancelRequests()

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	logger.Info("API started", "port", cfg.Port, "redis", cfg.Redis.Enabled())

	// --- Wait until either context cancels or server errors out ---
	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

// setupRedis returns the redis-backed limiter and event sink, or their
// in-process stand-ins when REDIS_ADDR is empty.
func setupRedis(ctx context.Context, cfg *apiConfig, logger *slog.Logger) (limiter.Limiter, publish.Sink, error) {
	if !cfg.Redis.Enabled() {
		logger.Warn("redis disabled, using in-process limiter and log sink")

		return limiter.NewLocal(cfg.Limiter.MaxConcurrent), publish.NewLogSink(logger), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		//nolint:errcheck
		rdb.Close()

		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	shutdownqueue.Add("redis", func(context.Context) error {
		return rdb.Close()
	})

	lim := limiter.NewRedis(rdb, cfg.Limiter.MaxConcurrent, cfg.Limiter.TTL)

	return lim, publish.NewRedisSink(rdb, cfg.Outbox.ChannelPrefix), nil
}
