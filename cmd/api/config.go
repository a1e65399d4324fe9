package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/starledger/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	Env             string        `env:"APP_ENV" envDefault:"PROD"`

	Postgres   config.PostgresConfig
	Redis      config.RedisConfig
	Outbox     config.OutboxConfig
	Limiter    config.LimiterConfig
	Ledger     config.LedgerConfig
	Purchase   config.PurchaseConfig
	Settlement config.SettlementConfig
}
