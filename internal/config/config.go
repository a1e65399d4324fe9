package config

import "time"

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"PG_CONNECT_TIMEOUT" envDefault:"30s"`
}

// RedisConfig is optional: an empty Addr means the in-process limiter and the
// log event sink are used instead.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:""`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type OutboxConfig struct {
	ChannelPrefix string        `env:"EVENTS_CHANNEL_PREFIX" envDefault:"starledger"`
	PollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	BatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts   uint          `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3"`
	Backoff       time.Duration `env:"OUTBOX_BACKOFF" envDefault:"100ms"`
}

type LimiterConfig struct {
	MaxConcurrent int64         `env:"LIMITER_MAX_CONCURRENT" envDefault:"5"`
	TTL           time.Duration `env:"LIMITER_TTL" envDefault:"30s"`
}

type LedgerConfig struct {
	ConflictRetries    int           `env:"LEDGER_CONFLICT_RETRIES" envDefault:"3"`
	MaxOperationAmount string        `env:"LEDGER_MAX_OPERATION_AMOUNT" envDefault:"1000000.00"`
	CriticalAmount     string        `env:"LEDGER_CRITICAL_AMOUNT" envDefault:"10000.00"`
	ReservationTTL     time.Duration `env:"LEDGER_RESERVATION_TTL" envDefault:"30m"`
	AdminIDs           []int64       `env:"LEDGER_ADMIN_IDS" envDefault:""`
}

type PurchaseConfig struct {
	Timeout       time.Duration `env:"PURCHASE_TIMEOUT" envDefault:"30m"`
	SweepInterval time.Duration `env:"PURCHASE_SWEEP_INTERVAL" envDefault:"1m"`
}

type SettlementConfig struct {
	BaseURL  string        `env:"SETTLEMENT_BASE_URL"`
	APIKey   string        `env:"SETTLEMENT_API_KEY"`
	Timeout  time.Duration `env:"SETTLEMENT_TIMEOUT" envDefault:"10s"`
	Currency string        `env:"SETTLEMENT_CURRENCY" envDefault:"USD"`
}
