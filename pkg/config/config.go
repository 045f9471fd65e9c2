package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Idempotency  IdempotencyConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	RabbitMQ     RabbitMQConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Orders.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Idempotency.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GADGETSWAP_APP_ENV" required:"true"`
	Port         string `envconfig:"GADGETSWAP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GADGETSWAP_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"GADGETSWAP_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"GADGETSWAP_LOG_WARN_STACK" default:"false"`
	FrontendURL  string `envconfig:"GADGETSWAP_FRONTEND_URL" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"GADGETSWAP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GADGETSWAP_DB_DSN"`
	Driver string `envconfig:"GADGETSWAP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GADGETSWAP_DB_HOST"`
	LegacyPort     int    `envconfig:"GADGETSWAP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GADGETSWAP_DB_USER"`
	LegacyPassword string `envconfig:"GADGETSWAP_DB_PASSWORD"`
	LegacyName     string `envconfig:"GADGETSWAP_DB_NAME"`
	LegacySSLMode  string `envconfig:"GADGETSWAP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GADGETSWAP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GADGETSWAP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GADGETSWAP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GADGETSWAP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this as warnings; zero disables it.
	SlowQuery time.Duration `envconfig:"GADGETSWAP_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the configured driver targets SQLite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"GADGETSWAP_REDIS_URL"`
	Address      string        `envconfig:"GADGETSWAP_REDIS_ADDR"`
	Password     string        `envconfig:"GADGETSWAP_REDIS_PASSWORD"`
	DB           int           `envconfig:"GADGETSWAP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GADGETSWAP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GADGETSWAP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GADGETSWAP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GADGETSWAP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GADGETSWAP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// AuthConfig describes how identity tokens minted by the external auth provider are verified.
type AuthConfig struct {
	JWTSecret string        `envconfig:"GADGETSWAP_AUTH_JWT_SECRET" required:"true"`
	Issuer    string        `envconfig:"GADGETSWAP_AUTH_ISSUER" required:"true"`
	Audience  string        `envconfig:"GADGETSWAP_AUTH_AUDIENCE"`
	ClockSkew time.Duration `envconfig:"GADGETSWAP_AUTH_CLOCK_SKEW" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GADGETSWAP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GADGETSWAP_AUTO_MIGRATE" default:"false"`
}

type OrdersConfig struct {
	ReservationMode string        `envconfig:"GADGETSWAP_ORDERS_RESERVATION_MODE" default:"deferred"`
	CartTTL         time.Duration `envconfig:"GADGETSWAP_ORDERS_CART_TTL" default:"72h"`
	SweepBatchSize  int           `envconfig:"GADGETSWAP_ORDERS_SWEEP_BATCH_SIZE" default:"100"`
}

// EagerReservation reports whether add-to-cart should hold the listing.
func (o OrdersConfig) EagerReservation() bool {
	return strings.EqualFold(strings.TrimSpace(o.ReservationMode), ReservationModeEager)
}

func (o OrdersConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.ReservationMode)) {
	case "", ReservationModeDeferred, ReservationModeEager:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvOrdersReservationMode, ReservationModeDeferred, ReservationModeEager)
	}
	if o.CartTTL < 0 {
		return fmt.Errorf("%s must not be negative", EnvOrdersCartTTL)
	}
	return nil
}

type IdempotencyConfig struct {
	Backend    string        `envconfig:"GADGETSWAP_IDEMPOTENCY_BACKEND" default:"redis"`
	BoltPath   string        `envconfig:"GADGETSWAP_IDEMPOTENCY_BOLT_PATH" default:"data/idempotency.db"`
	WebhookTTL time.Duration `envconfig:"GADGETSWAP_IDEMPOTENCY_WEBHOOK_TTL" default:"72h"`
}

// UsesBolt reports whether idempotency records live in the embedded bolt file.
func (i IdempotencyConfig) UsesBolt() bool {
	return strings.EqualFold(strings.TrimSpace(i.Backend), IdempotencyBackendBolt)
}

func (i IdempotencyConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Backend)) {
	case IdempotencyBackendRedis, IdempotencyBackendBolt:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvIdempotencyBackend, IdempotencyBackendRedis, IdempotencyBackendBolt)
	}
}

type StripeConfig struct {
	APIKey   string `envconfig:"GADGETSWAP_STRIPE_API_KEY"`
	Secret   string `envconfig:"GADGETSWAP_STRIPE_WEBHOOK_SECRET"`
	Env      string `envconfig:"GADGETSWAP_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"GADGETSWAP_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"GADGETSWAP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"GADGETSWAP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"GADGETSWAP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Sink           string        `envconfig:"GADGETSWAP_OUTBOX_SINK" default:"pubsub"`
	Topic          string        `envconfig:"GADGETSWAP_OUTBOX_TOPIC" default:"gs-order-events"`
	Retention      time.Duration `envconfig:"GADGETSWAP_OUTBOX_RETENTION" default:"720h"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkPubSub, OutboxSinkKafka, OutboxSinkRabbitMQ:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvOutboxSink, OutboxSinkPubSub, OutboxSinkKafka, OutboxSinkRabbitMQ)
	}
}

type GCPConfig struct {
	ProjectID string `envconfig:"GADGETSWAP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"GADGETSWAP_PUBSUB_ORDERS_TOPIC"`
	// Ordered delivers events of one order in publish order. The topic's
	// subscriptions must have message ordering enabled.
	Ordered bool `envconfig:"GADGETSWAP_PUBSUB_ORDERED" default:"true"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"GADGETSWAP_KAFKA_BROKERS"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"GADGETSWAP_RABBITMQ_URL"`
	Exchange string `envconfig:"GADGETSWAP_RABBITMQ_EXCHANGE" default:"gadgetswap.orders"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"GADGETSWAP_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"GADGETSWAP_CRON_LOCK_TTL" default:"14m"`
}

// RateLimitConfig caps how often one caller may hit the cart and payment routes.
// A zero limit disables the policy.
type RateLimitConfig struct {
	Window        time.Duration `envconfig:"GADGETSWAP_RATE_LIMIT_WINDOW" default:"1m"`
	CartLimit     int           `envconfig:"GADGETSWAP_RATE_LIMIT_CART" default:"60"`
	CheckoutLimit int           `envconfig:"GADGETSWAP_RATE_LIMIT_CHECKOUT" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = defaultSQLiteDSN
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
