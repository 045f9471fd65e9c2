package config

const EnvPrefix = "GADGETSWAP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:gadgetswap.db?cache=shared&_foreign_keys=on"
)

const (
	ReservationModeDeferred = "deferred"
	ReservationModeEager    = "eager"
)

const (
	IdempotencyBackendRedis = "redis"
	IdempotencyBackendBolt  = "bolt"
)

const (
	OutboxSinkPubSub   = "pubsub"
	OutboxSinkKafka    = "kafka"
	OutboxSinkRabbitMQ = "rabbitmq"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv                = "GADGETSWAP_APP_ENV"
	EnvPort                  = "GADGETSWAP_APP_PORT"
	EnvDBDSN                 = "GADGETSWAP_DB_DSN"
	EnvDBHost                = "GADGETSWAP_DB_HOST"
	EnvDBUser                = "GADGETSWAP_DB_USER"
	EnvDBName                = "GADGETSWAP_DB_NAME"
	EnvUseSQLite             = "GADGETSWAP_USE_SQLITE"
	EnvRedisURL              = "GADGETSWAP_REDIS_URL"
	EnvAuthJWTSecret         = "GADGETSWAP_AUTH_JWT_SECRET"
	EnvAuthIssuer            = "GADGETSWAP_AUTH_ISSUER"
	EnvOrdersReservationMode = "GADGETSWAP_ORDERS_RESERVATION_MODE"
	EnvOrdersCartTTL         = "GADGETSWAP_ORDERS_CART_TTL"
	EnvOutboxSink            = "GADGETSWAP_OUTBOX_SINK"
	EnvIdempotencyBackend    = "GADGETSWAP_IDEMPOTENCY_BACKEND"
	EnvKafkaBrokers          = "GADGETSWAP_KAFKA_BROKERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
