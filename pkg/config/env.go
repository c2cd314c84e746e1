package config

const (
	EnvPrefix = "MERCHCOIN"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LimiterStoreMemory = "memory"
	LimiterStoreRedis  = "redis"
)

const (
	EnvAppEnv   = "MERCHCOIN_APP_ENV"
	EnvPort     = "MERCHCOIN_APP_PORT"
	EnvLogLevel = "MERCHCOIN_LOG_LEVEL"

	EnvDBDSN    = "MERCHCOIN_DB_DSN"
	EnvDBDriver = "MERCHCOIN_DB_DRIVER"
	EnvDBHost   = "MERCHCOIN_DB_HOST"
	EnvDBUser   = "MERCHCOIN_DB_USER"
	EnvDBName   = "MERCHCOIN_DB_NAME"

	EnvRedisURL = "MERCHCOIN_REDIS_URL"

	EnvJWTSecret  = "MERCHCOIN_JWT_SECRET"
	EnvJWTIssuer  = "MERCHCOIN_JWT_ISSUER"
	EnvJWTExpMins = "MERCHCOIN_JWT_EXPIRATION_MINUTES"

	EnvAPIKeyPepper    = "MERCHCOIN_API_KEY_PEPPER"
	EnvAPIRateLimitMax = "MERCHCOIN_API_RATE_LIMIT_MAX"
	EnvAPILimiterStore = "MERCHCOIN_API_RATE_LIMIT_STORE"

	EnvWebhookMaxAttempts = "MERCHCOIN_WEBHOOK_MAX_ATTEMPTS"
	EnvWebhookBackoff     = "MERCHCOIN_WEBHOOK_BACKOFF"

	EnvPubSubProjectID   = "MERCHCOIN_GCP_PROJECT_ID"
	EnvPubSubEventsTopic = "MERCHCOIN_PUBSUB_EVENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
