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
	JWT          JWTConfig
	APIKeys      APIKeysConfig
	Webhooks     WebhooksConfig
	Chat         ChatConfig
	PubSub       PubSubConfig
	Ledger       LedgerConfig
	Settlement   SettlementConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Webhooks.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MERCHCOIN_APP_ENV" required:"true"`
	Port         string `envconfig:"MERCHCOIN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MERCHCOIN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MERCHCOIN_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MERCHCOIN_LOG_FORMAT" default:"json"`
	// CORSOrigins lists the dashboard origins allowed to call the admin API.
	CORSOrigins []string `envconfig:"MERCHCOIN_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MERCHCOIN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MERCHCOIN_DB_DSN"`
	Driver string `envconfig:"MERCHCOIN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MERCHCOIN_DB_HOST"`
	LegacyPort     int    `envconfig:"MERCHCOIN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MERCHCOIN_DB_USER"`
	LegacyPassword string `envconfig:"MERCHCOIN_DB_PASSWORD"`
	LegacyName     string `envconfig:"MERCHCOIN_DB_NAME"`
	LegacySSLMode  string `envconfig:"MERCHCOIN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MERCHCOIN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MERCHCOIN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MERCHCOIN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MERCHCOIN_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"MERCHCOIN_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MERCHCOIN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MERCHCOIN_REDIS_ADDR"`
	Password     string        `envconfig:"MERCHCOIN_REDIS_PASSWORD"`
	DB           int           `envconfig:"MERCHCOIN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MERCHCOIN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MERCHCOIN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MERCHCOIN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MERCHCOIN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MERCHCOIN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"MERCHCOIN_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"MERCHCOIN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"MERCHCOIN_JWT_EXPIRATION_MINUTES" default:"60"`
	Audience          string        `envconfig:"MERCHCOIN_JWT_AUDIENCE"`
	Leeway            time.Duration `envconfig:"MERCHCOIN_JWT_LEEWAY" default:"30s"`
}

// APIKeysConfig governs programmatic credentials and their rate limit.
type APIKeysConfig struct {
	Pepper          string        `envconfig:"MERCHCOIN_API_KEY_PEPPER" required:"true"`
	RateLimitWindow time.Duration `envconfig:"MERCHCOIN_API_RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitMax    int           `envconfig:"MERCHCOIN_API_RATE_LIMIT_MAX" default:"100"`
	LimiterStore    string        `envconfig:"MERCHCOIN_API_RATE_LIMIT_STORE" default:"redis"`
	SweepInterval   time.Duration `envconfig:"MERCHCOIN_API_RATE_LIMIT_SWEEP_INTERVAL" default:"5m"`
}

// UsesRedisLimiter reports whether counters live in the shared redis store.
func (a APIKeysConfig) UsesRedisLimiter() bool {
	return !strings.EqualFold(strings.TrimSpace(a.LimiterStore), LimiterStoreMemory)
}

type WebhooksConfig struct {
	SendTimeout  time.Duration   `envconfig:"MERCHCOIN_WEBHOOK_SEND_TIMEOUT" default:"10s"`
	MaxAttempts  int             `envconfig:"MERCHCOIN_WEBHOOK_MAX_ATTEMPTS" default:"3"`
	Backoff      []time.Duration `envconfig:"MERCHCOIN_WEBHOOK_BACKOFF" default:"1m,5m,30m"`
	BatchSize    int             `envconfig:"MERCHCOIN_WEBHOOK_RETRY_BATCH_SIZE" default:"50"`
	ClaimLease   time.Duration   `envconfig:"MERCHCOIN_WEBHOOK_CLAIM_LEASE" default:"2m"`
	Workers      int             `envconfig:"MERCHCOIN_WEBHOOK_WORKERS" default:"4"`
	QueueSize    int             `envconfig:"MERCHCOIN_WEBHOOK_QUEUE_SIZE" default:"256"`
	DrainTimeout time.Duration   `envconfig:"MERCHCOIN_WEBHOOK_DRAIN_TIMEOUT" default:"30s"`
}

func (w WebhooksConfig) validate() error {
	if w.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvWebhookMaxAttempts)
	}
	if len(w.Backoff) == 0 {
		return fmt.Errorf("%s requires at least one duration", EnvWebhookBackoff)
	}
	for _, d := range w.Backoff {
		if d <= 0 {
			return fmt.Errorf("%s entries must be positive", EnvWebhookBackoff)
		}
	}
	return nil
}

type ChatConfig struct {
	Enabled     bool          `envconfig:"MERCHCOIN_CHAT_ENABLED" default:"true"`
	SendTimeout time.Duration `envconfig:"MERCHCOIN_CHAT_SEND_TIMEOUT" default:"5s"`
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"MERCHCOIN_GCP_PROJECT_ID"`
	EventsTopic     string `envconfig:"MERCHCOIN_PUBSUB_EVENTS_TOPIC"`
	Ordered         bool   `envconfig:"MERCHCOIN_PUBSUB_ORDERED" default:"true"`
	Endpoint        string `envconfig:"MERCHCOIN_PUBSUB_ENDPOINT"`
	CredentialsFile string `envconfig:"MERCHCOIN_GCP_CREDENTIALS_FILE"`
}

// Enabled reports whether the event mirror should be wired.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.ProjectID) != "" && strings.TrimSpace(p.EventsTopic) != ""
}

type LedgerConfig struct {
	MaxDistributeRecipients int `envconfig:"MERCHCOIN_LEDGER_MAX_DISTRIBUTE" default:"1000"`
}

type SettlementConfig struct {
	MaxAttempts  int           `envconfig:"MERCHCOIN_SETTLEMENT_MAX_ATTEMPTS" default:"5"`
	BatchSize    int           `envconfig:"MERCHCOIN_SETTLEMENT_RECONCILE_BATCH_SIZE" default:"25"`
	PendingGrace time.Duration `envconfig:"MERCHCOIN_SETTLEMENT_PENDING_GRACE" default:"2m"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"MERCHCOIN_CRON_INTERVAL" default:"30s"`
	LockTTL    time.Duration `envconfig:"MERCHCOIN_CRON_LOCK_TTL" default:"5m"`
	JobTimeout time.Duration `envconfig:"MERCHCOIN_CRON_JOB_TIMEOUT" default:"2m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MERCHCOIN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MERCHCOIN_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
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
