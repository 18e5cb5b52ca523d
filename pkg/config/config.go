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
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Credits      CreditsConfig
	Anonymous    AnonymousConfig
	Stripe       StripeConfig
	Scorer       ScorerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Webhook      WebhookConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = defaultSQLiteDSN
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FACE10AI_APP_ENV" required:"true"`
	Port         string `envconfig:"FACE10AI_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"FACE10AI_APP_URL" default:"http://localhost:3000"`
	LogLevel     string `envconfig:"FACE10AI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FACE10AI_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"FACE10AI_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	origins := []string{}
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type ServiceConfig struct {
	Kind string `envconfig:"FACE10AI_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FACE10AI_DB_DSN"`
	Driver string `envconfig:"FACE10AI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FACE10AI_DB_HOST"`
	LegacyPort     int    `envconfig:"FACE10AI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FACE10AI_DB_USER"`
	LegacyPassword string `envconfig:"FACE10AI_DB_PASSWORD"`
	LegacyName     string `envconfig:"FACE10AI_DB_NAME"`
	LegacySSLMode  string `envconfig:"FACE10AI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FACE10AI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FACE10AI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FACE10AI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FACE10AI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"FACE10AI_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FACE10AI_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FACE10AI_REDIS_ADDR"`
	Password     string        `envconfig:"FACE10AI_REDIS_PASSWORD"`
	DB           int           `envconfig:"FACE10AI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FACE10AI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FACE10AI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FACE10AI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FACE10AI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FACE10AI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"FACE10AI_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"FACE10AI_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"FACE10AI_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"FACE10AI_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"FACE10AI_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"FACE10AI_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"FACE10AI_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"FACE10AI_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"FACE10AI_ARGON_KEY_LEN" default:"32"`
}

// RateLimitConfig holds the fixed-window limits applied per client IP.
type RateLimitConfig struct {
	SignupWindow  time.Duration `envconfig:"FACE10AI_RATE_LIMIT_SIGNUP_WINDOW" default:"15m"`
	SignupLimit   int           `envconfig:"FACE10AI_RATE_LIMIT_SIGNUP_LIMIT" default:"5"`
	LoginWindow   time.Duration `envconfig:"FACE10AI_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginLimit    int           `envconfig:"FACE10AI_RATE_LIMIT_LOGIN_LIMIT" default:"10"`
	AnalyzeWindow time.Duration `envconfig:"FACE10AI_RATE_LIMIT_ANALYZE_WINDOW" default:"1m"`
	AnalyzeLimit  int           `envconfig:"FACE10AI_RATE_LIMIT_ANALYZE_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FACE10AI_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FACE10AI_AUTO_MIGRATE" default:"false"`
}

type CreditsConfig struct {
	InitialSignupCredits int `envconfig:"FACE10AI_INITIAL_SIGNUP_CREDITS" default:"5"`
	ReferralBonus        int `envconfig:"FACE10AI_REFERRAL_CREDITS_AMOUNT" default:"10"`
	HistoryLimit         int `envconfig:"FACE10AI_CREDIT_HISTORY_LIMIT" default:"10"`
}

type AnonymousConfig struct {
	MaxRatings   int           `envconfig:"FACE10AI_MAX_ANONYMOUS_RATINGS" default:"1"`
	CookieMaxAge time.Duration `envconfig:"FACE10AI_ANONYMOUS_COOKIE_MAX_AGE" default:"8760h"`
}

type StripeConfig struct {
	APIKey               string `envconfig:"FACE10AI_STRIPE_API_KEY"`
	Secret               string `envconfig:"FACE10AI_STRIPE_WEBHOOK_SECRET"`
	Env                  string `envconfig:"FACE10AI_STRIPE_ENV" default:"test"`
	ProPriceID           string `envconfig:"FACE10AI_STRIPE_PRO_PRICE_ID"`
	ProAnnualPriceID     string `envconfig:"FACE10AI_STRIPE_PRO_ANNUAL_PRICE_ID"`
	PremiumPriceID       string `envconfig:"FACE10AI_STRIPE_PREMIUM_PRICE_ID"`
	PremiumAnnualPriceID string `envconfig:"FACE10AI_STRIPE_PREMIUM_ANNUAL_PRICE_ID"`
}

// ScorerConfig points at the remote face scoring service.
type ScorerConfig struct {
	URL      string        `envconfig:"FACE10AI_SCORER_URL" default:"http://localhost:8000"`
	APIKey   string        `envconfig:"FACE10AI_SCORER_API_KEY"`
	Timeout  time.Duration `envconfig:"FACE10AI_SCORER_TIMEOUT" default:"20s"`
	Fallback bool          `envconfig:"FACE10AI_SCORER_FALLBACK" default:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FACE10AI_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FACE10AI_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"FACE10AI_PUBSUB_BILLING_TOPIC" default:"face10ai-billing-events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"FACE10AI_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"FACE10AI_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"FACE10AI_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"FACE10AI_OUTBOX_METRICS_ADDR" default:":9091"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"FACE10AI_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type CronConfig struct {
	Tick                  time.Duration `envconfig:"FACE10AI_CRON_TICK" default:"1m"`
	RetryAfter            time.Duration `envconfig:"FACE10AI_CRON_RETRY_AFTER" default:"5m"`
	RefreshEvery          time.Duration `envconfig:"FACE10AI_CRON_REFRESH_EVERY" default:"15m"`
	RefreshBatchSize      int           `envconfig:"FACE10AI_CRON_REFRESH_BATCH_SIZE" default:"200"`
	WebhookRetentionEvery time.Duration `envconfig:"FACE10AI_CRON_WEBHOOK_RETENTION_EVERY" default:"24h"`
	WebhookRetentionDays  int           `envconfig:"FACE10AI_CRON_WEBHOOK_RETENTION_DAYS" default:"90"`
	OutboxRetentionEvery  time.Duration `envconfig:"FACE10AI_CRON_OUTBOX_RETENTION_EVERY" default:"6h"`
	OutboxRetentionDays   int           `envconfig:"FACE10AI_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	AnonymousEvery        time.Duration `envconfig:"FACE10AI_CRON_ANONYMOUS_EVERY" default:"24h"`
	AnonymousRetention    time.Duration `envconfig:"FACE10AI_CRON_ANONYMOUS_RETENTION" default:"8760h"`
	MetricsAddr           string        `envconfig:"FACE10AI_CRON_METRICS_ADDR" default:":9092"`
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
