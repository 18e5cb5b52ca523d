package config

const (
	EnvPrefix = "FACE10AI"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	defaultSQLiteDSN = "file:face10ai.db?_busy_timeout=5000"
)

const (
	EnvAppEnv                 = "FACE10AI_APP_ENV"
	EnvPort                   = "FACE10AI_APP_PORT"
	EnvAppURL                 = "FACE10AI_APP_URL"
	EnvDBDSN                  = "FACE10AI_DB_DSN"
	EnvDBHost                 = "FACE10AI_DB_HOST"
	EnvDBPort                 = "FACE10AI_DB_PORT"
	EnvDBUser                 = "FACE10AI_DB_USER"
	EnvDBPassword             = "FACE10AI_DB_PASSWORD"
	EnvDBName                 = "FACE10AI_DB_NAME"
	EnvRedisURL               = "FACE10AI_REDIS_URL"
	EnvJWTSecret              = "FACE10AI_JWT_SECRET"
	EnvJWTIssuer              = "FACE10AI_JWT_ISSUER"
	EnvJWTExpMins             = "FACE10AI_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "FACE10AI_REFRESH_TOKEN_TTL_MINUTES"
	EnvUseSQLite              = "FACE10AI_USE_SQLITE"
	EnvInitialSignupCredits   = "FACE10AI_INITIAL_SIGNUP_CREDITS"
	EnvReferralCredits        = "FACE10AI_REFERRAL_CREDITS_AMOUNT"
	EnvStripePremiumPriceID   = "FACE10AI_STRIPE_PREMIUM_PRICE_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
