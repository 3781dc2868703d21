package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	GuestBackendSQLite = "sqlite"
	GuestBackendRedis  = "redis"
	GuestBackendMemory = "memory"

	GuardBackendMemory = "memory"
	GuardBackendRedis  = "redis"

	QuantityPolicyRemove = "remove_non_positive"
	QuantityPolicyKeep   = "keep_non_positive"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN    = "STOREFRONT_DB_DSN"
	EnvDBDriver = "STOREFRONT_DB_DRIVER"
	EnvDBHost   = "STOREFRONT_DB_HOST"
	EnvDBUser   = "STOREFRONT_DB_USER"
	EnvDBName   = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvCartStorageKey     = "STOREFRONT_CART_STORAGE_KEY"
	EnvCartGuestBackend   = "STOREFRONT_CART_GUEST_BACKEND"
	EnvCartDeviceID       = "STOREFRONT_CART_DEVICE_ID"
	EnvCartAPIBaseURL     = "STOREFRONT_CART_API_BASE_URL"
	EnvCartQuantityPolicy = "STOREFRONT_CART_QUANTITY_POLICY"
	EnvCartGuardBackend   = "STOREFRONT_CART_GUARD_BACKEND"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
