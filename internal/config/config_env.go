package config

import "strings"

const envPrefix = "PROXY_"

var envBindings = []envBinding{
	envString("HOST", func(c *Config) *string { return &c.Host }),
	envInt("PORT", func(c *Config) *int { return &c.Port }),
	envString("BASE_PATH", func(c *Config) *string { return &c.BasePath }, normalizeBasePath),
	envBool("DEBUG", func(c *Config) *bool { return &c.Debug }),
	envString("LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }, strings.ToLower),
	envString("LOG_FILE", func(c *Config) *string { return &c.LogFile }),
	envBool("REQUEST_LOG", func(c *Config) *bool { return &c.RequestLog }),
	envString("PUBLIC_MODEL", func(c *Config) *string { return &c.PublicModel }),

	envString("MANAGEMENT_KEY", func(c *Config) *string { return &c.ManagementKey }),
	envString("MANAGEMENT_KEY_HASH", func(c *Config) *string { return &c.ManagementKeyHash }),
	envList("MANAGEMENT_ALLOW_IPS", func(c *Config) *[]string { return &c.ManagementAllowIPs }),
	envBool("ACCESS_KEYS_REQUIRED", func(c *Config) *bool { return &c.AccessKeysRequired }),
	envInt("ACCESS_KEYS_MAX", func(c *Config) *int { return &c.AccessKeysMax }),
	envList("CORS_ALLOWED_ORIGINS", func(c *Config) *[]string { return &c.CORSAllowedOrigins }),

	envBool("RATE_LIMIT_ENABLED", func(c *Config) *bool { return &c.RateLimitEnabled }),
	envInt("RATE_LIMIT_RPS", func(c *Config) *int { return &c.RateLimitRPS }),
	envInt("RATE_LIMIT_BURST", func(c *Config) *int { return &c.RateLimitBurst }),

	envString("UPSTREAM_BASE_URL", func(c *Config) *string { return &c.UpstreamBaseURL }, trimTrailingSlash),
	envInt("UPSTREAM_TIMEOUT_SEC", func(c *Config) *int { return &c.UpstreamTimeoutSec }),
	envString("PROXY_URL", func(c *Config) *string { return &c.ProxyURL }),
	envInt("DIAL_TIMEOUT_SEC", func(c *Config) *int { return &c.DialTimeoutSec }),
	envInt("TLS_HANDSHAKE_TIMEOUT_SEC", func(c *Config) *int { return &c.TLSHandshakeTimeoutSec }),
	envInt("MODEL_RETRY_ATTEMPTS", func(c *Config) *int { return &c.ModelRetryAttempts }),
	envInt("DEFAULT_COOLDOWN_MS", func(c *Config) *int { return &c.DefaultCooldownMS }),
	envList("INITIAL_MODELS", func(c *Config) *[]string { return &c.InitialModels }),
	envList("UPSTREAM_KEYS", func(c *Config) *[]string { return &c.InitialCredentials }),

	envInt("FLUSH_INTERVAL_MS", func(c *Config) *int { return &c.FlushIntervalMS }),
	envInt("CAS_MAX_ATTEMPTS", func(c *Config) *int { return &c.CASMaxAttempts }),
	envInt("CATALOG_TTL_SEC", func(c *Config) *int { return &c.CatalogTTLSec }),

	envString("STORAGE_BACKEND", func(c *Config) *string { return &c.StorageBackend }, strings.ToLower),
	envString("STORAGE_BASE_DIR", func(c *Config) *string { return &c.StorageBaseDir }),
	envInt("STORAGE_TIMEOUT_SEC", func(c *Config) *int { return &c.StorageTimeoutSec }),
	envString("REDIS_ADDR", func(c *Config) *string { return &c.RedisAddr }),
	envString("REDIS_PASSWORD", func(c *Config) *string { return &c.RedisPassword }),
	envInt("REDIS_DB", func(c *Config) *int { return &c.RedisDB }),
	envString("REDIS_PREFIX", func(c *Config) *string { return &c.RedisPrefix }),
	envString("POSTGRES_DSN", func(c *Config) *string { return &c.PostgresDSN }),
	envString("MONGODB_URI", func(c *Config) *string { return &c.MongoDBURI }),
	envString("MONGODB_DATABASE", func(c *Config) *string { return &c.MongoDatabase }),

	envBool("METRICS_ENABLED", func(c *Config) *bool { return &c.MetricsEnabled }),
	envBool("LOG_STREAM_ENABLED", func(c *Config) *bool { return &c.LogStreamEnabled }),
}

// ApplyEnv overlays PROXY_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	for _, b := range envBindings {
		b.overlay(cfg)
	}
}
