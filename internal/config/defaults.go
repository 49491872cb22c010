package config

// Default values shared by the loader, the env overlay and validation.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8000
	DefaultLogLevel           = "info"
	DefaultPublicModel        = "cerebras-pool"
	DefaultMaxBodyBytes       = 8 << 20
	DefaultAccessKeysMax      = 5
	DefaultUpstreamBaseURL    = "https://api.cerebras.ai/v1"
	DefaultUpstreamTimeoutSec = 60
	DefaultModelRetryAttempts = 3
	DefaultCooldownMS         = 2000
	DefaultFlushIntervalMS    = 5000
	MinFlushIntervalMS        = 500
	DefaultCASMaxAttempts     = 5
	DefaultCatalogTTLSec      = 3600
	DefaultStorageBackend     = "auto"
	DefaultStorageBaseDir     = "./data"
	DefaultStorageTimeoutSec  = 10
	DefaultRedisPrefix        = "poolproxy:"
	DefaultMongoDatabase      = "poolproxy"
	DefaultRateLimitRPS       = 20
	DefaultRateLimitBurst     = 40
)

// DefaultConfig returns a configuration populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Host:                   DefaultHost,
		Port:                   DefaultPort,
		LogLevel:               DefaultLogLevel,
		PublicModel:            DefaultPublicModel,
		MaxBodyBytes:           DefaultMaxBodyBytes,
		AccessKeysMax:          DefaultAccessKeysMax,
		CORSAllowedOrigins:     []string{"*"},
		RateLimitRPS:           DefaultRateLimitRPS,
		RateLimitBurst:         DefaultRateLimitBurst,
		UpstreamBaseURL:        DefaultUpstreamBaseURL,
		UpstreamTimeoutSec:     DefaultUpstreamTimeoutSec,
		DialTimeoutSec:         10,
		TLSHandshakeTimeoutSec: 10,
		ModelRetryAttempts:     DefaultModelRetryAttempts,
		DefaultCooldownMS:      DefaultCooldownMS,
		FlushIntervalMS:        DefaultFlushIntervalMS,
		CASMaxAttempts:         DefaultCASMaxAttempts,
		CatalogTTLSec:          DefaultCatalogTTLSec,
		StorageBackend:         DefaultStorageBackend,
		StorageBaseDir:         DefaultStorageBaseDir,
		StorageTimeoutSec:      DefaultStorageTimeoutSec,
		RedisPrefix:            DefaultRedisPrefix,
		MongoDatabase:          DefaultMongoDatabase,
		MetricsEnabled:         true,
	}
}

// applyDefaults fills zero values left behind by a partial config file.
func applyDefaults(c *Config) {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.PublicModel == "" {
		c.PublicModel = def.PublicModel
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.AccessKeysMax <= 0 {
		c.AccessKeysMax = def.AccessKeysMax
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = def.CORSAllowedOrigins
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = def.RateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = def.RateLimitBurst
	}
	if c.UpstreamBaseURL == "" {
		c.UpstreamBaseURL = def.UpstreamBaseURL
	}
	if c.UpstreamTimeoutSec <= 0 {
		c.UpstreamTimeoutSec = def.UpstreamTimeoutSec
	}
	if c.DialTimeoutSec <= 0 {
		c.DialTimeoutSec = def.DialTimeoutSec
	}
	if c.TLSHandshakeTimeoutSec <= 0 {
		c.TLSHandshakeTimeoutSec = def.TLSHandshakeTimeoutSec
	}
	if c.ModelRetryAttempts <= 0 {
		c.ModelRetryAttempts = def.ModelRetryAttempts
	}
	if c.DefaultCooldownMS <= 0 {
		c.DefaultCooldownMS = def.DefaultCooldownMS
	}
	if c.FlushIntervalMS <= 0 {
		c.FlushIntervalMS = def.FlushIntervalMS
	}
	if c.CASMaxAttempts <= 0 {
		c.CASMaxAttempts = def.CASMaxAttempts
	}
	if c.CatalogTTLSec <= 0 {
		c.CatalogTTLSec = def.CatalogTTLSec
	}
	if c.StorageBackend == "" {
		c.StorageBackend = def.StorageBackend
	}
	if c.StorageBaseDir == "" {
		c.StorageBaseDir = def.StorageBaseDir
	}
	if c.StorageTimeoutSec <= 0 {
		c.StorageTimeoutSec = def.StorageTimeoutSec
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = def.RedisPrefix
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = def.MongoDatabase
	}
	c.BasePath = normalizeBasePath(c.BasePath)
}
