package config

// Config holds every setting the proxy reads at startup. Field tags cover
// YAML, JSON and TOML so the same struct decodes all supported file formats.
type Config struct {
	// Server settings
	Host         string `yaml:"host" json:"host" toml:"host"`
	Port         int    `yaml:"port" json:"port" toml:"port"`
	BasePath     string `yaml:"base_path" json:"base_path" toml:"base_path"`
	Debug        bool   `yaml:"debug" json:"debug" toml:"debug"`
	LogLevel     string `yaml:"log_level" json:"log_level" toml:"log_level"`
	LogFile      string `yaml:"log_file" json:"log_file" toml:"log_file"`
	RequestLog   bool   `yaml:"request_log" json:"request_log" toml:"request_log"`
	PublicModel  string `yaml:"public_model" json:"public_model" toml:"public_model"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" json:"max_body_bytes" toml:"max_body_bytes"`

	// Auth settings
	ManagementKey      string `yaml:"management_key" json:"management_key" toml:"management_key"`
	ManagementKeyHash  string `yaml:"management_key_hash" json:"management_key_hash" toml:"management_key_hash"`
	AccessKeysRequired bool   `yaml:"access_keys_required" json:"access_keys_required" toml:"access_keys_required"`
	AccessKeysMax      int    `yaml:"access_keys_max" json:"access_keys_max" toml:"access_keys_max"`

	// ManagementAllowIPs restricts the admin API to these IPs or CIDRs; empty allows any peer.
	ManagementAllowIPs []string `yaml:"management_allow_ips" json:"management_allow_ips" toml:"management_allow_ips"`

	// CORS
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" toml:"cors_allowed_origins"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled" toml:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst" toml:"rate_limit_burst"`

	// Upstream settings
	UpstreamBaseURL        string   `yaml:"upstream_base_url" json:"upstream_base_url" toml:"upstream_base_url"`
	UpstreamTimeoutSec     int      `yaml:"upstream_timeout_sec" json:"upstream_timeout_sec" toml:"upstream_timeout_sec"`
	ProxyURL               string   `yaml:"proxy_url" json:"proxy_url" toml:"proxy_url"`
	DialTimeoutSec         int      `yaml:"dial_timeout_sec" json:"dial_timeout_sec" toml:"dial_timeout_sec"`
	TLSHandshakeTimeoutSec int      `yaml:"tls_handshake_timeout_sec" json:"tls_handshake_timeout_sec" toml:"tls_handshake_timeout_sec"`
	ModelRetryAttempts     int      `yaml:"model_retry_attempts" json:"model_retry_attempts" toml:"model_retry_attempts"`
	DefaultCooldownMS      int      `yaml:"default_cooldown_ms" json:"default_cooldown_ms" toml:"default_cooldown_ms"`
	InitialModels          []string `yaml:"initial_models" json:"initial_models" toml:"initial_models"`
	InitialCredentials     []string `yaml:"initial_credentials" json:"initial_credentials" toml:"initial_credentials"`

	// Shared state
	FlushIntervalMS int `yaml:"flush_interval_ms" json:"flush_interval_ms" toml:"flush_interval_ms"`
	CASMaxAttempts  int `yaml:"cas_max_attempts" json:"cas_max_attempts" toml:"cas_max_attempts"`
	CatalogTTLSec   int `yaml:"catalog_ttl_sec" json:"catalog_ttl_sec" toml:"catalog_ttl_sec"`

	// Storage settings
	StorageBackend    string `yaml:"storage_backend" json:"storage_backend" toml:"storage_backend"`
	StorageBaseDir    string `yaml:"storage_base_dir" json:"storage_base_dir" toml:"storage_base_dir"`
	StorageTimeoutSec int    `yaml:"storage_timeout_sec" json:"storage_timeout_sec" toml:"storage_timeout_sec"`
	RedisAddr         string `yaml:"redis_addr" json:"redis_addr" toml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password" json:"redis_password" toml:"redis_password"`
	RedisDB           int    `yaml:"redis_db" json:"redis_db" toml:"redis_db"`
	RedisPrefix       string `yaml:"redis_prefix" json:"redis_prefix" toml:"redis_prefix"`
	PostgresDSN       string `yaml:"postgres_dsn" json:"postgres_dsn" toml:"postgres_dsn"`
	MongoDBURI        string `yaml:"mongodb_uri" json:"mongodb_uri" toml:"mongodb_uri"`
	MongoDatabase     string `yaml:"mongodb_database" json:"mongodb_database" toml:"mongodb_database"`

	// Observability
	MetricsEnabled   bool `yaml:"metrics_enabled" json:"metrics_enabled" toml:"metrics_enabled"`
	LogStreamEnabled bool `yaml:"log_stream_enabled" json:"log_stream_enabled" toml:"log_stream_enabled"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.CORSAllowedOrigins = append([]string(nil), c.CORSAllowedOrigins...)
	out.ManagementAllowIPs = append([]string(nil), c.ManagementAllowIPs...)
	out.InitialModels = append([]string(nil), c.InitialModels...)
	out.InitialCredentials = append([]string(nil), c.InitialCredentials...)
	return &out
}
