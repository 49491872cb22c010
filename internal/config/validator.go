package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/netutil"
)

// Severity separates fatal problems from advisories.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Issue is one finding about a config field.
type Issue struct {
	Field    string
	Value    any
	Message  string
	Severity Severity
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s=%v: %s", i.Field, i.Value, i.Message)
}

// Report collects the findings of Validate.
type Report struct {
	Issues []Issue
}

func (r *Report) fail(field string, value any, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{field, value, fmt.Sprintf(format, args...), SeverityError})
}

func (r *Report) warn(field string, value any, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{field, value, fmt.Sprintf(format, args...), SeverityWarning})
}

func (r Report) filter(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

// Errors returns the fatal issues.
func (r Report) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns the advisory issues.
func (r Report) Warnings() []Issue { return r.filter(SeverityWarning) }

// Err joins the fatal issues, or returns nil.
func (r Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for n, i := range errs {
		joined[n] = i
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
}

var storageBackends = map[string]func(*Config) (field, value string){
	"auto":     nil,
	"memory":   nil,
	"file":     nil,
	"redis":    func(c *Config) (string, string) { return "redis_addr", c.RedisAddr },
	"postgres": func(c *Config) (string, string) { return "postgres_dsn", c.PostgresDSN },
	"mongodb":  func(c *Config) (string, string) { return "mongodb_uri", c.MongoDBURI },
}

var checks = []func(*Config, *Report){
	checkServer,
	checkUpstream,
	checkPools,
	checkStorage,
	checkManagement,
}

// Validate runs every check and returns the findings.
func (c *Config) Validate() Report {
	var r Report
	for _, check := range checks {
		check(c, &r)
	}
	return r
}

func checkServer(c *Config, r *Report) {
	if c.Port < 1 || c.Port > 65535 {
		r.fail("port", c.Port, "out of range 1-65535")
	}
	if _, err := log.ParseLevel(strings.TrimSpace(c.LogLevel)); err != nil {
		r.warn("log_level", c.LogLevel, "unknown level, using info")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		r.fail("rate_limit", fmt.Sprintf("%d/%d", c.RateLimitRPS, c.RateLimitBurst), "rps and burst must be positive")
	}
}

func checkUpstream(c *Config, r *Report) {
	if u, err := url.Parse(c.UpstreamBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		r.fail("upstream_base_url", c.UpstreamBaseURL, "must be an absolute URL")
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			r.fail("proxy_url", c.ProxyURL, "unparsable")
		}
	}
	if c.UpstreamTimeoutSec < 1 || c.UpstreamTimeoutSec > 600 {
		r.warn("upstream_timeout_sec", c.UpstreamTimeoutSec, "outside 1-600")
	}
}

func checkPools(c *Config, r *Report) {
	if c.ModelRetryAttempts < 1 || c.ModelRetryAttempts > 10 {
		r.fail("model_retry_attempts", c.ModelRetryAttempts, "must be 1-10")
	}
	if c.FlushIntervalMS < MinFlushIntervalMS {
		r.fail("flush_interval_ms", c.FlushIntervalMS, "below minimum %d", MinFlushIntervalMS)
	}
	if c.AccessKeysMax < 1 {
		r.fail("access_keys_max", c.AccessKeysMax, "must be positive")
	}
}

func checkStorage(c *Config, r *Report) {
	required, known := storageBackends[c.StorageBackend]
	switch {
	case !known:
		r.fail("storage_backend", c.StorageBackend, "unknown backend")
	case required != nil:
		if field, value := required(c); value == "" {
			r.fail(field, value, "required by storage_backend %s", c.StorageBackend)
		}
	case c.StorageBackend == "memory":
		r.warn("storage_backend", c.StorageBackend, "state is lost on restart")
	}
}

func checkManagement(c *Config, r *Report) {
	if _, invalid := netutil.ParseIPNets(c.ManagementAllowIPs); len(invalid) > 0 {
		r.fail("management_allow_ips", strings.Join(invalid, ","), "entries must be IPs or CIDRs")
	}
	if !c.ManagementEnabled() {
		r.warn("management_key", "", "unset, management API disabled")
	}
}
