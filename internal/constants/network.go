package constants

import "time"

// Upstream HTTP transport pool.
const (
	MaxIdleConns        = 512
	MaxIdleConnsPerHost = 256
	IdleConnTimeout     = 90 * time.Second
	DefaultKeepAlive    = 30 * time.Second
)

// Upstream HTTP timeouts.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultExpectContinueTimeout = 2 * time.Second
)

// Inbound server lifecycle.
const (
	ServerReadHeaderTimeout = 15 * time.Second
	ServerShutdownTimeout   = 20 * time.Second
	RateLimitSweepInterval  = time.Minute
)
