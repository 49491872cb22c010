package credential

import (
	"strconv"
	"strings"
	"time"
)

// DefaultCooldown applies when a 429 carries no usable Retry-After.
const DefaultCooldown = 2000 * time.Millisecond

// CooldownDuration converts a Retry-After header value in seconds. Anything
// that is not a non-negative integer falls back to def.
func CooldownDuration(retryAfter string, def time.Duration) time.Duration {
	v := strings.TrimSpace(retryAfter)
	if v == "" {
		return def
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// RetryAfterSeconds rounds a remaining wait up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
