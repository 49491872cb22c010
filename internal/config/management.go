package config

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// ManagementEnabled reports whether the admin API has any key to check against.
func (c *Config) ManagementEnabled() bool {
	return c != nil && (c.ManagementKey != "" || c.ManagementKeyHash != "")
}

// CheckManagementKey accepts candidate if it equals the plaintext key or
// matches the bcrypt hash. Either may be configured, or both.
func (c *Config) CheckManagementKey(candidate string) bool {
	if !c.ManagementEnabled() || candidate == "" {
		return false
	}
	if c.ManagementKey != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(c.ManagementKey)) == 1 {
		return true
	}
	return c.ManagementKeyHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(c.ManagementKeyHash), []byte(candidate)) == nil
}
