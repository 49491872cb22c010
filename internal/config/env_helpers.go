package config

import (
	"os"
	"strconv"
	"strings"
)

// envBinding overlays one PROXY_* variable onto a Config. Unset or empty
// variables leave the field alone, as do values that fail to parse.
type envBinding struct {
	name  string
	apply func(cfg *Config, raw string)
}

func envString(name string, field func(*Config) *string, transform ...func(string) string) envBinding {
	return envBinding{name: name, apply: func(cfg *Config, raw string) {
		for _, t := range transform {
			raw = t(raw)
		}
		*field(cfg) = raw
	}}
}

func envInt(name string, field func(*Config) *int) envBinding {
	return envBinding{name: name, apply: func(cfg *Config, raw string) {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			*field(cfg) = n
		}
	}}
}

func envBool(name string, field func(*Config) *bool) envBinding {
	return envBinding{name: name, apply: func(cfg *Config, raw string) {
		if b, ok := parseToggle(raw); ok {
			*field(cfg) = b
		}
	}}
}

func envList(name string, field func(*Config) *[]string) envBinding {
	return envBinding{name: name, apply: func(cfg *Config, raw string) {
		if items := splitAndTrim(raw, ","); len(items) > 0 {
			*field(cfg) = items
		}
	}}
}

func (b envBinding) overlay(cfg *Config) {
	if raw, ok := os.LookupEnv(envPrefix + b.name); ok && strings.TrimSpace(raw) != "" {
		b.apply(cfg, raw)
	}
}

func parseToggle(raw string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func splitAndTrim(input, sep string) []string {
	parts := strings.Split(input, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func trimTrailingSlash(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }

// normalizeBasePath yields "" or a "/x/y" path without duplicate or trailing slashes.
func normalizeBasePath(raw string) string {
	segments := splitAndTrim(raw, "/")
	if len(segments) == 0 {
		return ""
	}
	return "/" + strings.Join(segments, "/")
}
