package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SchemaVersion is the current shape of the shared configuration row.
const SchemaVersion = 2

// MinFlushIntervalMS is the smallest accepted write-back interval.
const MinFlushIntervalMS int64 = 500

// SharedConfig is the single persisted row every instance agrees on.
type SharedConfig struct {
	SchemaVersion   int       `json:"schema_version"`
	ModelPool       []string  `json:"model_pool"`
	ModelCursor     int       `json:"model_cursor"`
	TotalRequests   int64     `json:"total_requests"`
	FlushIntervalMS int64     `json:"flush_interval_ms"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Defaults seeds a missing row and repairs invalid fields.
type Defaults struct {
	Models          []string
	FlushIntervalMS int64
}

func (d Defaults) flushInterval() int64 {
	if d.FlushIntervalMS < MinFlushIntervalMS {
		return 5000
	}
	return d.FlushIntervalMS
}

// Clone returns a deep copy.
func (c *SharedConfig) Clone() *SharedConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.ModelPool = append([]string(nil), c.ModelPool...)
	return &out
}

// FlushInterval returns the configured interval as a duration.
func (c *SharedConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// NormalizeModels trims names, drops blanks and duplicates, and keeps order.
func NormalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func newSharedConfig(d Defaults) *SharedConfig {
	return &SharedConfig{
		SchemaVersion:   SchemaVersion,
		ModelPool:       NormalizeModels(d.Models),
		FlushIntervalMS: d.flushInterval(),
		UpdatedAt:       time.Now().UTC(),
	}
}

// decodeSharedConfig parses a stored row of any known schema. rewrite is
// true when the row is missing, older than SchemaVersion, or had fields that
// needed repair.
func decodeSharedConfig(raw []byte, exists bool, d Defaults) (*SharedConfig, bool, error) {
	if !exists {
		return newSharedConfig(d), true, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, false, fmt.Errorf("shared config is not valid json")
	}

	doc := gjson.ParseBytes(raw)
	version := int(doc.Get("schema_version").Int())
	cfg := &SharedConfig{SchemaVersion: SchemaVersion}
	rewrite := version != SchemaVersion

	switch {
	case version <= 1:
		cfg.ModelPool = stringArray(doc.Get("models"))
		cfg.ModelCursor = int(doc.Get("cursor").Int())
		cfg.TotalRequests = doc.Get("total_requests").Int()
		cfg.FlushIntervalMS = d.flushInterval()
	default:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, false, fmt.Errorf("decode shared config: %w", err)
		}
		cfg.SchemaVersion = SchemaVersion
	}

	if repairSharedConfig(cfg, d) {
		rewrite = true
	}
	return cfg, rewrite, nil
}

func repairSharedConfig(cfg *SharedConfig, d Defaults) bool {
	changed := false
	if cfg.ModelPool == nil {
		cfg.ModelPool = []string{}
		changed = true
	}
	if normalized := NormalizeModels(cfg.ModelPool); !equalModels(normalized, cfg.ModelPool) {
		cfg.ModelPool = normalized
		changed = true
	}
	if cfg.ModelCursor < 0 || cfg.ModelCursor >= len(cfg.ModelPool) && cfg.ModelCursor != 0 {
		cfg.ModelCursor = 0
		changed = true
	}
	if cfg.TotalRequests < 0 {
		cfg.TotalRequests = 0
		changed = true
	}
	if cfg.FlushIntervalMS < MinFlushIntervalMS {
		cfg.FlushIntervalMS = d.flushInterval()
		changed = true
	}
	return changed
}

func stringArray(r gjson.Result) []string {
	if !r.IsArray() {
		return []string{}
	}
	out := make([]string, 0, len(r.Array()))
	for _, item := range r.Array() {
		out = append(out, item.String())
	}
	return out
}

func encodeSharedConfig(cfg *SharedConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

func equalModels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
