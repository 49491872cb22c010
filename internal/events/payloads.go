package events

import "time"

// CooldownSet accompanies TopicCredentialCooldown.
type CooldownSet struct {
	ID    string    `json:"id"`
	Until time.Time `json:"until"`
}

// ModelPoolChange accompanies TopicModelEvicted and TopicModelPoolReplaced.
// Model and Reason are empty for a replace.
type ModelPoolChange struct {
	Model  string   `json:"model,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Pool   []string `json:"pool"`
}

// SharedConfigChange accompanies TopicSharedConfigChanged.
type SharedConfigChange struct {
	Version         int64    `json:"version"`
	ModelPool       []string `json:"model_pool"`
	FlushIntervalMS int64    `json:"flush_interval_ms"`
}

// FlushFailure accompanies TopicFlushFailed.
type FlushFailure struct {
	Error string `json:"error"`
	Batch int    `json:"batch"`
}
