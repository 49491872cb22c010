package credential

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an upstream credential.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusInvalid  Status = "invalid"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusInvalid:
		return true
	}
	return false
}

// Credential is one upstream API key and its usage bookkeeping.
type Credential struct {
	ID        string     `json:"id"`
	Secret    string     `json:"secret"`
	UseCount  int64      `json:"use_count"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastUsed != nil {
		t := *c.LastUsed
		out.LastUsed = &t
	}
	return &out
}

// Selection is what the dispatch loop needs to forward one request.
type Selection struct {
	ID     string
	Secret string
}

// Summary is the admin-facing view of a credential. The secret is masked.
type Summary struct {
	ID            string     `json:"id"`
	MaskedSecret  string     `json:"masked_secret"`
	Status        Status     `json:"status"`
	UseCount      int64      `json:"use_count"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Stats aggregates the pool for the admin stats endpoint and gauges.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	CoolingDown int            `json:"cooling_down"`
	TotalUses   int64          `json:"total_uses"`
}

var (
	// ErrPoolEmpty means there is no active credential at all.
	ErrPoolEmpty = errors.New("credential pool is empty")
	// ErrNoneAvailable means every active credential is cooling down.
	ErrNoneAvailable = errors.New("all credentials are cooling down")
	// ErrNotFound is returned for unknown credential ids.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicateSecret rejects adding a secret that is already pooled.
	ErrDuplicateSecret = errors.New("credential already exists")
	// ErrEmptySecret rejects blank secrets.
	ErrEmptySecret = errors.New("credential secret is empty")
)

func decodeCredential(raw []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.ID == "" || c.Secret == "" {
		return nil, errors.New("credential record missing id or secret")
	}
	if !c.Status.Valid() {
		c.Status = StatusActive
	}
	return &c, nil
}
