package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

// RequestCounter receives one tick per successful selection.
type RequestCounter interface {
	RecordRequest()
}

// Pool rotates requests across active credentials. A single mutex guards
// the credential map, the cooldown map, the usable list and the cursor.
type Pool struct {
	mu        sync.Mutex
	creds     map[string]*Credential
	usable    []string
	cursor    int
	cooldowns map[string]time.Time
	dirty     map[string]struct{}

	defaultCooldown atomic.Int64
	counter         RequestCounter
	publisher       events.Publisher
}

// Option customises a Pool.
type Option func(*Pool)

// WithDefaultCooldown overrides the 429 fallback cooldown.
func WithDefaultCooldown(d time.Duration) Option {
	return func(p *Pool) { p.SetDefaultCooldown(d) }
}

// WithRequestCounter wires shared request accounting.
func WithRequestCounter(c RequestCounter) Option {
	return func(p *Pool) { p.counter = c }
}

// WithPublisher wires lifecycle events.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pool) { p.publisher = pub }
}

// SetDefaultCooldown changes the fallback used when a 429 carries no
// usable Retry-After. Non-positive values are ignored.
func (p *Pool) SetDefaultCooldown(d time.Duration) {
	if d > 0 {
		p.defaultCooldown.Store(int64(d))
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		creds:     make(map[string]*Credential),
		cooldowns: make(map[string]time.Time),
		dirty:     make(map[string]struct{}),
	}
	p.defaultCooldown.Store(int64(DefaultCooldown))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load replaces the in-memory pool with every credential persisted in b.
// Corrupt records are skipped and logged.
func (p *Pool) Load(ctx context.Context, b storage.Backend) error {
	entries, err := b.List(ctx, storage.PrefixCredential)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	loaded := make(map[string]*Credential, len(entries))
	for _, e := range entries {
		c, err := decodeCredential(e.Value)
		if err != nil {
			logging.Component("credential").WithError(err).WithField("key", e.Key).Warn("skipping corrupt credential record")
			continue
		}
		loaded[c.ID] = c
	}

	p.mu.Lock()
	p.creds = loaded
	p.cooldowns = make(map[string]time.Time)
	p.dirty = make(map[string]struct{})
	p.cursor = 0
	p.rebuildUsableLocked()
	stats := p.statsLocked(time.Now())
	p.mu.Unlock()

	recordGauges(stats)
	logging.Component("credential").WithField("count", len(loaded)).Info("credential pool loaded")
	return nil
}

// Seed adds each secret not already pooled, in list order. It returns how
// many were added.
func (p *Pool) Seed(secrets []string, now time.Time) int {
	added := 0
	for i, s := range secrets {
		if _, err := p.Add(s, now.Add(time.Duration(i))); err == nil {
			added++
		}
	}
	return added
}

// rebuildUsableLocked recomputes the ordered active ids and clamps the cursor.
func (p *Pool) rebuildUsableLocked() {
	usable := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Status == StatusActive {
			usable = append(usable, c)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		if !usable[i].CreatedAt.Equal(usable[j].CreatedAt) {
			return usable[i].CreatedAt.Before(usable[j].CreatedAt)
		}
		return usable[i].ID < usable[j].ID
	})
	p.usable = p.usable[:0]
	for _, c := range usable {
		p.usable = append(p.usable, c.ID)
	}
	if p.cursor >= len(p.usable) || p.cursor < 0 {
		p.cursor = 0
	}
}

// SelectNext returns the next active credential whose cooldown has passed.
func (p *Pool) SelectNext(now time.Time) (Selection, error) {
	p.mu.Lock()
	n := len(p.usable)
	if n == 0 {
		p.mu.Unlock()
		return Selection{}, ErrPoolEmpty
	}
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		id := p.usable[idx]
		if until, ok := p.cooldowns[id]; ok && until.After(now) {
			continue
		}
		c := p.creds[id]
		p.cursor = (idx + 1) % n
		c.UseCount++
		used := now.UTC()
		c.LastUsed = &used
		p.dirty[id] = struct{}{}
		sel := Selection{ID: c.ID, Secret: c.Secret}
		p.mu.Unlock()

		if p.counter != nil {
			p.counter.RecordRequest()
		}
		recordSelection()
		return sel, nil
	}
	p.mu.Unlock()
	return Selection{}, ErrNoneAvailable
}

// Add pools a new active credential.
func (p *Pool) Add(secret string, now time.Time) (*Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}

	p.mu.Lock()
	for _, c := range p.creds {
		if c.Secret == secret {
			p.mu.Unlock()
			return nil, ErrDuplicateSecret
		}
	}
	c := &Credential{
		ID:        uuid.NewString(),
		Secret:    secret,
		Status:    StatusActive,
		CreatedAt: now.UTC(),
	}
	p.creds[c.ID] = c
	p.dirty[c.ID] = struct{}{}
	p.rebuildUsableLocked()
	out := c.Clone()
	stats := p.statsLocked(now)
	p.mu.Unlock()

	recordGauges(stats)
	p.publish(events.TopicCredentialAdded, out)
	return out, nil
}

// Delete removes a credential and its cooldown.
func (p *Pool) Delete(id string) error {
	p.mu.Lock()
	c, ok := p.creds[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	delete(p.creds, id)
	delete(p.cooldowns, id)
	p.dirty[id] = struct{}{}
	p.rebuildUsableLocked()
	stats := p.statsLocked(time.Now())
	p.mu.Unlock()

	recordGauges(stats)
	p.publish(events.TopicCredentialDeleted, c)
	return nil
}

// Get returns a copy of one credential.
func (p *Pool) Get(id string) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// List returns admin summaries ordered by creation time.
func (p *Pool) List(now time.Time) []Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Summary, 0, len(p.creds))
	for _, c := range p.creds {
		s := Summary{
			ID:           c.ID,
			MaskedSecret: logging.MaskSecret(c.Secret),
			Status:       c.Status,
			UseCount:     c.UseCount,
			CreatedAt:    c.CreatedAt,
		}
		if c.LastUsed != nil {
			t := *c.LastUsed
			s.LastUsed = &t
		}
		if until, ok := p.cooldowns[c.ID]; ok && until.After(now) {
			u := until
			s.CooldownUntil = &u
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats summarises the pool.
func (p *Pool) Stats(now time.Time) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked(now)
}

func (p *Pool) statsLocked(now time.Time) Stats {
	st := Stats{
		Total:    len(p.creds),
		ByStatus: map[Status]int{StatusActive: 0, StatusInactive: 0, StatusInvalid: 0},
	}
	for _, c := range p.creds {
		st.ByStatus[c.Status]++
		st.TotalUses += c.UseCount
	}
	for _, until := range p.cooldowns {
		if until.After(now) {
			st.CoolingDown++
		}
	}
	return st
}

// FirstActiveSecret returns the secret of the head of the usable list
// without counting it as a use.
func (p *Pool) FirstActiveSecret() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.usable) == 0 {
		return "", false
	}
	return p.creds[p.usable[0]].Secret, true
}
