package models

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
)

// ErrNoModel means the pool is empty.
var ErrNoModel = errors.New("no model available")

// Pool rotates over the shared model list. It mirrors the list held in
// shared configuration and writes edits back through the config store.
type Pool struct {
	store     *state.ConfigStore
	publisher events.Publisher

	mu     sync.Mutex
	models []string
	cursor int
	epoch  uint64
	synced bool
}

// NewPool builds a pool mirroring store and follows its changes.
func NewPool(store *state.ConfigStore, publisher events.Publisher) *Pool {
	p := &Pool{store: store, publisher: publisher}
	store.OnChange(func(*state.SharedConfig) { p.Sync() })
	p.Sync()
	return p
}

// Sync refreshes the mirror from the store. The persisted cursor is adopted
// only on first sync or when the pool itself changed.
func (p *Pool) Sync() {
	snap := p.store.Snapshot()
	epoch := p.store.PoolEpoch()

	p.mu.Lock()
	if !p.synced || epoch != p.epoch {
		p.models = append([]string(nil), snap.ModelPool...)
		p.cursor = snap.ModelCursor
		if p.cursor < 0 || p.cursor >= len(p.models) {
			p.cursor = 0
		}
		p.epoch = epoch
		p.synced = true
	}
	size := len(p.models)
	p.mu.Unlock()

	monitoring.ModelPoolSize.Set(float64(size))
}

// SelectNext returns the model under the cursor and advances it.
func (p *Pool) SelectNext() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.models) == 0 {
		return "", ErrNoModel
	}
	m := p.models[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.models)
	p.store.SetCursor(p.cursor, p.epoch)
	return m, nil
}

// List returns a copy of the current pool.
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}

// Cursor returns the index the next SelectNext will use.
func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// RemoveModel evicts name from the shared pool and resets rotation to the
// head. Removing an absent model still resets the cursor.
func (p *Pool) RemoveModel(ctx context.Context, name, reason string) error {
	removed := false
	cfg, err := p.store.Update(ctx, func(c *state.SharedConfig) (*state.SharedConfig, error) {
		removed = false
		kept := make([]string, 0, len(c.ModelPool))
		for _, m := range c.ModelPool {
			if m == name {
				removed = true
				continue
			}
			kept = append(kept, m)
		}
		if !removed && c.ModelCursor == 0 {
			return c, nil
		}
		next := c.Clone()
		next.ModelPool = kept
		next.ModelCursor = 0
		return next, nil
	})
	if err != nil {
		logging.Component("models").WithError(err).WithField("model", name).Error("model eviction failed")
		return err
	}

	p.adopt(cfg)
	if removed {
		monitoring.ModelEvictionsTotal.Inc()
		logging.Component("models").WithFields(log.Fields{
			"model":     name,
			"reason":    reason,
			"remaining": len(cfg.ModelPool),
		}).Warn("model evicted from pool")
		if p.publisher != nil {
			p.publisher.Publish(ctx, events.TopicModelEvicted, events.ModelPoolChange{Model: name, Reason: reason, Pool: cfg.ModelPool}, nil)
		}
	}
	return nil
}

// Replace installs a new ordered pool. Blanks and duplicates are dropped.
func (p *Pool) Replace(ctx context.Context, models []string) ([]string, error) {
	normalized := state.NormalizeModels(models)
	cfg, err := p.store.Update(ctx, func(c *state.SharedConfig) (*state.SharedConfig, error) {
		next := c.Clone()
		next.ModelPool = normalized
		next.ModelCursor = 0
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	p.adopt(cfg)
	logging.Component("models").WithField("models", cfg.ModelPool).Info("model pool replaced")
	if p.publisher != nil {
		p.publisher.Publish(ctx, events.TopicModelPoolReplaced, events.ModelPoolChange{Pool: cfg.ModelPool}, nil)
	}
	return cfg.ModelPool, nil
}

// adopt installs a committed row and resets the cursor to the head.
func (p *Pool) adopt(cfg *state.SharedConfig) {
	epoch := p.store.PoolEpoch()
	p.mu.Lock()
	p.models = append([]string(nil), cfg.ModelPool...)
	p.cursor = 0
	p.epoch = epoch
	p.synced = true
	p.store.SetCursor(0, epoch)
	size := len(p.models)
	p.mu.Unlock()
	monitoring.ModelPoolSize.Set(float64(size))
}
