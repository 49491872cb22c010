package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

// Updater receives the freshly read configuration. Returning the same
// pointer means "no change" and skips the write. To change anything, return
// a modified Clone. It may be called once per CAS attempt.
type Updater func(current *SharedConfig) (*SharedConfig, error)

// ConfigStore mirrors the shared configuration row and owns the only write path
// to it. Request counts and the model cursor accumulate in memory and are
// folded into the row by Flush.
type ConfigStore struct {
	backend     storage.Backend
	defaults    Defaults
	maxAttempts int
	publisher   events.Publisher

	mu        sync.RWMutex
	current   *SharedConfig
	version   int64
	poolEpoch uint64

	pendingRequests atomic.Int64

	cursorMu    sync.Mutex
	cursor      int
	cursorDirty bool
	cursorEpoch uint64

	subsMu sync.Mutex
	subs   []func(*SharedConfig)
}

// NewConfigStore creates a store. maxAttempts <= 0 uses storage.DefaultCASAttempts.
func NewConfigStore(backend storage.Backend, defaults Defaults, maxAttempts int) *ConfigStore {
	return &ConfigStore{
		backend:     backend,
		defaults:    defaults,
		maxAttempts: maxAttempts,
		current:     newSharedConfig(defaults),
	}
}

// SetEventPublisher wires an optional event publisher.
func (s *ConfigStore) SetEventPublisher(p events.Publisher) { s.publisher = p }

// OnChange registers fn to receive a copy of every committed configuration
// that differs from the previous mirror.
func (s *ConfigStore) OnChange(fn func(*SharedConfig)) {
	if fn == nil {
		return
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

// Load reads the row, creating or migrating it when needed.
func (s *ConfigStore) Load(ctx context.Context) (*SharedConfig, error) {
	return s.Update(ctx, func(c *SharedConfig) (*SharedConfig, error) { return c, nil })
}

// Update runs updater under optimistic concurrency and refreshes the mirror.
func (s *ConfigStore) Update(ctx context.Context, updater Updater) (*SharedConfig, error) {
	res, err := storage.UpdateCAS(ctx, s.backend, storage.CASOptions[SharedConfig]{
		Key:         storage.KeySharedConfig,
		MaxAttempts: s.maxAttempts,
		Decode: func(raw []byte, exists bool) (*SharedConfig, bool, error) {
			return decodeSharedConfig(raw, exists, s.defaults)
		},
		Encode: func(c *SharedConfig) ([]byte, error) {
			c.SchemaVersion = SchemaVersion
			c.UpdatedAt = time.Now().UTC()
			return encodeSharedConfig(c)
		},
	}, updater)

	switch {
	case err == nil:
		monitoring.ConfigCASAttempts.WithLabelValues("ok").Add(float64(res.Attempts))
	case errors.Is(err, storage.ErrCASExhausted):
		monitoring.ConfigCASAttempts.WithLabelValues("exhausted").Add(float64(s.attempts()))
		return nil, err
	default:
		monitoring.ConfigCASAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	s.refresh(res.Value, res.Version, res.Wrote)
	return res.Value.Clone(), nil
}

func (s *ConfigStore) attempts() int {
	if s.maxAttempts <= 0 {
		return storage.DefaultCASAttempts
	}
	return s.maxAttempts
}

func (s *ConfigStore) refresh(cfg *SharedConfig, version int64, wrote bool) {
	s.mu.Lock()
	if version < s.version {
		s.mu.Unlock()
		return
	}
	changed := version != s.version || wrote
	if !equalModels(cfg.ModelPool, s.current.ModelPool) {
		s.poolEpoch++
		changed = true
	}
	s.current = cfg.Clone()
	s.version = version
	s.mu.Unlock()

	if !changed {
		return
	}
	snapshot := cfg.Clone()
	s.subsMu.Lock()
	subs := append([]func(*SharedConfig){}, s.subs...)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(snapshot.Clone())
	}
	if wrote && s.publisher != nil {
		s.publisher.Publish(context.Background(), events.TopicSharedConfigChanged, events.SharedConfigChange{
			Version:         version,
			ModelPool:       snapshot.ModelPool,
			FlushIntervalMS: snapshot.FlushIntervalMS,
		}, nil)
	}
}

// Snapshot returns a copy of the mirrored configuration.
func (s *ConfigStore) Snapshot() *SharedConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Version returns the mirrored row version; 0 before the first Load.
func (s *ConfigStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PoolEpoch changes whenever the mirrored model pool changes.
func (s *ConfigStore) PoolEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poolEpoch
}

// RecordRequest counts one dispatched request toward total_requests.
func (s *ConfigStore) RecordRequest() {
	s.pendingRequests.Add(1)
}

// PendingRequests returns requests counted since the last flush.
func (s *ConfigStore) PendingRequests() int64 {
	return s.pendingRequests.Load()
}

// SetCursor records the model cursor for the next flush. epoch is the
// PoolEpoch the cursor was computed against.
func (s *ConfigStore) SetCursor(cursor int, epoch uint64) {
	s.cursorMu.Lock()
	s.cursor = cursor
	s.cursorDirty = true
	s.cursorEpoch = epoch
	s.cursorMu.Unlock()
}

// Dirty reports whether Flush has anything to write.
func (s *ConfigStore) Dirty() bool {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.cursorDirty || s.pendingRequests.Load() != 0
}

// SetFlushInterval persists a new write-back interval.
func (s *ConfigStore) SetFlushInterval(ctx context.Context, ms int64) (*SharedConfig, error) {
	if ms < MinFlushIntervalMS {
		return nil, fmt.Errorf("flush interval must be at least %dms", MinFlushIntervalMS)
	}
	return s.Update(ctx, func(c *SharedConfig) (*SharedConfig, error) {
		if c.FlushIntervalMS == ms {
			return c, nil
		}
		next := c.Clone()
		next.FlushIntervalMS = ms
		return next, nil
	})
}

// Flush folds the pending request delta and the model cursor into the row.
// The cursor is dropped when the pool changed since it was computed. On
// failure the pending state is restored for the next attempt.
func (s *ConfigStore) Flush(ctx context.Context) error {
	pending := s.pendingRequests.Swap(0)

	s.cursorMu.Lock()
	cursor, cursorDirty, epoch := s.cursor, s.cursorDirty, s.cursorEpoch
	s.cursorDirty = false
	s.cursorMu.Unlock()

	if pending == 0 && !cursorDirty {
		return nil
	}

	mirrorPool := s.Snapshot().ModelPool
	applyCursor := cursorDirty && epoch == s.PoolEpoch()

	_, err := s.Update(ctx, func(c *SharedConfig) (*SharedConfig, error) {
		next := c.Clone()
		next.TotalRequests += pending
		if applyCursor && equalModels(c.ModelPool, mirrorPool) && cursor >= 0 && cursor < len(c.ModelPool) {
			next.ModelCursor = cursor
		}
		if next.TotalRequests == c.TotalRequests && next.ModelCursor == c.ModelCursor {
			return c, nil
		}
		return next, nil
	})
	if err != nil {
		s.pendingRequests.Add(pending)
		s.cursorMu.Lock()
		if cursorDirty && !s.cursorDirty {
			s.cursor, s.cursorDirty, s.cursorEpoch = cursor, true, epoch
		}
		s.cursorMu.Unlock()
		logging.Component("state").WithError(err).WithField("pending_requests", pending).Warn("shared config flush failed")
		return err
	}
	return nil
}
