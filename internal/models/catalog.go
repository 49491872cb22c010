package models

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/upstream"
)

// ErrNoCatalogCredential means no active credential can query the upstream.
var ErrNoCatalogCredential = errors.New("no active credential to query the model catalog")

// Lister fetches the upstream model listing.
type Lister interface {
	ListModels(ctx context.Context, secret string) ([]upstream.Model, error)
}

// SecretSource yields a credential for catalog calls.
type SecretSource interface {
	FirstActiveSecret() (string, bool)
}

// CatalogSnapshot is the cached listing.
type CatalogSnapshot struct {
	Models    []upstream.Model `json:"models"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Catalog caches the upstream model listing for ttl and persists it so a
// restart does not refetch immediately. Concurrent refreshes share one fetch.
type Catalog struct {
	ttl     time.Duration
	lister  Lister
	secrets SecretSource
	backend storage.Backend
	now     func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	snap     *CatalogSnapshot
	restored bool
}

// NewCatalog wires a catalog. backend may be nil to skip persistence.
func NewCatalog(ttl time.Duration, lister Lister, secrets SecretSource, backend storage.Backend) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{ttl: ttl, lister: lister, secrets: secrets, backend: backend, now: time.Now}
}

// Get returns the cached snapshot, refreshing it when stale or when force is set.
func (c *Catalog) Get(ctx context.Context, force bool) (*CatalogSnapshot, error) {
	c.restore(ctx)
	if !force {
		c.mu.RLock()
		snap := c.snap
		c.mu.RUnlock()
		if snap != nil && c.now().Sub(snap.FetchedAt) < c.ttl {
			monitoring.CatalogCacheHits.Inc()
			return snap, nil
		}
	}

	v, err, _ := c.group.Do("catalog", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		c.mu.RLock()
		stale := c.snap
		c.mu.RUnlock()
		if stale != nil {
			logging.Component("catalog").WithError(err).Warn("catalog refresh failed, serving stale snapshot")
			return stale, nil
		}
		return nil, err
	}
	return v.(*CatalogSnapshot), nil
}

func (c *Catalog) refresh(ctx context.Context) (*CatalogSnapshot, error) {
	secret, ok := c.secrets.FirstActiveSecret()
	if !ok {
		monitoring.CatalogFetchTotal.WithLabelValues("no_credential").Inc()
		return nil, ErrNoCatalogCredential
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.CatalogFetchTimeout)
	defer cancel()

	list, err := c.lister.ListModels(fetchCtx, secret)
	if err != nil {
		monitoring.CatalogFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	monitoring.CatalogFetchTotal.WithLabelValues("ok").Inc()

	snap := &CatalogSnapshot{Models: list, FetchedAt: c.now().UTC()}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.persist(fetchCtx, snap)
	return snap, nil
}

func (c *Catalog) restore(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restored || c.backend == nil {
		c.restored = true
		return
	}
	c.restored = true
	e, err := c.backend.Get(ctx, storage.KeyCatalogSnapshot)
	if err != nil {
		if !storage.IsNotFound(err) {
			logging.Component("catalog").WithError(err).Warn("failed to read persisted catalog")
		}
		return
	}
	var snap CatalogSnapshot
	if err := json.Unmarshal(e.Value, &snap); err != nil {
		logging.Component("catalog").WithError(err).Warn("ignoring corrupt persisted catalog")
		return
	}
	c.snap = &snap
}

func (c *Catalog) persist(ctx context.Context, snap *CatalogSnapshot) {
	if c.backend == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, storage.KeyCatalogSnapshot, raw); err != nil {
		logging.Component("catalog").WithError(err).Warn("failed to persist catalog")
	}
}
