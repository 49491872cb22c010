package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/accesskey"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/config"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/dispatch"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	mw "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/middleware"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/models"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/netutil"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/runtime"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/upstream"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/writeback"
)

// Options overrides parts of the runtime, mainly for tests.
type Options struct {
	// Backend skips storage.Open when set.
	Backend     storage.Backend
	BackendKind string
	// HTTPClient replaces the upstream transport.
	HTTPClient *http.Client
}

// App owns the long-lived services behind the HTTP engine.
type App struct {
	cm        *config.ConfigManager
	cfg       atomic.Pointer[config.Config]
	adminNets atomic.Pointer[[]*net.IPNet]

	Backend     storage.Backend
	BackendKind string
	Hub         *events.Hub
	Shared      *state.ConfigStore
	Credentials *credential.Pool
	AccessKeys  *accesskey.Manager
	Models      *models.Pool
	Catalog     *models.Catalog
	Upstream    *upstream.Client
	Dispatcher  *dispatch.Dispatcher
	Flusher     *writeback.Flusher
	Tasks       *runtime.Supervisor
	Limiter     *mw.RateLimiter
	LogStream   *logging.LogStream
	Engine      *gin.Engine
}

// NewApp opens storage, restores persisted state and wires every service.
// Storage work is bounded by the configured storage timeout. Background
// work does not begin until Start.
func NewApp(ctx context.Context, cm *config.ConfigManager, opts Options) (*App, error) {
	cfg := cm.GetConfig()
	a := &App{cm: cm, Hub: events.NewHub()}
	a.setConfig(cfg)
	cm.SetEventPublisher(a.Hub)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.StorageTimeoutSec)*time.Second)
	defer cancel()
	if opts.Backend != nil {
		a.Backend, a.BackendKind = opts.Backend, opts.BackendKind
		if a.BackendKind == "" {
			a.BackendKind = "custom"
		}
	} else {
		b, kind, err := storage.Open(ctx, cfg.StorageOptions())
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.Backend, a.BackendKind = b, kind
	}

	if err := a.restore(ctx, cfg); err != nil {
		_ = a.Backend.Close()
		return nil, err
	}

	a.Upstream = upstream.New(upstream.Options{
		BaseURL:             cfg.UpstreamBaseURL,
		ProxyURL:            cfg.ProxyURL,
		DialTimeout:         time.Duration(cfg.DialTimeoutSec) * time.Second,
		TLSHandshakeTimeout: time.Duration(cfg.TLSHandshakeTimeoutSec) * time.Second,
		HTTPClient:          opts.HTTPClient,
	})
	a.Catalog = models.NewCatalog(time.Duration(cfg.CatalogTTLSec)*time.Second, a.Upstream, a.Credentials, a.Backend)
	a.Dispatcher = dispatch.New(a.Credentials, a.Models, a.Upstream, dispatch.Options{
		Timeout:       time.Duration(cfg.UpstreamTimeoutSec) * time.Second,
		ModelAttempts: cfg.ModelRetryAttempts,
	})

	a.Flusher = writeback.New(a.Backend, a.Shared, a.Credentials, a.Hub)
	a.Flusher.Register(a.Credentials)
	a.Flusher.Register(a.AccessKeys)

	a.Tasks = runtime.NewSupervisor(context.Background())
	if cfg.RateLimitEnabled {
		a.Limiter = mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.LogStreamEnabled {
		a.LogStream = logging.NewLogStream(constants.LogStreamHistory, constants.LogStreamMaxClients)
		logging.InstallLogStream(a.LogStream)
	}

	cm.OnChange(a.applyConfig)
	a.Engine = BuildEngine(a)
	return a, nil
}

// restore loads the shared config row, credentials and access keys, then
// seeds credentials named in the config file.
func (a *App) restore(ctx context.Context, cfg *config.Config) error {
	a.Shared = state.NewConfigStore(a.Backend, state.Defaults{
		Models:          cfg.InitialModels,
		FlushIntervalMS: int64(cfg.FlushIntervalMS),
	}, cfg.CASMaxAttempts)
	a.Shared.SetEventPublisher(a.Hub)
	shared, err := a.Shared.Load(ctx)
	if err != nil {
		return fmt.Errorf("load shared config: %w", err)
	}
	a.Models = models.NewPool(a.Shared, a.Hub)

	a.Credentials = credential.NewPool(
		credential.WithDefaultCooldown(time.Duration(cfg.DefaultCooldownMS)*time.Millisecond),
		credential.WithRequestCounter(a.Shared),
		credential.WithPublisher(a.Hub),
	)
	if err := a.Credentials.Load(ctx, a.Backend); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	seeded := a.Credentials.Seed(cfg.InitialCredentials, time.Now())

	a.AccessKeys = accesskey.NewManager(cfg.AccessKeysMax)
	if err := a.AccessKeys.Load(ctx, a.Backend); err != nil {
		return fmt.Errorf("load access keys: %w", err)
	}

	stats := a.Credentials.Stats(time.Now())
	log.WithFields(log.Fields{
		"storage":     a.BackendKind,
		"credentials": stats.Total,
		"seeded":      seeded,
		"models":      len(shared.ModelPool),
		"access_keys": a.AccessKeys.Count(),
	}).Info("state restored")
	return nil
}

// Start launches the flusher and the supervised maintenance tasks.
func (a *App) Start(ctx context.Context) error {
	a.Flusher.Start(ctx)
	if a.Limiter != nil {
		err := a.Tasks.Every("ratelimit-sweep", constants.RateLimitSweepInterval, func(context.Context) error {
			a.Limiter.Sweep(time.Now())
			return nil
		})
		if err != nil {
			return err
		}
	}
	return a.Tasks.Go("catalog-warmup", func(ctx context.Context) error {
		_, err := a.Catalog.Get(ctx, false)
		if errors.Is(err, models.ErrNoCatalogCredential) {
			return nil
		}
		return err
	})
}

// Shutdown stops background work, runs the final flush and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop tasks: %w", err))
	}
	res, err := a.Flusher.Stop(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	} else {
		log.WithFields(log.Fields{"entities": res.Entities, "config_flushed": res.ConfigFlush}).Info("final flush complete")
	}
	if a.LogStream != nil {
		a.LogStream.Close()
	}
	if err := a.Backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// Config returns the current file configuration.
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

func (a *App) managementNets() []*net.IPNet {
	if p := a.adminNets.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *App) setConfig(cfg *config.Config) {
	nets, _ := netutil.ParseIPNets(cfg.ManagementAllowIPs)
	a.adminNets.Store(&nets)
	a.cfg.Store(cfg)
}

// applyConfig pushes hot-reloadable settings into the running services.
func (a *App) applyConfig(cfg *config.Config) {
	a.setConfig(cfg)
	logging.ApplyLevel(cfg)
	a.Dispatcher.Tune(time.Duration(cfg.UpstreamTimeoutSec)*time.Second, cfg.ModelRetryAttempts)
	a.Credentials.SetDefaultCooldown(time.Duration(cfg.DefaultCooldownMS) * time.Millisecond)
}
