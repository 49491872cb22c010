package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const (
	reloadDebounce = 100 * time.Millisecond
	pollInterval   = 5 * time.Second
)

// watch reloads on file events, falling back to polling the mtime when
// fsnotify is unavailable. The parent directory is watched as well so
// editors that save by rename are picked up.
func (cm *ConfigManager) watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(filepath.Dir(cm.path))
		if err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		log.WithError(err).WithField("interval", pollInterval).Warn("config watcher unavailable, polling instead")
		go cm.poll(ctx)
		return
	}

	target := filepath.Clean(cm.path)
	go func() {
		defer w.Close()
		debounce := time.NewTimer(time.Hour)
		debounce.Stop()
		defer debounce.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) == target && evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				cm.reloadIfModified()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
}

func (cm *ConfigManager) poll(ctx context.Context) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cm.reloadIfModified()
		}
	}
}

func (cm *ConfigManager) reloadIfModified() {
	info, err := os.Stat(cm.path)
	if err != nil {
		return
	}
	cm.mu.RLock()
	seen := cm.modTime
	cm.mu.RUnlock()
	if !info.ModTime().After(seen) {
		return
	}
	if err := cm.Reload(); err != nil {
		log.WithError(err).WithField("path", cm.path).Warn("config reload rejected, keeping previous")
	}
}

// Reload re-reads the file and, when it validates, swaps it in and notifies
// subscribers. An invalid file leaves the current config in place.
func (cm *ConfigManager) Reload() error {
	cm.reloadMu.Lock()
	defer cm.reloadMu.Unlock()

	next, modTime, err := readConfig(cm.path)
	if err != nil {
		if info, statErr := os.Stat(cm.path); statErr == nil {
			cm.mu.Lock()
			cm.modTime = info.ModTime()
			cm.mu.Unlock()
		}
		return err
	}

	cm.mu.Lock()
	prev := cm.config
	cm.config = next
	cm.modTime = modTime
	cm.mu.Unlock()

	evt := ConfigChangeEvent{Path: cm.path, UpdatedAt: time.Now().UTC()}
	for _, f := range fieldDiffs {
		if f.differs(prev, next) {
			evt.Changed = append(evt.Changed, f.name)
			if !f.hot {
				evt.RestartRequired = append(evt.RestartRequired, f.name)
			}
		}
	}
	for _, name := range evt.Changed {
		log.WithField("field", name).Info("config changed")
	}
	if len(evt.RestartRequired) > 0 {
		log.WithField("fields", evt.RestartRequired).Warn("config changes take effect after restart")
	}
	cm.notify(evt, next)
	return nil
}

// fieldDiff names one setting and whether running services pick it up
// without a restart.
type fieldDiff struct {
	name    string
	hot     bool
	differs func(a, b *Config) bool
}

func sameList(a, b []string) bool {
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

var fieldDiffs = []fieldDiff{
	{"log_level", true, func(a, b *Config) bool { return a.LogLevel != b.LogLevel }},
	{"debug", true, func(a, b *Config) bool { return a.Debug != b.Debug }},
	{"request_log", true, func(a, b *Config) bool { return a.RequestLog != b.RequestLog }},
	{"upstream_timeout_sec", true, func(a, b *Config) bool { return a.UpstreamTimeoutSec != b.UpstreamTimeoutSec }},
	{"model_retry_attempts", true, func(a, b *Config) bool { return a.ModelRetryAttempts != b.ModelRetryAttempts }},
	{"default_cooldown_ms", true, func(a, b *Config) bool { return a.DefaultCooldownMS != b.DefaultCooldownMS }},
	{"management_key", true, func(a, b *Config) bool {
		return a.ManagementKey != b.ManagementKey || a.ManagementKeyHash != b.ManagementKeyHash
	}},
	{"management_allow_ips", true, func(a, b *Config) bool { return !sameList(a.ManagementAllowIPs, b.ManagementAllowIPs) }},
	{"public_model", true, func(a, b *Config) bool { return a.PublicModel != b.PublicModel }},
	{"access_keys_required", true, func(a, b *Config) bool { return a.AccessKeysRequired != b.AccessKeysRequired }},
	{"host", false, func(a, b *Config) bool { return a.Host != b.Host || a.Port != b.Port }},
	{"base_path", false, func(a, b *Config) bool { return a.BasePath != b.BasePath }},
	{"upstream_base_url", false, func(a, b *Config) bool { return a.UpstreamBaseURL != b.UpstreamBaseURL || a.ProxyURL != b.ProxyURL }},
	{"rate_limit", false, func(a, b *Config) bool {
		return a.RateLimitEnabled != b.RateLimitEnabled || a.RateLimitRPS != b.RateLimitRPS || a.RateLimitBurst != b.RateLimitBurst
	}},
	{"storage_backend", false, func(a, b *Config) bool { return a.StorageOptions() != b.StorageOptions() }},
}
