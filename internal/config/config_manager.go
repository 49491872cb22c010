package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
)

// searchPaths are tried in order when no config path is given.
var searchPaths = []string{
	"config.yaml",
	"config.yml",
	"config.toml",
	"config.json",
	"~/.poolproxy/config.yaml",
	"/etc/poolproxy/config.yaml",
}

// ConfigManager owns the live file configuration: initial load, env overlay,
// validation and hot reload.
type ConfigManager struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	modTime   time.Time
	listeners []func(*Config)
	publisher events.Publisher

	reloadMu sync.Mutex
	stop     context.CancelFunc
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return expandHome(path)
	}
	for _, candidate := range searchPaths {
		p, err := expandHome(candidate)
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// readConfig runs the full pipeline for one file: defaults, file, env,
// validation. A missing file yields defaults plus env.
func readConfig(path string) (*Config, time.Time, error) {
	var (
		cfg     *Config
		modTime time.Time
	)
	if path != "" {
		info, statErr := os.Stat(path)
		loaded, err := LoadFile(path)
		switch {
		case err == nil:
			cfg = loaded
			if statErr == nil {
				modTime = info.ModTime()
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, time.Time{}, err
		}
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)

	report := cfg.Validate()
	for _, w := range report.Warnings() {
		log.WithFields(log.Fields{"field": w.Field, "value": w.Value}).Warn(w.Message)
	}
	if err := report.Err(); err != nil {
		return nil, time.Time{}, err
	}
	return cfg, modTime, nil
}

// NewConfigManager loads the configuration at path, or the first file found
// in the search paths, and starts watching it when it exists.
func NewConfigManager(path string) (*ConfigManager, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	cfg, modTime, err := readConfig(resolved)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cm := &ConfigManager{config: cfg, path: resolved, modTime: modTime}
	if modTime.IsZero() {
		log.WithField("path", resolved).Warn("no config file found, running on defaults and environment")
		return cm, nil
	}
	log.WithField("path", resolved).Info("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	cm.stop = cancel
	cm.watch(ctx)
	return cm, nil
}

// OnChange registers fn to run with every successfully reloaded config.
func (cm *ConfigManager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, fn)
}

func (cm *ConfigManager) SetEventPublisher(p events.Publisher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.publisher = p
}

// GetConfig returns a copy of the current configuration.
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Clone()
}

// Path returns the file backing this manager, or "" when running on defaults.
func (cm *ConfigManager) Path() string {
	return cm.path
}

// Close stops the file watcher. It is safe to call more than once.
func (cm *ConfigManager) Close() {
	if cm.stop != nil {
		cm.stop()
	}
}

// ConfigChangeEvent is published on every reload. Only field names are
// carried so secrets never reach subscribers.
type ConfigChangeEvent struct {
	Path            string    `json:"path"`
	UpdatedAt       time.Time `json:"updated_at"`
	Changed         []string  `json:"changed,omitempty"`
	RestartRequired []string  `json:"restart_required,omitempty"`
}

func (cm *ConfigManager) notify(evt ConfigChangeEvent, next *Config) {
	cm.mu.RLock()
	listeners := append([]func(*Config){}, cm.listeners...)
	publisher := cm.publisher
	cm.mu.RUnlock()

	for _, fn := range listeners {
		fn(next.Clone())
	}
	if publisher != nil {
		publisher.Publish(context.Background(), events.TopicConfigUpdated, evt, nil)
	}
}
