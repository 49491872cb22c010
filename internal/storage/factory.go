package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Options selects and parameterises a backend.
type Options struct {
	Backend       string
	BaseDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
}

// Open builds, initializes and instruments the backend named by opts.Backend.
// "auto" tries redis, postgres and mongodb in that order when configured and
// falls back to the file backend, or memory when no base dir is set.
func Open(ctx context.Context, opts Options) (Backend, string, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Backend))
	if kind == "" {
		kind = "auto"
	}
	if kind == "auto" {
		return openAuto(ctx, opts)
	}
	b, err := build(kind, opts)
	if err != nil {
		return nil, "", err
	}
	if err := b.Initialize(ctx); err != nil {
		return nil, "", fmt.Errorf("initialize %s backend: %w", kind, err)
	}
	return WithInstrumentation(b, kind), kind, nil
}

func openAuto(ctx context.Context, opts Options) (Backend, string, error) {
	candidates := []struct {
		kind string
		set  bool
	}{
		{"redis", opts.RedisAddr != ""},
		{"postgres", opts.PostgresDSN != ""},
		{"mongodb", opts.MongoURI != ""},
	}
	for _, c := range candidates {
		if !c.set {
			continue
		}
		b, err := build(c.kind, opts)
		if err == nil {
			err = b.Initialize(ctx)
		}
		if err == nil {
			log.WithField("backend", c.kind).Info("storage auto: using backend")
			return WithInstrumentation(b, c.kind), c.kind, nil
		}
		if b != nil {
			_ = b.Close()
		}
		log.WithError(err).WithField("backend", c.kind).Warn("storage auto: backend initialization failed, falling back")
	}

	kind := "memory"
	if opts.BaseDir != "" {
		kind = "file"
	}
	b, err := build(kind, opts)
	if err != nil {
		return nil, "", err
	}
	if err := b.Initialize(ctx); err != nil {
		return nil, "", fmt.Errorf("initialize %s backend: %w", kind, err)
	}
	log.WithField("backend", kind).Info("storage auto: using local backend")
	return WithInstrumentation(b, kind), kind, nil
}

func build(kind string, opts Options) (Backend, error) {
	switch kind {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		dir := opts.BaseDir
		if dir == "" {
			dir = "./storage"
		}
		return NewFileBackend(expandPath(dir)), nil
	case "redis":
		addr := opts.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		return NewRedisBackend(addr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix), nil
	case "postgres", "postgresql":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return NewPostgresBackend(opts.PostgresDSN), nil
	case "mongo", "mongodb":
		if opts.MongoURI == "" {
			return nil, fmt.Errorf("mongodb backend requires a uri")
		}
		return NewMongoDBBackend(opts.MongoURI, opts.MongoDatabase), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", kind)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
