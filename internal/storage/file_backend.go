package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend persists all entries in one JSON document under baseDir.
// Every mutation rewrites the document through a temp file and rename.
type FileBackend struct {
	baseDir string
	path    string
	mu      sync.Mutex
	mem     *MemoryBackend
}

type fileEntry struct {
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{
		baseDir: baseDir,
		path:    filepath.Join(baseDir, "store.json"),
		mem:     NewMemoryBackend(),
	}
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", f.baseDir, err)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	var doc map[string]fileEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", f.path, err)
	}

	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	for key, e := range doc {
		f.mem.entries[key] = Entry{Key: key, Value: e.Value, Version: e.Version}
	}
	return nil
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked()
}

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.baseDir)
	return err
}

func (f *FileBackend) Get(ctx context.Context, key string) (Entry, error) {
	return f.mem.Get(ctx, key)
}

func (f *FileBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	return f.mem.List(ctx, prefix)
}

func (f *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Set(ctx, key, value); err != nil {
		return err
	}
	return f.saveLocked()
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Delete(ctx, key); err != nil {
		return err
	}
	return f.saveLocked()
}

func (f *FileBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, err := f.mem.CheckAndSet(ctx, key, expectedVersion, value)
	if err != nil {
		return 0, err
	}
	return version, f.saveLocked()
}

func (f *FileBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.ApplyBatch(ctx, mutations); err != nil {
		return err
	}
	return f.saveLocked()
}

func (f *FileBackend) saveLocked() error {
	f.mem.mu.RLock()
	doc := make(map[string]fileEntry, len(f.mem.entries))
	for key, e := range f.mem.entries {
		doc[key] = fileEntry{Value: e.Value, Version: e.Version}
	}
	f.mem.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}
