package storage

import (
	"context"
	"errors"
)

// Entry is a stored value together with its version. Versions start at 1
// and increase by one on every successful write of the key.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// Mutation is one element of a batched write.
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend defines the durable key-value contract every store implements.
type Backend interface {
	// Initialize sets up the storage backend
	Initialize(ctx context.Context) error

	// Close closes the storage backend
	Close() error

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Get returns the entry for key or *ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// Set writes value unconditionally and bumps the version.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all entries whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// CheckAndSet writes value only if the stored version equals
	// expectedVersion; 0 means the key must not exist yet. It returns the
	// new version, or ErrVersionConflict.
	CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error)

	// ApplyBatch applies unconditional sets and deletes.
	ApplyBatch(ctx context.Context, mutations []Mutation) error
}

// ErrNotFound is returned when a key is not found
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

var (
	// ErrVersionConflict is returned by CheckAndSet when the stored version moved.
	ErrVersionConflict = errors.New("storage: version conflict")

	// ErrCASExhausted is returned by UpdateCAS after every attempt conflicted.
	ErrCASExhausted = errors.New("storage: update exhausted retries")
)

// Key prefixes shared by the persisted entities.
const (
	PrefixCredential   = "credential:"
	PrefixAccessKey    = "accesskey:"
	KeySharedConfig    = "config:shared"
	KeyCatalogSnapshot = "catalog:snapshot"
)
