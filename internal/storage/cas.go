package storage

import (
	"context"
	"errors"
	"fmt"
)

// DefaultCASAttempts bounds UpdateCAS when no limit is configured.
const DefaultCASAttempts = 5

// CASOptions describes how a single versioned key is decoded and encoded.
type CASOptions[T any] struct {
	Key         string
	MaxAttempts int

	// Decode turns the stored bytes into a value. exists is false when the
	// key is absent and raw is nil. rewrite reports that the stored form is
	// outdated and must be written back even if the updater changes nothing.
	Decode func(raw []byte, exists bool) (value *T, rewrite bool, err error)
	Encode func(value *T) ([]byte, error)
}

// CASResult is the outcome of a successful UpdateCAS.
type CASResult[T any] struct {
	Value    *T
	Version  int64
	Wrote    bool
	Attempts int
}

// UpdateCAS reads the key, applies updater and writes the result with
// CheckAndSet, retrying on version conflicts. When updater returns the very
// pointer it was given and the stored form is current, nothing is written.
// The updater may run more than once and must not keep side effects.
func UpdateCAS[T any](ctx context.Context, b Backend, opts CASOptions[T], updater func(*T) (*T, error)) (CASResult[T], error) {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultCASAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return CASResult[T]{}, err
		}

		var (
			raw     []byte
			version int64
			exists  = true
		)
		entry, err := b.Get(ctx, opts.Key)
		switch {
		case IsNotFound(err):
			exists = false
		case err != nil:
			return CASResult[T]{}, fmt.Errorf("read %s: %w", opts.Key, err)
		default:
			raw = entry.Value
			version = entry.Version
		}

		current, rewrite, err := opts.Decode(raw, exists)
		if err != nil {
			return CASResult[T]{}, fmt.Errorf("decode %s: %w", opts.Key, err)
		}

		next, err := updater(current)
		if err != nil {
			return CASResult[T]{}, err
		}
		if next == nil {
			next = current
		}
		if next == current && !rewrite {
			return CASResult[T]{Value: current, Version: version, Attempts: attempt}, nil
		}

		payload, err := opts.Encode(next)
		if err != nil {
			return CASResult[T]{}, fmt.Errorf("encode %s: %w", opts.Key, err)
		}
		newVersion, err := b.CheckAndSet(ctx, opts.Key, version, payload)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return CASResult[T]{}, fmt.Errorf("write %s: %w", opts.Key, err)
		}
		return CASResult[T]{Value: next, Version: newVersion, Wrote: true, Attempts: attempt}, nil
	}
	return CASResult[T]{}, fmt.Errorf("%w: %s after %d attempts", ErrCASExhausted, opts.Key, attempts)
}
