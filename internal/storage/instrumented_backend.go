package storage

import (
	"context"
	"errors"
	"time"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WithInstrumentation wraps a backend with tracing spans and prometheus
// counters labelled by backend name.
func WithInstrumentation(inner Backend, label string) Backend {
	if inner == nil {
		return nil
	}
	if label == "" {
		label = "unknown"
	}
	return &instrumentedBackend{Backend: inner, label: label}
}

type instrumentedBackend struct {
	Backend
	label string
}

// Unwrap exposes the wrapped backend.
func (i *instrumentedBackend) Unwrap() Backend { return i.Backend }

func (i *instrumentedBackend) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := i.instrument(ctx, "get", func(ctx context.Context) error {
		var innerErr error
		e, innerErr = i.Backend.Get(ctx, key)
		return innerErr
	})
	return e, err
}

func (i *instrumentedBackend) Set(ctx context.Context, key string, value []byte) error {
	return i.instrument(ctx, "set", func(ctx context.Context) error {
		return i.Backend.Set(ctx, key, value)
	})
}

func (i *instrumentedBackend) Delete(ctx context.Context, key string) error {
	return i.instrument(ctx, "delete", func(ctx context.Context) error {
		return i.Backend.Delete(ctx, key)
	})
}

func (i *instrumentedBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	err := i.instrument(ctx, "list", func(ctx context.Context) error {
		var innerErr error
		out, innerErr = i.Backend.List(ctx, prefix)
		return innerErr
	})
	return out, err
}

func (i *instrumentedBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	var version int64
	err := i.instrument(ctx, "check_and_set", func(ctx context.Context) error {
		var innerErr error
		version, innerErr = i.Backend.CheckAndSet(ctx, key, expectedVersion, value)
		return innerErr
	})
	return version, err
}

func (i *instrumentedBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	return i.instrument(ctx, "apply_batch", func(ctx context.Context) error {
		return i.Backend.ApplyBatch(ctx, mutations)
	})
}

func (i *instrumentedBackend) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "storage", i.label+"/"+operation)
	span.SetAttributes(
		attribute.String("storage.backend", i.label),
		attribute.String("storage.operation", operation),
	)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	result := "ok"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case IsNotFound(err):
		result = "not_found"
	case errors.Is(err, ErrVersionConflict):
		result = "conflict"
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	monitoring.StorageOperationsTotal.WithLabelValues(i.label, operation, result).Inc()
	monitoring.StorageOperationDuration.WithLabelValues(i.label, operation).Observe(duration.Seconds())
	return err
}
