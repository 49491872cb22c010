package storage

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
)

func TestInstrumentedBackendRecordsResults(t *testing.T) {
	ctx := context.Background()
	b := WithInstrumentation(NewMemoryBackend(), "instr-test")

	okBefore := testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "set", "ok"))
	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "set", "ok")))

	nfBefore := testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "get", "not_found"))
	_, err := b.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, nfBefore+1, testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "get", "not_found")))

	conflictBefore := testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "check_and_set", "conflict"))
	_, err = b.CheckAndSet(ctx, "k", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, conflictBefore+1, testutil.ToFloat64(monitoring.StorageOperationsTotal.WithLabelValues("instr-test", "check_and_set", "conflict")))
}

func TestWithInstrumentationNil(t *testing.T) {
	assert.Nil(t, WithInstrumentation(nil, "x"))
}

func TestInstrumentedBackendUnwrap(t *testing.T) {
	inner := NewMemoryBackend()
	b := WithInstrumentation(inner, "")
	u, ok := b.(interface{ Unwrap() Backend })
	require.True(t, ok)
	assert.Same(t, inner, u.Unwrap())
}
