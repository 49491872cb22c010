package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Schema int `json:"schema"`
	Count  int `json:"count"`
}

func counterOptions(attempts int) CASOptions[counterDoc] {
	return CASOptions[counterDoc]{
		Key:         "counter",
		MaxAttempts: attempts,
		Decode: func(raw []byte, exists bool) (*counterDoc, bool, error) {
			if !exists {
				return &counterDoc{Schema: 2}, true, nil
			}
			var doc counterDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, false, err
			}
			rewrite := doc.Schema < 2
			doc.Schema = 2
			return &doc, rewrite, nil
		},
		Encode: func(doc *counterDoc) ([]byte, error) { return json.Marshal(doc) },
	}
}

func increment(doc *counterDoc) (*counterDoc, error) {
	next := *doc
	next.Count++
	return &next, nil
}

func identity(doc *counterDoc) (*counterDoc, error) { return doc, nil }

func TestUpdateCASCreatesMissingKey(t *testing.T) {
	b := NewMemoryBackend()
	res, err := UpdateCAS(context.Background(), b, counterOptions(3), increment)
	require.NoError(t, err)
	assert.True(t, res.Wrote)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, 1, res.Value.Count)
}

func TestUpdateCASIdentityDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	_, err := UpdateCAS(ctx, b, counterOptions(3), increment)
	require.NoError(t, err)
	writes := b.Writes()

	res, err := UpdateCAS(ctx, b, counterOptions(3), identity)
	require.NoError(t, err)
	assert.False(t, res.Wrote)
	assert.Equal(t, writes, b.Writes())
	assert.Equal(t, 1, res.Value.Count)
}

func TestUpdateCASIdentityStillMigratesOldSchema(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.Set(ctx, "counter", []byte(`{"schema":1,"count":7}`)))

	res, err := UpdateCAS(ctx, b, counterOptions(3), identity)
	require.NoError(t, err)
	assert.True(t, res.Wrote)

	e, err := b.Get(ctx, "counter")
	require.NoError(t, err)
	assert.JSONEq(t, `{"schema":2,"count":7}`, string(e.Value))
}

func TestUpdateCASUpdaterErrorAborts(t *testing.T) {
	b := NewMemoryBackend()
	boom := errors.New("boom")
	_, err := UpdateCAS(context.Background(), b, counterOptions(3), func(*counterDoc) (*counterDoc, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, b.Writes())
}

// conflictingBackend bumps the key behind the caller's back before each CAS.
type conflictingBackend struct {
	*MemoryBackend
	remaining int
}

func (c *conflictingBackend) CheckAndSet(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	if c.remaining > 0 {
		c.remaining--
		_ = c.MemoryBackend.Set(ctx, key, []byte(`{"schema":2,"count":100}`))
	}
	return c.MemoryBackend.CheckAndSet(ctx, key, expected, value)
}

func TestUpdateCASRetriesOnConflict(t *testing.T) {
	b := &conflictingBackend{MemoryBackend: NewMemoryBackend(), remaining: 2}
	res, err := UpdateCAS(context.Background(), b, counterOptions(5), increment)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 101, res.Value.Count)
}

func TestUpdateCASExhausted(t *testing.T) {
	b := &conflictingBackend{MemoryBackend: NewMemoryBackend(), remaining: 10}
	_, err := UpdateCAS(context.Background(), b, counterOptions(2), increment)
	assert.ErrorIs(t, err, ErrCASExhausted)
}

func TestUpdateCASConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := UpdateCAS(ctx, b, counterOptions(100), increment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := b.Get(ctx, "counter")
	require.NoError(t, err)
	var doc counterDoc
	require.NoError(t, json.Unmarshal(e.Value, &doc))
	assert.Equal(t, 10, doc.Count)
}

func TestUpdateCASHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := UpdateCAS(ctx, NewMemoryBackend(), counterOptions(3), increment)
	assert.ErrorIs(t, err, context.Canceled)
}
