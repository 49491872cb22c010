package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := b.Get(ctx, "missing:key")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("set bumps version", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract:a", []byte("one")))
		first, err := b.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), first.Value)

		require.NoError(t, b.Set(ctx, "contract:a", []byte("two")))
		second, err := b.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), second.Value)
		assert.Equal(t, first.Version+1, second.Version)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "contract:del", []byte("x")))
		require.NoError(t, b.Delete(ctx, "contract:del"))
		require.NoError(t, b.Delete(ctx, "contract:del"))
		_, err := b.Get(ctx, "contract:del")
		assert.True(t, IsNotFound(err))
	})

	t.Run("list by prefix ordered", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "list:b", []byte("2")))
		require.NoError(t, b.Set(ctx, "list:a", []byte("1")))
		require.NoError(t, b.Set(ctx, "list_other", []byte("3")))
		require.NoError(t, b.Set(ctx, "lis%:x", []byte("4")))

		entries, err := b.List(ctx, "list:")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "list:a", entries[0].Key)
		assert.Equal(t, "list:b", entries[1].Key)

		none, err := b.List(ctx, "nothing-here:")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("check and set", func(t *testing.T) {
		v1, err := b.CheckAndSet(ctx, "cas:k", 0, []byte("first"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1)

		_, err = b.CheckAndSet(ctx, "cas:k", 0, []byte("again"))
		assert.True(t, errors.Is(err, ErrVersionConflict))

		v2, err := b.CheckAndSet(ctx, "cas:k", v1, []byte("second"))
		require.NoError(t, err)
		assert.Equal(t, v1+1, v2)

		_, err = b.CheckAndSet(ctx, "cas:k", v1, []byte("stale"))
		assert.True(t, errors.Is(err, ErrVersionConflict))

		e, err := b.Get(ctx, "cas:k")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), e.Value)
		assert.Equal(t, v2, e.Version)
	})

	t.Run("check and set after unconditional set", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "cas:mixed", []byte("a")))
		e, err := b.Get(ctx, "cas:mixed")
		require.NoError(t, err)
		_, err = b.CheckAndSet(ctx, "cas:mixed", e.Version, []byte("b"))
		require.NoError(t, err)
	})

	t.Run("apply batch", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "batch:gone", []byte("x")))
		require.NoError(t, b.ApplyBatch(ctx, []Mutation{
			{Key: "batch:one", Value: []byte("1")},
			{Key: "batch:two", Value: []byte("2")},
			{Key: "batch:gone", Delete: true},
		}))
		entries, err := b.List(ctx, "batch:")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []byte("1"), entries[0].Value)
		assert.Equal(t, []byte("2"), entries[1].Value)

		require.NoError(t, b.ApplyBatch(ctx, nil))
	})

	t.Run("concurrent check and set admits one winner per version", func(t *testing.T) {
		_, err := b.CheckAndSet(ctx, "cas:race", 0, []byte("0"))
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.CheckAndSet(ctx, "cas:race", 1, []byte("x")); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
