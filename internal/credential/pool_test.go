package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

type countingRecorder struct{ n atomic.Int64 }

func (c *countingRecorder) RecordRequest() { c.n.Add(1) }

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func poolWith(t *testing.T, n int, opts ...Option) (*Pool, []string) {
	t.Helper()
	p := NewPool(opts...)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := p.Add(fmt.Sprintf("csk-secret-%02d", i), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return p, ids
}

func TestSelectNextVisitsEachCredentialOnce(t *testing.T) {
	p, ids := poolWith(t, 4)
	seen := map[string]int{}
	for i := 0; i < len(ids); i++ {
		sel, err := p.SelectNext(t0)
		require.NoError(t, err)
		seen[sel.ID]++
	}
	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
}

func TestSelectNextOrderFollowsCreation(t *testing.T) {
	p, ids := poolWith(t, 3)
	for round := 0; round < 2; round++ {
		for _, want := range ids {
			sel, err := p.SelectNext(t0)
			require.NoError(t, err)
			assert.Equal(t, want, sel.ID)
		}
	}
}

func TestSelectNextAccountsUsage(t *testing.T) {
	rec := &countingRecorder{}
	p, ids := poolWith(t, 1, WithRequestCounter(rec))
	p.DrainDirty()

	sel, err := p.SelectNext(t0)
	require.NoError(t, err)
	assert.Equal(t, "csk-secret-00", sel.Secret)
	assert.Equal(t, int64(1), rec.n.Load())

	c, err := p.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UseCount)
	require.NotNil(t, c.LastUsed)
	assert.True(t, c.LastUsed.Equal(t0))
	assert.Equal(t, 1, p.DirtyCount())
}

func TestSelectNextEmptyPool(t *testing.T) {
	_, err := NewPool().SelectNext(t0)
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestCooldownSkipsAndExpires(t *testing.T) {
	p, ids := poolWith(t, 2)
	until := p.ApplyCooldown(ids[0], "5", t0)
	assert.Equal(t, t0.Add(5*time.Second), until)

	for _, now := range []time.Time{t0, t0.Add(4999 * time.Millisecond)} {
		for i := 0; i < 3; i++ {
			sel, err := p.SelectNext(now)
			require.NoError(t, err)
			assert.Equal(t, ids[1], sel.ID)
		}
	}

	found := false
	for i := 0; i < 2; i++ {
		sel, err := p.SelectNext(t0.Add(5000 * time.Millisecond))
		require.NoError(t, err)
		found = found || sel.ID == ids[0]
	}
	assert.True(t, found)
}

func TestAllCoolingDownReportsMinimum(t *testing.T) {
	p, ids := poolWith(t, 2)
	p.ApplyCooldown(ids[0], "10", t0)
	p.ApplyCooldown(ids[1], "3", t0)

	_, err := p.SelectNext(t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrNoneAvailable)

	d, ok := p.MinCooldown(t0.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	c, _ := p.Get(ids[0])
	assert.Equal(t, StatusActive, c.Status)
}

func TestApplyCooldownDefaults(t *testing.T) {
	p, ids := poolWith(t, 1)
	for _, header := range []string{"", "soon", "-4", "1.5"} {
		until := p.ApplyCooldown(ids[0], header, t0)
		assert.Equal(t, t0.Add(DefaultCooldown), until, header)
	}

	custom, cids := poolWith(t, 1, WithDefaultCooldown(750*time.Millisecond))
	assert.Equal(t, t0.Add(750*time.Millisecond), custom.ApplyCooldown(cids[0], "", t0))
	assert.True(t, NewPool().ApplyCooldown("missing", "1", t0).IsZero())

	custom.SetDefaultCooldown(3 * time.Second)
	custom.SetDefaultCooldown(0)
	assert.Equal(t, t0.Add(3*time.Second), custom.ApplyCooldown(cids[0], "", t0))
}

func TestInvalidateRemovesFromRotation(t *testing.T) {
	p, ids := poolWith(t, 2)
	p.ApplyCooldown(ids[0], "60", t0)
	p.Invalidate(ids[0])
	p.Invalidate(ids[0])

	for i := 0; i < 4; i++ {
		sel, err := p.SelectNext(t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, ids[1], sel.ID)
	}
	_, cooling := p.MinCooldown(t0)
	assert.False(t, cooling)

	p.Invalidate(ids[1])
	_, err := p.SelectNext(t0)
	assert.ErrorIs(t, err, ErrPoolEmpty)

	p.Reactivate(ids[0])
	sel, err := p.SelectNext(t0)
	require.NoError(t, err)
	assert.Equal(t, ids[0], sel.ID)
}

func TestMarkInactive(t *testing.T) {
	p, ids := poolWith(t, 1)
	p.MarkInactive(ids[0])
	c, _ := p.Get(ids[0])
	assert.Equal(t, StatusInactive, c.Status)
	_, err := p.SelectNext(t0)
	assert.ErrorIs(t, err, ErrPoolEmpty)
	st := p.Stats(t0)
	assert.Equal(t, 1, st.ByStatus[StatusInactive])
}

func TestAddRejectsDuplicatesAndBlanks(t *testing.T) {
	p, _ := poolWith(t, 1)
	_, err := p.Add("  csk-secret-00 ", t0)
	assert.ErrorIs(t, err, ErrDuplicateSecret)
	_, err = p.Add("   ", t0)
	assert.ErrorIs(t, err, ErrEmptySecret)
	assert.Equal(t, 1, p.Seed([]string{"csk-secret-00", "csk-new", ""}, t0))
}

func TestDeleteClearsCooldownAndTombstones(t *testing.T) {
	p, ids := poolWith(t, 2)
	p.ApplyCooldown(ids[0], "60", t0)
	p.DrainDirty()

	require.NoError(t, p.Delete(ids[0]))
	assert.ErrorIs(t, p.Delete(ids[0]), ErrNotFound)
	_, cooling := p.MinCooldown(t0)
	assert.False(t, cooling)

	muts := p.DrainDirty()
	require.Len(t, muts, 1)
	assert.Equal(t, storage.PrefixCredential+ids[0], muts[0].Key)
	assert.True(t, muts[0].Delete)
}

func TestDrainAndMarkDirty(t *testing.T) {
	p, ids := poolWith(t, 2)
	muts := p.DrainDirty()
	require.Len(t, muts, 2)
	assert.Empty(t, p.DrainDirty())

	var c Credential
	require.NoError(t, json.Unmarshal(muts[0].Value, &c))
	assert.Contains(t, ids, c.ID)

	p.MarkDirty(storage.PrefixCredential+ids[1], "accesskey:other", storage.PrefixCredential)
	again := p.DrainDirty()
	require.Len(t, again, 1)
	assert.Equal(t, storage.PrefixCredential+ids[1], again[0].Key)
}

func TestLoadRoundTripsThroughBackend(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	p, ids := poolWith(t, 2)
	p.Invalidate(ids[1])
	require.NoError(t, b.ApplyBatch(ctx, p.DrainDirty()))
	require.NoError(t, b.Set(ctx, storage.PrefixCredential+"broken", []byte("{")))

	restored := NewPool()
	require.NoError(t, restored.Load(ctx, b))
	st := restored.Stats(t0)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByStatus[StatusInvalid])

	sel, err := restored.SelectNext(t0)
	require.NoError(t, err)
	assert.Equal(t, ids[0], sel.ID)
}

func TestListMasksSecrets(t *testing.T) {
	p, ids := poolWith(t, 1)
	p.ApplyCooldown(ids[0], "30", t0)
	list := p.List(t0)
	require.Len(t, list, 1)
	assert.Equal(t, "csk-…t-00", list[0].MaskedSecret)
	require.NotNil(t, list[0].CooldownUntil)
}

func TestPublishesLifecycleEvents(t *testing.T) {
	hub := events.NewHub()
	var (
		mu     sync.Mutex
		topics []string
	)
	hub.Subscribe(events.TopicAll, func(_ context.Context, e events.Event) {
		mu.Lock()
		topics = append(topics, e.Topic)
		mu.Unlock()
	})
	p := NewPool(WithPublisher(hub))
	c, err := p.Add("csk-evented-secret", t0)
	require.NoError(t, err)
	p.ApplyCooldown(c.ID, "1", t0)
	p.Invalidate(c.ID)
	require.NoError(t, p.Delete(c.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		events.TopicCredentialAdded,
		events.TopicCredentialCooldown,
		events.TopicCredentialInvalidated,
		events.TopicCredentialDeleted,
	}, topics)
}

func TestConcurrentSelectionNeverSharesSlot(t *testing.T) {
	p, ids := poolWith(t, 5)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		n  = map[string]int{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sel, err := p.SelectNext(t0)
			if assert.NoError(t, err) {
				mu.Lock()
				n[sel.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, 10, n[id])
	}
}

func TestCooldownDurationAndRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0*time.Second, CooldownDuration("0", DefaultCooldown))
	assert.Equal(t, 7*time.Second, CooldownDuration(" 7 ", DefaultCooldown))
	assert.Equal(t, 1, RetryAfterSeconds(10*time.Millisecond))
	assert.Equal(t, 3, RetryAfterSeconds(2001*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(2*time.Second))
}
