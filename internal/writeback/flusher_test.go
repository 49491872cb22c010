package writeback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/accesskey"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

type flakyBackend struct {
	*storage.MemoryBackend
	failBatch atomic.Bool
	block     chan struct{}
}

func (f *flakyBackend) ApplyBatch(ctx context.Context, muts []storage.Mutation) error {
	if f.block != nil {
		<-f.block
	}
	if f.failBatch.Load() {
		return errors.New("batch rejected")
	}
	return f.MemoryBackend.ApplyBatch(ctx, muts)
}

type fixture struct {
	backend *flakyBackend
	store   *state.ConfigStore
	creds   *credential.Pool
	keys    *accesskey.Manager
	flusher *Flusher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := &flakyBackend{MemoryBackend: storage.NewMemoryBackend()}
	store := state.NewConfigStore(b, state.Defaults{Models: []string{"m"}, FlushIntervalMS: 1000}, 5)
	_, err := store.Load(context.Background())
	require.NoError(t, err)
	creds := credential.NewPool(credential.WithRequestCounter(store))
	keys := accesskey.NewManager(5)
	f := New(b, store, creds, nil)
	f.Register(creds)
	f.Register(keys)
	return &fixture{backend: b, store: store, creds: creds, keys: keys, flusher: f}
}

func TestFlushWritesDirtyEntitiesAndCounters(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	c, err := fx.creds.Add("csk-one-secret", now)
	require.NoError(t, err)
	_, err = fx.keys.Create("client", now)
	require.NoError(t, err)
	_, err = fx.creds.SelectNext(now)
	require.NoError(t, err)

	res, err := fx.flusher.FlushNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entities)
	assert.True(t, res.ConfigFlush)

	_, err = fx.backend.Get(ctx, storage.PrefixCredential+c.ID)
	require.NoError(t, err)
	keys, err := fx.backend.List(ctx, storage.PrefixAccessKey)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Equal(t, int64(1), fx.store.Snapshot().TotalRequests)
	assert.Equal(t, res, fx.flusher.LastResult())
}

func TestFailedBatchRequeuesOnlyThatBatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	c, err := fx.creds.Add("csk-failing-secret", now)
	require.NoError(t, err)

	fx.backend.failBatch.Store(true)
	res, err := fx.flusher.FlushNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, 1, fx.creds.DirtyCount())

	fx.backend.failBatch.Store(false)
	res, err = fx.flusher.FlushNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entities)
	_, err = fx.backend.Get(ctx, storage.PrefixCredential+c.ID)
	assert.NoError(t, err)
	assert.Zero(t, fx.creds.DirtyCount())
}

func TestFailurePublishesEvent(t *testing.T) {
	fx := newFixture(t)
	hub := events.NewHub()
	fx.flusher.publisher = hub
	var got atomic.Int32
	hub.Subscribe(events.TopicFlushFailed, func(context.Context, events.Event) { got.Add(1) })

	_, err := fx.creds.Add("csk-evt-secret", time.Now())
	require.NoError(t, err)
	fx.backend.failBatch.Store(true)
	_, _ = fx.flusher.FlushNow(context.Background())
	assert.Equal(t, int32(1), got.Load())
}

func TestFlushIsSingleFlight(t *testing.T) {
	fx := newFixture(t)
	fx.backend.block = make(chan struct{})
	_, err := fx.creds.Add("csk-slow-secret", time.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = fx.flusher.FlushNow(context.Background())
	}()

	require.Eventually(t, func() bool { return fx.flusher.running.Load() }, time.Second, 5*time.Millisecond)
	_, err = fx.flusher.FlushNow(context.Background())
	assert.ErrorIs(t, err, ErrFlushInProgress)

	close(fx.backend.block)
	wg.Wait()
}

func TestFlushSweepsCooldowns(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()
	c, err := fx.creds.Add("csk-cool-secret", now)
	require.NoError(t, err)
	fx.creds.ApplyCooldown(c.ID, "0", now.Add(-time.Second))

	res, err := fx.flusher.FlushNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SweptExpired)
}

func TestIntervalFollowsSharedConfig(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, time.Second, fx.flusher.Interval())

	_, err := fx.store.SetFlushInterval(context.Background(), 2500)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, fx.flusher.Interval())

	fx.flusher.SetInterval(10 * time.Millisecond)
	assert.Equal(t, 2500*time.Millisecond, fx.flusher.Interval())
}

func TestRunTicksAndStops(t *testing.T) {
	fx := newFixture(t)
	fx.flusher.SetInterval(500 * time.Millisecond)
	_, err := fx.creds.Add("csk-tick-secret", time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.flusher.Run(ctx) }()

	require.Eventually(t, func() bool { return fx.creds.DirtyCount() == 0 && !fx.flusher.LastResult().At.IsZero() },
		3*time.Second, 20*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIdleFlushPicksUpPeerChanges(t *testing.T) {
	fx := newFixture(t)
	peer := state.NewConfigStore(fx.backend, state.Defaults{}, 5)
	_, err := peer.Update(context.Background(), func(c *state.SharedConfig) (*state.SharedConfig, error) {
		next := c.Clone()
		next.ModelPool = []string{"peer-model"}
		return next, nil
	})
	require.NoError(t, err)

	_, err = fx.flusher.FlushNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-model"}, fx.store.Snapshot().ModelPool)
}

func TestStopRunsFinalFlush(t *testing.T) {
	fx := newFixture(t)
	fx.flusher.Start(context.Background())
	fx.flusher.Start(context.Background())

	c, err := fx.creds.Add("csk-final-secret", time.Now())
	require.NoError(t, err)
	res, err := fx.flusher.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entities)
	_, err = fx.backend.Get(context.Background(), storage.PrefixCredential+c.ID)
	assert.NoError(t, err)
}
