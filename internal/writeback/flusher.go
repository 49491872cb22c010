package writeback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

// ErrFlushInProgress is returned when a flush is requested while one runs.
var ErrFlushInProgress = errors.New("flush already in progress")

// Source owns a dirty set of persisted entities.
type Source interface {
	Name() string
	DrainDirty() []storage.Mutation
	MarkDirty(keys ...string)
}

// Sweeper drops expired in-memory state before each flush.
type Sweeper interface {
	SweepCooldowns(now time.Time) int
}

// Result describes one completed flush.
type Result struct {
	At           time.Time     `json:"at"`
	Entities     int           `json:"entities"`
	Requeued     int           `json:"requeued"`
	ConfigFlush  bool          `json:"config_flushed"`
	Duration     time.Duration `json:"duration_ns"`
	Error        string        `json:"error,omitempty"`
	SweptExpired int           `json:"swept_expired"`
}

// Flusher periodically writes dirty entities and shared config counters to
// the backend. At most one flush runs at a time.
type Flusher struct {
	backend   storage.Backend
	config    *state.ConfigStore
	sweeper   Sweeper
	publisher events.Publisher

	mu      sync.Mutex
	sources []Source
	last    Result

	interval atomic.Int64
	running  atomic.Bool
	reset    chan struct{}

	stop context.CancelFunc
	done chan struct{}
}

// New creates a flusher and follows flush interval changes on config.
func New(backend storage.Backend, config *state.ConfigStore, sweeper Sweeper, publisher events.Publisher) *Flusher {
	f := &Flusher{
		backend:   backend,
		config:    config,
		sweeper:   sweeper,
		publisher: publisher,
		reset:     make(chan struct{}, 1),
	}
	f.interval.Store(int64(config.Snapshot().FlushInterval()))
	config.OnChange(func(c *state.SharedConfig) {
		f.SetInterval(c.FlushInterval())
	})
	return f
}

// Register adds a dirty-set source.
func (f *Flusher) Register(src Source) {
	f.mu.Lock()
	f.sources = append(f.sources, src)
	f.mu.Unlock()
}

// Interval returns the current tick period.
func (f *Flusher) Interval() time.Duration {
	return time.Duration(f.interval.Load())
}

// SetInterval changes the tick period and re-arms the timer.
func (f *Flusher) SetInterval(d time.Duration) {
	if d < time.Duration(state.MinFlushIntervalMS)*time.Millisecond {
		return
	}
	if time.Duration(f.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case f.reset <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled. Each tick flushes unless a flush is
// already running.
func (f *Flusher) Run(ctx context.Context) error {
	timer := time.NewTimer(f.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(f.Interval())
		case <-timer.C:
			if _, err := f.FlushNow(ctx); err != nil && !errors.Is(err, ErrFlushInProgress) && ctx.Err() == nil {
				logging.Component("writeback").WithError(err).Warn("flush failed; will retry next tick")
			}
			timer.Reset(f.Interval())
		}
	}
}

// Start runs the tick loop in the background until Stop is called.
func (f *Flusher) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.stop, f.done = cancel, done
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()
}

// Stop ends the tick loop and performs a final flush with ctx.
func (f *Flusher) Stop(ctx context.Context) (Result, error) {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return f.FlushNow(ctx)
}

// LastResult returns the most recent flush outcome.
func (f *Flusher) LastResult() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// FlushNow performs one flush. A batch write failure re-marks exactly the
// keys of that batch. The shared config is flushed when dirty and re-read
// otherwise so peer edits reach the local mirror.
func (f *Flusher) FlushNow(ctx context.Context) (Result, error) {
	if !f.running.CompareAndSwap(false, true) {
		monitoring.FlushTotal.WithLabelValues("skipped").Inc()
		return Result{}, ErrFlushInProgress
	}
	defer f.running.Store(false)

	start := time.Now()
	res := Result{At: start.UTC()}
	if f.sweeper != nil {
		res.SweptExpired = f.sweeper.SweepCooldowns(start)
	}

	f.mu.Lock()
	sources := append([]Source(nil), f.sources...)
	f.mu.Unlock()

	var (
		batch  []storage.Mutation
		owners = make(map[Source][]string)
	)
	for _, src := range sources {
		muts := src.DrainDirty()
		for _, m := range muts {
			owners[src] = append(owners[src], m.Key)
		}
		if len(muts) > 0 {
			monitoring.FlushedEntities.WithLabelValues(src.Name()).Add(float64(len(muts)))
		}
		batch = append(batch, muts...)
	}

	var errs []error
	if len(batch) > 0 {
		if err := f.backend.ApplyBatch(ctx, batch); err != nil {
			for src, keys := range owners {
				src.MarkDirty(keys...)
			}
			res.Requeued = len(batch)
			errs = append(errs, err)
			f.publishFailure(ctx, err, len(batch))
		} else {
			res.Entities = len(batch)
		}
	}

	if f.config.Dirty() {
		if err := f.config.Flush(ctx); err != nil {
			errs = append(errs, err)
			f.publishFailure(ctx, err, 0)
		} else {
			res.ConfigFlush = true
		}
	} else if _, err := f.config.Load(ctx); err != nil {
		errs = append(errs, err)
	}

	res.Duration = time.Since(start)
	err := errors.Join(errs...)
	if err != nil {
		res.Error = err.Error()
		monitoring.FlushTotal.WithLabelValues("error").Inc()
	} else {
		monitoring.FlushTotal.WithLabelValues("ok").Inc()
	}
	monitoring.FlushDuration.Observe(res.Duration.Seconds())

	f.mu.Lock()
	f.last = res
	f.mu.Unlock()

	if res.Entities > 0 || res.Requeued > 0 || res.ConfigFlush {
		logging.Component("writeback").WithFields(log.Fields{
			"entities":    res.Entities,
			"requeued":    res.Requeued,
			"config":      res.ConfigFlush,
			"duration_ms": logging.DurationMS(res.Duration),
		}).Debug("flush complete")
	}
	return res, err
}

func (f *Flusher) publishFailure(ctx context.Context, err error, batch int) {
	logging.Component("writeback").WithError(err).WithField("batch", batch).Error("flush write failed")
	if f.publisher == nil {
		return
	}
	f.publisher.Publish(ctx, events.TopicFlushFailed, events.FlushFailure{Error: err.Error(), Batch: batch}, nil)
}
