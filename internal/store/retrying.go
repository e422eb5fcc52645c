package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

const defaultMaxPending = 10000

// pendingWrite is a write that failed (or queued behind one that failed)
// and is waiting to be replayed.
type pendingWrite struct {
	seq   uint64
	op    string
	apply func(ctx context.Context, s model.Store) error
}

// Retrying wraps a Store so that failed writes are queued and replayed in
// order by Run with exponential backoff. Reads pass straight through.
//
// Once a write is queued every later write queues behind it, so a replay
// can never overwrite a newer row.
type Retrying struct {
	inner model.Store
	log   zerolog.Logger

	mu      sync.Mutex
	queue   []pendingWrite
	nextSeq uint64
	maxLen  int
	wake    chan struct{}

	newBackOff func() backoff.BackOff

	// Callbacks (for metrics)
	OnFailure func(op string)   // a direct write failed
	OnRetry   func(flushed int) // queued writes were replayed
	OnDrop    func()            // queue full, oldest write dropped
}

var _ model.Store = (*Retrying)(nil)

// NewRetrying wraps inner. maxPending <= 0 selects the default bound.
func NewRetrying(inner model.Store, maxPending int, log zerolog.Logger) *Retrying {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &Retrying{
		inner:  inner,
		log:    log.With().Str("component", "store-retry").Logger(),
		maxLen: maxPending,
		wake:   make(chan struct{}, 1),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Inner returns the wrapped store.
func (r *Retrying) Inner() model.Store { return r.inner }

func (r *Retrying) UpsertCandle(ctx context.Context, c model.Candle) error {
	return r.write(ctx, "upsert_candle", func(ctx context.Context, s model.Store) error {
		return s.UpsertCandle(ctx, c)
	})
}

func (r *Retrying) AppendSignal(ctx context.Context, sig model.Signal) error {
	return r.write(ctx, "append_signal", func(ctx context.Context, s model.Store) error {
		return s.AppendSignal(ctx, sig)
	})
}

func (r *Retrying) UpsertPosition(ctx context.Context, p model.Position) error {
	return r.write(ctx, "upsert_position", func(ctx context.Context, s model.Store) error {
		return s.UpsertPosition(ctx, p)
	})
}

// write applies fn directly when nothing is queued. A failure is queued
// for replay and reported as a PersistenceFailure.
func (r *Retrying) write(ctx context.Context, op string, fn func(context.Context, model.Store) error) error {
	r.mu.Lock()
	if len(r.queue) > 0 {
		r.enqueueLocked(op, fn)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := fn(ctx, r.inner)
	if err == nil {
		return nil
	}

	r.log.Warn().Err(err).Str("op", op).Msg("write failed, queued for retry")
	if r.OnFailure != nil {
		r.OnFailure(op)
	}
	r.mu.Lock()
	r.enqueueLocked(op, fn)
	r.mu.Unlock()

	var pf *model.PersistenceFailure
	if errors.As(err, &pf) {
		return pf
	}
	return &model.PersistenceFailure{Op: op, Err: err}
}

func (r *Retrying) enqueueLocked(op string, fn func(context.Context, model.Store) error) {
	if len(r.queue) >= r.maxLen {
		r.log.Error().Str("dropped_op", r.queue[0].op).Msg("retry queue full, dropping oldest write")
		r.queue = r.queue[1:]
		if r.OnDrop != nil {
			r.OnDrop()
		}
	}
	r.nextSeq++
	r.queue = append(r.queue, pendingWrite{seq: r.nextSeq, op: op, apply: fn})
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of writes waiting for replay.
func (r *Retrying) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Run replays queued writes until ctx is cancelled. Each drain retries
// the head of the queue with exponential backoff.
func (r *Retrying) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		b := backoff.WithContext(r.newBackOff(), ctx)
		err := backoff.RetryNotify(func() error { return r.Flush(ctx) }, b,
			func(err error, next time.Duration) {
				r.log.Warn().Err(err).Int("pending", r.Pending()).Dur("retry_in", next).Msg("replay failed")
			})
		if err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("replay gave up")
		}
	}
}

// Flush replays queued writes in order, stopping at the first failure.
func (r *Retrying) Flush(ctx context.Context) error {
	flushed := 0
	defer func() {
		if flushed > 0 {
			r.log.Info().Int("flushed", flushed).Msg("replayed queued writes")
			if r.OnRetry != nil {
				r.OnRetry(flushed)
			}
		}
	}()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return nil
		}
		head := r.queue[0]
		r.mu.Unlock()

		if err := head.apply(ctx, r.inner); err != nil {
			return err
		}

		r.mu.Lock()
		// The head may have been dropped while it was applied
		if len(r.queue) > 0 && r.queue[0].seq == head.seq {
			r.queue = r.queue[1:]
		}
		r.mu.Unlock()
		flushed++
	}
}

func (r *Retrying) OpenPositions(ctx context.Context) ([]model.Position, error) {
	return r.inner.OpenPositions(ctx)
}

func (r *Retrying) RecentCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	return r.inner.RecentCandles(ctx, symbol, limit)
}

func (r *Retrying) Candles(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	return r.inner.Candles(ctx, symbol, from, to)
}

func (r *Retrying) ClosedPositions(ctx context.Context, symbol string) ([]model.Position, error) {
	return r.inner.ClosedPositions(ctx, symbol)
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
