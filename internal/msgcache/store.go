package msgcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/clock"
	"github.com/MardaOneli/WaBot/internal/failure"
)

// DefaultFlushInterval is how often the cache is written back.
const DefaultFlushInterval = 10 * time.Second

// Snapshotter is the durable side of the cache.
type Snapshotter interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// Store owns a Cache together with its snapshot and flush timer.
// Construct with NewStore, call Load, then Start; Close stops the timer
// and writes a final snapshot.
type Store struct {
	*Cache

	snap      Snapshotter
	clock     clock.Clock
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock injects the clock driving the flush ticker.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithInterval overrides DefaultFlushInterval.
func WithInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.interval = d }
}

// WithRetention makes every flush first drop records older than d, so
// expired messages are neither kept in memory nor written back. Zero
// keeps everything.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// NewStore returns a Store with an empty cache.
func NewStore(snap Snapshotter, log *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		Cache:    New(),
		snap:     snap,
		clock:    clock.Real(),
		interval: DefaultFlushInterval,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load hydrates the cache from the snapshot.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.snap.Load(ctx)
	if err != nil {
		return err
	}
	s.Restore(records)
	s.log.Info("message cache loaded", zap.Int("records", len(records)))
	return nil
}

// Flush applies the retention window and writes the remaining contents
// to the snapshot.
func (s *Store) Flush(ctx context.Context) error {
	if s.retention > 0 {
		cutoff := s.clock.Now().Add(-s.retention).Unix()
		if n := s.Prune(cutoff); n > 0 {
			s.log.Info("expired cached messages", zap.Int("removed", n))
		}
	}
	records := s.Snapshot()
	if err := s.snap.Save(ctx, records); err != nil {
		return &failure.PersistError{Op: "message cache", Err: err}
	}
	s.log.Debug("message cache flushed", zap.Int("records", len(records)))
	return nil
}

// Start launches the flush loop. A failed flush is logged and the loop
// continues. Calling Start twice is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)

	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.log.Error("failed to flush message cache", zap.Error(err))
				}
			}
		}
	}()
}

// Close stops the flush loop and performs one final flush.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.Flush(ctx)
}
