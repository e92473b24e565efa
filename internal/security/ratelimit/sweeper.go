package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// DefaultSweepInterval is how often expired buckets are dropped.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper calls Store.Sweep on a fixed interval in its own goroutine.
type Sweeper struct {
	store    Store
	interval time.Duration
	clock    Clock
	logger   logging.Logger
	onSwept  func(int)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepClock overrides the time passed to Sweep.
func WithSweepClock(c Clock) SweeperOption {
	return func(s *Sweeper) { s.clock = c }
}

// WithSweepObserver is called with the count of each non-empty sweep.
func WithSweepObserver(fn func(int)) SweeperOption {
	return func(s *Sweeper) { s.onSwept = fn }
}

// NewSweeper builds a Sweeper; a non-positive interval means
// DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, logger logging.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		clock:    SystemClock,
		logger:   logger.Named("ratelimit.sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. Calls after the first are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Stop ends the loop and waits for it. Safe to call more than once, and
// before Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	started := true
	s.startOnce.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.store.Sweep(ctx, s.clock.Now())
	if err != nil {
		s.logger.Warn("rate limit sweep failed", logging.Err(err))
		return 0
	}
	if n > 0 {
		s.logger.Debug("rate limit buckets swept", logging.Int("removed", n))
		if s.onSwept != nil {
			s.onSwept(n)
		}
	}
	return n
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}
