// Package sweeper finalizes laws whose voting window elapsed while nobody
// was reading them, so outcome events go out close to the deadline.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"civic/api/internal/lease"
)

type Finalizer interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	LeaseTTL time.Duration
	Lease    lease.Lease
	Logger   *slog.Logger
}

type Sweeper struct {
	config    Config
	finalizer Finalizer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(finalizer Finalizer, config Config) *Sweeper {
	if config.Lease == nil {
		config.Lease = lease.Local{}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = config.Interval
	}
	return &Sweeper{config: config, finalizer: finalizer}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sweeper already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}(s.done)
	return nil
}

// Stop cancels the loop, waits for it to exit and releases the lease.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	ctx, release := context.WithTimeout(context.Background(), 2*time.Second)
	defer release()
	if err := s.config.Lease.Release(ctx); err != nil {
		s.config.Logger.Warn("sweep lease release failed", "error", err)
	}
}

// RunOnce performs one sweep if this instance holds the lease and reports
// how many laws it closed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	defer func() {
		if r := recover(); r != nil {
			s.config.Logger.Error("panic in sweep, continuing", "panic", r)
		}
	}()

	held, err := s.config.Lease.Acquire(ctx, s.config.LeaseTTL)
	if err != nil {
		s.config.Logger.Warn("sweep lease unavailable", "error", err)
		return 0
	}
	if !held {
		s.config.Logger.Debug("sweep skipped, lease held elsewhere")
		return 0
	}

	closed, err := s.finalizer.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.config.Logger.Error("sweep failed", "error", err, "closed", closed)
		}
		return closed
	}
	if closed > 0 {
		s.config.Logger.Info("sweep finalized laws", "closed", closed)
	}
	return closed
}
