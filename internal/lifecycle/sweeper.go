package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper scans for near-expiry users.
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically scans all stored users and triggers a background
// refresh for anyone inside the refresh threshold. It shares the manager's
// singleflight.Group with the request path, so a sweep never duplicates a
// refresh already in flight from a concurrent Get. Modeled on
// internal/approval/manager.go's owned-goroutine shutdown handshake
// (stop channel + WaitGroup), generalized from run-once to run-forever.
type Sweeper struct {
	manager  *Manager
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper builds a Sweeper over manager. interval of zero selects
// DefaultSweepInterval.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop in its own goroutine until Stop is called.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the sweep loop to exit and waits for it to finish. Safe to
// call more than once (serve.go calls it explicitly on shutdown, ahead of
// its own deferred call).
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expiries, err := s.manager.store.ListExpiries(ctx)
	if err != nil {
		slog.Error("sweeper: list expiries failed", "err", err)
		return
	}

	now := time.Now()
	threshold := now.Add(s.manager.refreshThreshold)
	for _, info := range expiries {
		if !info.HasRefreshToken {
			continue
		}
		if info.ExpiresAt.After(threshold) {
			continue
		}
		s.manager.triggerRefresh(info.UserID)
	}
}
