package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"beaconattend/internal/session"
)

// Sweeper periodically persists the expired status of sessions whose
// window has passed. Reads already project expiry, so the sweep only
// keeps stored rows and metrics in step.
type Sweeper struct {
	sessions *session.Manager
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSweeper(sessions *session.Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop in the background.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting session sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping session sweeper")
		close(s.stopChan)
	})
}

func (s *Sweeper) run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass and returns how many sessions it expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("expired sessions", zap.Int("count", n))
	}
	return n
}
