// Package cleanup provides data retention services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/songyu-ren/xagent/pkg/services"
)

// expiredTokenGrace keeps expired tokens around briefly so the API can still
// answer "expired" instead of "not found" for recently dead links.
const expiredTokenGrace = 7 * 24 * time.Hour

// Service periodically purges action tokens long past their TTL. All
// operations are idempotent and safe to run from multiple processes.
type Service struct {
	interval time.Duration
	tokens   *services.TokenService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(interval time.Duration, tokens *services.TokenService) *Service {
	return &Service{interval: interval, tokens: tokens}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-expiredTokenGrace)
	count, err := s.tokens.DeleteExpired(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: token cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired action tokens", "count", count)
	}
}
