package referrals

import (
	"context"
	"sync"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/system"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper expires stale pending referrals once at start and then daily.
type Sweeper struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed expiry sweeper.
func NewSweeper(service *Service, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("referral-sweeper")
	}
	return &Sweeper{service: service, log: log, interval: 24 * time.Hour}
}

func (s *Sweeper) Name() string { return "referral-expiry-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweep(runCtx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()

	s.log.Info("referral expiry sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("referral expiry sweeper stopped")
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := s.service.CleanupExpired(ctx); err != nil {
		s.log.WithError(err).Warn("referral expiry sweep failed")
	}
}
