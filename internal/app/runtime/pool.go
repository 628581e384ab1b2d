package runtime

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const poolLogInterval = 5 * time.Minute

// poolService exports connection pool statistics and logs pool pressure.
// It does not own the database handle.
type poolService struct {
	db       *sql.DB
	log      *logger.Logger
	interval time.Duration

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	unregister func()
}

func newPoolService(db *sql.DB, log *logger.Logger) *poolService {
	return &poolService{db: db, log: log, interval: poolLogInterval}
}

func (p *poolService) Name() string { return "database-pool" }

func (p *poolService) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	if err := p.db.PingContext(ctx); err != nil {
		return err
	}
	unregister, err := metrics.RegisterDBStats(p.db)
	if err != nil {
		return err
	}
	p.unregister = unregister

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(runCtx, p.done)
	return nil
}

func (p *poolService) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *poolService) report() {
	stats := p.db.Stats()
	entry := p.log.WithField("open", stats.OpenConnections).
		WithField("in_use", stats.InUse).
		WithField("idle", stats.Idle).
		WithField("wait_count", stats.WaitCount)
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		entry.Warn("database pool exhausted")
		return
	}
	entry.Debug("database pool stats")
}

func (p *poolService) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done, unregister := p.cancel, p.done, p.unregister
	p.cancel, p.done, p.unregister = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if unregister != nil {
		unregister()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
