package healthcheck

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Service runs registered checkers and stores their results.
type Service struct {
	store storage.HealthCheckStore
	log   *logger.Logger
	now   func() time.Time

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewService constructs the health-check service.
func NewService(store storage.HealthCheckStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("healthcheck")
	}
	return &Service{store: store, log: log, now: time.Now, checkers: map[string]Checker{}}
}

// Register adds a checker, replacing any checker for the same module.
func (s *Service) Register(c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkers[c.Module()]; !ok {
		s.order = append(s.order, c.Module())
	}
	s.checkers[c.Module()] = c
}

// Modules lists the registered modules in registration order.
func (s *Service) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Service) checker(module string) (Checker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkers[module]
	return c, ok
}

// RunCheck checks one module and stores the result. A failing checker
// yields an unknown result with score 0.
func (s *Service) RunCheck(ctx context.Context, module string) (model.Result, error) {
	c, ok := s.checker(module)
	if !ok {
		return model.Result{}, errors.NotFound("health check module", module)
	}
	start := s.now()
	result, err := c.Check(ctx)
	if err != nil {
		s.log.WithField("module", module).WithError(err).Warn("health check failed to run")
		result = model.Unknown(module, c.DisplayName(), err)
	}
	result.Module = module
	result.DisplayName = c.DisplayName()
	result.Timestamp = s.now().UTC()
	result.ExecutionTimeMs = s.now().Sub(start).Milliseconds()

	saved, err := s.store.SaveResult(ctx, result)
	if err != nil {
		return result, err
	}
	metrics.SetHealthScore(module, saved.Score)
	entry := s.log.WithField("module", module).WithField("score", saved.Score).WithField("status", string(saved.Status))
	if saved.Status == model.StatusHealthy {
		entry.Debug("health check completed")
	} else {
		entry.Warn("health check completed")
	}
	return saved, nil
}

// RunAll checks every module concurrently and returns results in
// registration order.
func (s *Service) RunAll(ctx context.Context) ([]model.Result, error) {
	modules := s.Modules()
	results := make([]model.Result, len(modules))
	g, gctx := errgroup.WithContext(ctx)
	for i, module := range modules {
		i, module := i, module
		g.Go(func() error {
			r, err := s.RunCheck(gctx, module)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Summary aggregates the latest result of every module.
func (s *Service) Summary(ctx context.Context) (model.Summary, error) {
	latest, err := s.store.LatestResults(ctx)
	if err != nil {
		return model.Summary{}, err
	}
	return Summarize(latest, s.now().UTC()), nil
}

// Summarize builds a summary from the latest results. The overall score is
// the mean of module scores.
func Summarize(latest []model.Result, at time.Time) model.Summary {
	sum := model.Summary{Modules: []model.ModuleSummary{}, GeneratedAt: at, OverallStatus: model.StatusUnknown}
	total := 0
	for _, r := range latest {
		sum.Modules = append(sum.Modules, model.ModuleSummary{
			Module: r.Module, DisplayName: r.DisplayName, Status: r.Status, Score: r.Score, LastCheck: r.Timestamp,
		})
		total += r.Score
		switch r.Status {
		case model.StatusHealthy:
			sum.Healthy++
		case model.StatusWarning:
			sum.Warning++
		case model.StatusCritical:
			sum.Critical++
		default:
			sum.Unknown++
		}
	}
	sort.Slice(sum.Modules, func(i, j int) bool { return sum.Modules[i].Module < sum.Modules[j].Module })
	if len(latest) > 0 {
		sum.OverallScore = int(math.Round(float64(total) / float64(len(latest))))
		sum.OverallStatus = model.StatusForScore(sum.OverallScore)
	}
	return sum
}

// History returns the newest results of a module.
func (s *Service) History(ctx context.Context, module string, limit int) ([]model.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	results, err := s.store.ListResults(ctx, module, time.Time{}, time.Time{}, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.Result{}
	}
	return results, nil
}

// Cleanup deletes results older than retentionDays.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	n, err := s.store.DeleteResultsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.WithField("deleted", n).WithField("retention_days", retentionDays).Info("health check history cleaned")
	return n, nil
}
