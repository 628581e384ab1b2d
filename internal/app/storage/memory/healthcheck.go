package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
)

// HealthCheckStore implementation ---------------------------------------------

func (s *Store) SaveResult(_ context.Context, r healthcheck.Result) (healthcheck.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Metrics = cloneMap(r.Metrics)
	s.results = append(s.results, r)
	return r, nil
}

// LatestResults returns the newest result of every module.
func (s *Store) LatestResults(_ context.Context) ([]healthcheck.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]healthcheck.Result)
	for _, r := range s.results {
		if cur, ok := latest[r.Module]; !ok || !r.Timestamp.Before(cur.Timestamp) {
			latest[r.Module] = r
		}
	}
	result := make([]healthcheck.Result, 0, len(latest))
	for _, r := range latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Module < result[j].Module })
	return result, nil
}

// ListResults returns results newest first. An empty module matches all; zero
// bounds are open.
func (s *Store) ListResults(_ context.Context, module string, from, to time.Time, limit int) ([]healthcheck.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []healthcheck.Result
	for _, r := range s.results {
		if module != "" && r.Module != module {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			continue
		}
		result = append(result, r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return newerFirst(result[i].Timestamp, result[j].Timestamp, result[i].ID, result[j].ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteResultsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.results[:0]
	removed := 0
	for _, r := range s.results {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.results = kept
	return removed, nil
}

func (s *Store) SaveRemediation(_ context.Context, r healthcheck.RemediationRecord) (healthcheck.RemediationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now().UTC()
	}
	r.Actions = cloneStrings(r.Actions)
	s.remediations = append(s.remediations, r)
	return r, nil
}

// ListRemediations returns records newest first. An empty rule id matches all.
func (s *Store) ListRemediations(_ context.Context, ruleID string, since time.Time) ([]healthcheck.RemediationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []healthcheck.RemediationRecord
	for i := len(s.remediations) - 1; i >= 0; i-- {
		r := s.remediations[i]
		if ruleID != "" && r.RuleID != ruleID {
			continue
		}
		if !since.IsZero() && r.ExecutedAt.Before(since) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *Store) SaveReport(_ context.Context, r healthcheck.ReportRecord) (healthcheck.ReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.reports[r.ID] = r
	return r, nil
}

func (s *Store) GetReport(_ context.Context, id string) (healthcheck.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return healthcheck.ReportRecord{}, notFound("report", id)
	}
	return r, nil
}

func (s *Store) ListReports(_ context.Context) ([]healthcheck.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]healthcheck.ReportRecord, 0, len(s.reports))
	for _, r := range s.reports {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}
