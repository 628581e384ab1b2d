package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

func cloneRequest(r request.Request) request.Request {
	r.Location = cloneLocation(r.Location)
	if r.Travel != nil {
		t := *r.Travel
		r.Travel = &t
	}
	r.DistanceKm = nil
	return r
}

// RequestStore implementation -------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return request.Request{}, conflict("request %s already exists", req.ID)
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	s.requests[req.ID] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (s *Store) UpdateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return request.Request{}, notFound("request", req.ID)
	}
	req.CreatedAt = original.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	s.requests[req.ID] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (s *Store) GetRequest(_ context.Context, id string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, notFound("request", id)
	}
	return cloneRequest(req), nil
}

func (s *Store) ListRequests(_ context.Context, filter request.Filter, page storage.Page) ([]request.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0)
	for _, req := range s.requests {
		if !matchRequest(req, filter) {
			continue
		}
		result = append(result, cloneRequest(req))
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return window(result, page), len(result), nil
}

func matchRequest(req request.Request, f request.Filter) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.Priority != "" && req.Priority != f.Priority {
		return false
	}
	if f.CategoryID != "" && req.CategoryID != f.CategoryID {
		return false
	}
	if f.ClientID != "" && req.ClientID != f.ClientID {
		return false
	}
	if f.ProfessionalID != "" && req.ProfessionalID != f.ProfessionalID {
		if !(f.IncludePending && req.Status == request.StatusPending && req.ProfessionalID == "") {
			return false
		}
	}
	return true
}

func (s *Store) DeleteRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return notFound("request", id)
	}
	delete(s.requests, id)
	for qid, q := range s.quotes {
		if q.RequestID == id {
			delete(s.quotes, qid)
			delete(s.revisions, qid)
		}
	}
	return nil
}

func (s *Store) CountRequestsByClient(_ context.Context, clientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.ClientID == clientID {
			count++
		}
	}
	return count, nil
}

func (s *Store) RequestStats(_ context.Context) (request.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats request.Stats
	for _, req := range s.requests {
		stats.Total++
		switch req.Status {
		case request.StatusPending:
			stats.Pending++
		case request.StatusAssigned:
			stats.Assigned++
		case request.StatusInProgress:
			stats.InProgress++
		case request.StatusCompleted:
			stats.Completed++
		case request.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// AcceptQuote lives here because it mutates both quotes and requests under one
// lock.
func (s *Store) AcceptQuote(_ context.Context, quoteID string, at time.Time) (quote.Quote, request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[quoteID]
	if !ok {
		return quote.Quote{}, request.Request{}, notFound("quote", quoteID)
	}
	req, ok := s.requests[q.RequestID]
	if !ok {
		return quote.Quote{}, request.Request{}, notFound("request", q.RequestID)
	}
	if q.Status != quote.StatusPending {
		return quote.Quote{}, request.Request{}, conflict("quote %s is %s", quoteID, q.Status)
	}
	if !req.Status.AcceptsQuotes() {
		return quote.Quote{}, request.Request{}, conflict("request %s is %s", req.ID, req.Status)
	}

	acceptedAt := at.UTC()
	for id, other := range s.quotes {
		if id == quoteID || other.RequestID != q.RequestID || other.Status != quote.StatusPending {
			continue
		}
		other.Status = quote.StatusRejected
		other.RejectedAt = &acceptedAt
		other.RejectionReason = "another quote was accepted"
		other.UpdatedAt = acceptedAt
		s.quotes[id] = other
	}

	q.Status = quote.StatusAccepted
	q.IsSelected = true
	q.AcceptedAt = &acceptedAt
	q.UpdatedAt = acceptedAt
	s.quotes[quoteID] = q

	req.Status = request.StatusAssigned
	req.ProfessionalID = q.ProfessionalID
	req.AssignedAt = &acceptedAt
	req.UpdatedAt = acceptedAt
	s.requests[req.ID] = req

	return cloneQuote(q), cloneRequest(req), nil
}
