package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/payment"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
)

func cloneItems(items []quote.Item) []quote.Item {
	if items == nil {
		return nil
	}
	out := make([]quote.Item, len(items))
	for i, item := range items {
		if item.TaxRate != nil {
			rate := *item.TaxRate
			item.TaxRate = &rate
		}
		out[i] = item
	}
	return out
}

func cloneQuote(q quote.Quote) quote.Quote {
	q.Items = cloneItems(q.Items)
	return q
}

func cloneRule(r quote.DepositRule) quote.DepositRule {
	if r.Ranges != nil {
		r.Ranges = append([]quote.DepositRange(nil), r.Ranges...)
	}
	return r
}

// QuoteStore implementation ---------------------------------------------------

func (s *Store) CreateQuote(_ context.Context, q quote.Quote) (quote.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[q.RequestID]; !ok {
		return quote.Quote{}, notFound("request", q.RequestID)
	}
	if q.ID == "" {
		q.ID = s.nextIDLocked()
	} else if _, exists := s.quotes[q.ID]; exists {
		return quote.Quote{}, conflict("quote %s already exists", q.ID)
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	s.quotes[q.ID] = cloneQuote(q)
	return cloneQuote(q), nil
}

func (s *Store) UpdateQuote(_ context.Context, q quote.Quote) (quote.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.quotes[q.ID]
	if !ok {
		return quote.Quote{}, notFound("quote", q.ID)
	}
	q.CreatedAt = original.CreatedAt
	q.UpdatedAt = time.Now().UTC()

	s.quotes[q.ID] = cloneQuote(q)
	return cloneQuote(q), nil
}

func (s *Store) GetQuote(_ context.Context, id string) (quote.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[id]
	if !ok {
		return quote.Quote{}, notFound("quote", id)
	}
	return cloneQuote(q), nil
}

func (s *Store) ListQuotesByRequest(_ context.Context, requestID string) ([]quote.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []quote.Quote
	for _, q := range s.quotes {
		if q.RequestID == requestID {
			result = append(result, cloneQuote(q))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) RejectPendingQuotes(_ context.Context, requestID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	count := 0
	for id, q := range s.quotes {
		if q.RequestID != requestID || q.Status != quote.StatusPending {
			continue
		}
		q.Status = quote.StatusRejected
		q.RejectedAt = &at
		q.RejectionReason = reason
		q.UpdatedAt = at
		s.quotes[id] = q
		count++
	}
	return count, nil
}

func (s *Store) ListQuotesByStatus(_ context.Context, status quote.Status) ([]quote.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []quote.Quote
	for _, q := range s.quotes {
		if q.Status == status {
			result = append(result, cloneQuote(q))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) CreateRevision(_ context.Context, rev quote.Revision) (quote.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quotes[rev.QuoteID]; !ok {
		return quote.Revision{}, notFound("quote", rev.QuoteID)
	}
	if rev.ID == "" {
		rev.ID = s.nextIDLocked()
	}
	rev.CreatedAt = time.Now().UTC()
	rev.Items = cloneItems(rev.Items)
	s.revisions[rev.QuoteID] = append(s.revisions[rev.QuoteID], rev)
	return rev, nil
}

func (s *Store) ListRevisions(_ context.Context, quoteID string) ([]quote.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[quoteID]
	result := make([]quote.Revision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		rev := revs[i]
		rev.Items = cloneItems(rev.Items)
		result = append(result, rev)
	}
	return result, nil
}

func (s *Store) CreateTemplate(_ context.Context, tpl quote.Template) (quote.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = s.nextIDLocked()
	}
	tpl.CreatedAt = time.Now().UTC()
	tpl.Items = cloneItems(tpl.Items)
	s.templates[tpl.ID] = tpl
	return tpl, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (quote.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return quote.Template{}, notFound("template", id)
	}
	tpl.Items = cloneItems(tpl.Items)
	return tpl, nil
}

func (s *Store) ListTemplates(_ context.Context, professionalID string) ([]quote.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []quote.Template
	for _, tpl := range s.templates {
		if tpl.ProfessionalID == professionalID {
			tpl.Items = cloneItems(tpl.Items)
			result = append(result, tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) CreateDepositRule(_ context.Context, rule quote.DepositRule) (quote.DepositRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.depositRules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) UpdateDepositRule(_ context.Context, rule quote.DepositRule) (quote.DepositRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.depositRules[rule.ID]
	if !ok {
		return quote.DepositRule{}, notFound("deposit rule", rule.ID)
	}
	rule.CreatedAt = original.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	s.depositRules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) GetDepositRule(_ context.Context, id string) (quote.DepositRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.depositRules[id]
	if !ok {
		return quote.DepositRule{}, notFound("deposit rule", id)
	}
	return cloneRule(rule), nil
}

func (s *Store) ListDepositRules(_ context.Context) ([]quote.DepositRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]quote.DepositRule, 0, len(s.depositRules))
	for _, rule := range s.depositRules {
		result = append(result, cloneRule(rule))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteDepositRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.depositRules[id]; !ok {
		return notFound("deposit rule", id)
	}
	delete(s.depositRules, id)
	return nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, notFound("payment", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, notFound("payment", id)
	}
	return p, nil
}

func (s *Store) GetPaymentByCharge(_ context.Context, chargeID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.ChargeID == chargeID {
			return p, nil
		}
	}
	return payment.Payment{}, notFound("payment with charge", chargeID)
}

func (s *Store) ListPaymentsByRequest(_ context.Context, requestID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Payment
	for _, p := range s.payments {
		if p.RequestID == requestID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) CountPayments(_ context.Context, status payment.Status, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.payments {
		if p.Status == status && !p.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
