// Package pricing estimates price ranges from accepted quotes.
package pricing

import (
	"context"
	"math"
	"sort"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Estimate summarises accepted quote totals in cents.
type Estimate struct {
	CategoryID    string `json:"categoryId"`
	SubcategoryID string `json:"subcategoryId,omitempty"`
	Count         int    `json:"count"`
	Min           int64  `json:"min"`
	Max           int64  `json:"max"`
	Average       int64  `json:"average"`
	P25           int64  `json:"p25"`
	Median        int64  `json:"median"`
	P75           int64  `json:"p75"`
}

// Service computes price estimates.
type Service struct {
	quotes   storage.QuoteStore
	requests storage.RequestStore
	log      *logger.Logger
}

// New constructs the pricing service.
func New(quotes storage.QuoteStore, requests storage.RequestStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	return &Service{quotes: quotes, requests: requests, log: log}
}

// Estimate aggregates the totals of accepted quotes whose request is in the
// category, and in the subcategory when one is given.
func (s *Service) Estimate(ctx context.Context, categoryID, subcategoryID string) (Estimate, error) {
	if categoryID == "" {
		return Estimate{}, errors.Validation(map[string]string{"categoryId": "categoryId is required"})
	}
	accepted, err := s.quotes.ListQuotesByStatus(ctx, quote.StatusAccepted)
	if err != nil {
		return Estimate{}, err
	}

	var totals []int64
	for _, q := range accepted {
		req, err := s.requests.GetRequest(ctx, q.RequestID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Estimate{}, err
		}
		if req.CategoryID != categoryID || (subcategoryID != "" && req.SubcategoryID != subcategoryID) {
			continue
		}
		totals = append(totals, q.TotalAmount)
	}

	est := Summarize(totals)
	est.CategoryID = categoryID
	est.SubcategoryID = subcategoryID
	s.log.WithField("category_id", categoryID).WithField("samples", est.Count).Debug("price estimate computed")
	return est, nil
}

// Summarize computes the statistics of totals. No samples yield zeros.
func Summarize(totals []int64) Estimate {
	if len(totals) == 0 {
		return Estimate{}
	}
	sorted := append([]int64(nil), totals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	return Estimate{
		Count:   len(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Average: int64(math.Round(float64(sum) / float64(len(sorted)))),
		P25:     Percentile(sorted, 0.25),
		Median:  Percentile(sorted, 0.5),
		P75:     Percentile(sorted, 0.75),
	}
}

// Percentile interpolates linearly between the closest ranks of an
// ascending slice.
func Percentile(sorted []int64, p float64) int64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return int64(math.Round(float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])))
}
