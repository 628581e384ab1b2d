package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/review"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

// ReferralStore implementation ------------------------------------------------

func (s *Store) CreateReferral(_ context.Context, r referral.Referral) (referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.referrals[r.ID] = r
	return r, nil
}

func (s *Store) UpdateReferral(_ context.Context, r referral.Referral) (referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.referrals[r.ID]
	if !ok {
		return referral.Referral{}, notFound("referral", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.referrals[r.ID] = r
	return r, nil
}

func (s *Store) listReferrals(match func(referral.Referral) bool) []referral.Referral {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []referral.Referral
	for _, r := range s.referrals {
		if match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result
}

func (s *Store) ListReferralsByReferrer(_ context.Context, referrerID string) ([]referral.Referral, error) {
	return s.listReferrals(func(r referral.Referral) bool { return r.ReferrerID == referrerID }), nil
}

func (s *Store) ListReferralsByCode(_ context.Context, code string) ([]referral.Referral, error) {
	return s.listReferrals(func(r referral.Referral) bool { return r.Code == code }), nil
}

func (s *Store) ListReferralsByReferee(_ context.Context, refereeID string) ([]referral.Referral, error) {
	return s.listReferrals(func(r referral.Referral) bool { return r.RefereeID == refereeID }), nil
}

func (s *Store) ListReferrals(_ context.Context) ([]referral.Referral, error) {
	return s.listReferrals(func(referral.Referral) bool { return true }), nil
}

func (s *Store) ExpireReferrals(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, r := range s.referrals {
		if r.Status == referral.StatusPending && r.CreatedAt.Before(cutoff) {
			r.Status = referral.StatusExpired
			r.UpdatedAt = now
			s.referrals[id] = r
			count++
		}
	}
	return count, nil
}

func (s *Store) AddPoints(_ context.Context, tx referral.PointTransaction) (referral.UserPoints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Points <= 0 {
		return referral.UserPoints{}, fmt.Errorf("points must be positive")
	}
	balance := s.points[tx.UserID]
	balance.UserID = tx.UserID
	switch tx.Type {
	case referral.TransactionSpent:
		if balance.Points < tx.Points {
			return referral.UserPoints{}, fmt.Errorf("insufficient points: have %d, need %d", balance.Points, tx.Points)
		}
		balance.Points -= tx.Points
		balance.TotalSpent += tx.Points
	default:
		tx.Type = referral.TransactionEarned
		balance.Points += tx.Points
		balance.TotalEarned += tx.Points
	}
	now := time.Now().UTC()
	balance.UpdatedAt = now
	s.points[tx.UserID] = balance

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	tx.CreatedAt = now
	s.pointHistory[tx.UserID] = append(s.pointHistory[tx.UserID], tx)
	return balance, nil
}

func (s *Store) GetPoints(_ context.Context, userID string) (referral.UserPoints, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.points[userID]
	if !ok {
		return referral.UserPoints{UserID: userID}, nil
	}
	return balance, nil
}

func (s *Store) ListPointTransactions(_ context.Context, userID string) ([]referral.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.pointHistory[userID]
	result := make([]referral.PointTransaction, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		result = append(result, history[i])
	}
	return result, nil
}

// ReviewStore implementation --------------------------------------------------

func (s *Store) CreateReview(_ context.Context, r review.Review) (review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reviews {
		if existing.RequestID == r.RequestID {
			return review.Review{}, conflict("review for request %s already exists", r.RequestID)
		}
	}
	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = time.Now().UTC()
	s.reviews[r.ID] = r
	return r, nil
}

func (s *Store) GetReviewByRequest(_ context.Context, requestID string) (review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reviews {
		if r.RequestID == requestID {
			return r, nil
		}
	}
	return review.Review{}, notFound("review for request", requestID)
}

func (s *Store) ListReviewsByProfessional(_ context.Context, professionalID string, page storage.Page) ([]review.Review, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []review.Review
	for _, r := range s.reviews {
		if r.ProfessionalID == professionalID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return window(result, page), len(result), nil
}

func (s *Store) ListRatings(_ context.Context, professionalID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ratings []int
	for _, r := range s.reviews {
		if r.ProfessionalID == professionalID {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}
