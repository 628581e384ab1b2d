// Package reviews stores client ratings of completed requests.
package reviews

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/review"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Notifier delivers review notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
}

// Service manages reviews.
type Service struct {
	store    storage.ReviewStore
	requests storage.RequestStore
	notifier Notifier
	log      *logger.Logger
}

// New constructs the review service. notifier may be nil.
func New(store storage.ReviewStore, requests storage.RequestStore, notifier Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reviews")
	}
	return &Service{store: store, requests: requests, notifier: notifier, log: log}
}

// Create records the client's review of a completed request.
func (s *Service) Create(ctx context.Context, clientID, requestID string, rating int, comment string) (review.Review, error) {
	comment = strings.TrimSpace(comment)
	fields := map[string]string{}
	if rating < 1 || rating > 5 {
		fields["rating"] = "rating must be between 1 and 5"
	}
	if utf8.RuneCountInString(comment) > review.MaxCommentLength {
		fields["comment"] = fmt.Sprintf("comment must be at most %d characters", review.MaxCommentLength)
	}
	if len(fields) > 0 {
		return review.Review{}, errors.Validation(fields)
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return review.Review{}, err
	}
	if req.ClientID != clientID {
		return review.Review{}, errors.Forbidden("Only the request owner can review it")
	}
	if req.Status != request.StatusCompleted {
		return review.Review{}, errors.BadRequest("request %s is not completed", requestID)
	}
	if req.ProfessionalID == "" {
		return review.Review{}, errors.BadRequest("request %s has no professional to review", requestID)
	}
	if _, err := s.store.GetReviewByRequest(ctx, requestID); err == nil {
		return review.Review{}, errors.Conflict("request %s has already been reviewed", requestID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return review.Review{}, err
	}

	created, err := s.store.CreateReview(ctx, review.Review{
		RequestID:      requestID,
		ClientID:       clientID,
		ProfessionalID: req.ProfessionalID,
		Rating:         rating,
		Comment:        comment,
	})
	if err != nil {
		return review.Review{}, err
	}
	s.log.WithField("review_id", created.ID).WithField("rating", rating).Info("review created")

	if s.notifier != nil {
		if _, err := s.notifier.SendToUser(ctx, req.ProfessionalID, notification.Message{
			Type:     "NEW_REVIEW",
			Title:    "Nuova recensione",
			Content:  fmt.Sprintf("Hai ricevuto una recensione da %d stelle per \"%s\"", rating, req.Title),
			Priority: notification.PriorityNormal,
			Data:     map[string]interface{}{"requestId": requestID, "reviewId": created.ID},
		}); err != nil {
			s.log.WithError(err).WithField("review_id", created.ID).Warn("review notification failed")
		}
	}
	return created, nil
}

// ListForProfessional pages a professional's reviews, newest first.
func (s *Service) ListForProfessional(ctx context.Context, professionalID string, page storage.Page) ([]review.Review, int, error) {
	return s.store.ListReviewsByProfessional(ctx, professionalID, page)
}

// Summary aggregates a professional's ratings.
func (s *Service) Summary(ctx context.Context, professionalID string) (review.Summary, error) {
	ratings, err := s.store.ListRatings(ctx, professionalID)
	if err != nil {
		return review.Summary{}, err
	}
	return Summarize(professionalID, ratings), nil
}

// Summarize computes the average to one decimal and the 1..5 distribution.
func Summarize(professionalID string, ratings []int) review.Summary {
	sum := review.Summary{ProfessionalID: professionalID, Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	total := 0
	for _, r := range ratings {
		if r < 1 || r > 5 {
			continue
		}
		sum.Distribution[r]++
		sum.Count++
		total += r
	}
	if sum.Count > 0 {
		sum.Average = math.Round(float64(total)/float64(sum.Count)*10) / 10
	}
	return sum
}
