// Package quotes manages professionals' priced offers, their revisions,
// templates and the deposit rules applied to them.
package quotes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Notifier delivers quote notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
}

// Publisher emits domain events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// Input is the payload of a new or updated quote.
type Input struct {
	RequestID       string       `json:"requestId"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Items           []quote.Item `json:"items"`
	ValidUntil      *time.Time   `json:"validUntil"`
	DepositRequired *bool        `json:"depositRequired"`
	DepositAmount   *int64       `json:"depositAmount"`
	Terms           string       `json:"terms"`
	Notes           string       `json:"notes"`
	// Reason is recorded on the revision created by an update.
	Reason string `json:"reason"`
}

// AcceptedEvent is published on quote.accepted.
type AcceptedEvent struct {
	QuoteID        string `json:"quoteId"`
	RequestID      string `json:"requestId"`
	ProfessionalID string `json:"professionalId"`
	ClientID       string `json:"clientId"`
	TotalAmount    int64  `json:"totalAmount"`
	DepositAmount  int64  `json:"depositAmount"`
}

// Service manages quotes.
type Service struct {
	store     storage.QuoteStore
	requests  storage.RequestStore
	notifier  Notifier
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the quote service.
func New(store storage.QuoteStore, requests storage.RequestStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("quotes")
	}
	return &Service{store: store, requests: requests, log: log, now: time.Now}
}

// AttachDependencies wires notifications and the event publisher. Either may
// be nil.
func (s *Service) AttachDependencies(notifier Notifier, publisher Publisher) {
	s.notifier = notifier
	s.publisher = publisher
}

func validateItems(items []quote.Item) error {
	if len(items) == 0 {
		return errors.Validation(map[string]string{"items": "at least one item is required"})
	}
	fields := map[string]string{}
	for i, item := range items {
		key := fmt.Sprintf("items[%d]", i)
		switch {
		case strings.TrimSpace(item.Description) == "":
			fields[key] = "description is required"
		case item.Quantity <= 0:
			fields[key] = "quantity must be positive"
		case item.UnitPrice < 0:
			fields[key] = "unit price cannot be negative"
		case item.Discount < 0:
			fields[key] = "discount cannot be negative"
		case item.Discount > item.Gross():
			fields[key] = "discount cannot exceed the item total"
		case item.TaxRate != nil && (*item.TaxRate < 0 || *item.TaxRate > 1):
			fields[key] = "tax rate must be between 0 and 1"
		}
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, userID string, msg notification.Message) {
	if s.notifier == nil || userID == "" {
		return
	}
	if _, err := s.notifier.SendToUser(ctx, userID, msg); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("quote notification failed")
	}
}

func (s *Service) revision(ctx context.Context, q quote.Quote, userID, reason string) {
	if _, err := s.store.CreateRevision(ctx, quote.Revision{
		QuoteID: q.ID,
		Version: q.Version,
		UserID:  userID,
		Reason:  reason,
		Items:   q.Items,
		Totals:  q.Totals,
	}); err != nil {
		s.log.WithError(err).WithField("quote_id", q.ID).Warn("quote revision not recorded")
	}
}

// Create stores a PENDING quote from a professional on an open request.
func (s *Service) Create(ctx context.Context, professionalID string, in Input) (quote.Quote, error) {
	if strings.TrimSpace(in.Title) == "" {
		return quote.Quote{}, errors.Validation(map[string]string{"title": "title is required"})
	}
	if err := validateItems(in.Items); err != nil {
		return quote.Quote{}, err
	}
	req, err := s.requests.GetRequest(ctx, in.RequestID)
	if err != nil {
		return quote.Quote{}, err
	}
	if req.Status.Terminal() {
		return quote.Quote{}, errors.BadRequest("request %s is %s and no longer accepts quotes", req.ID, req.Status)
	}
	if req.ProfessionalID != "" && req.ProfessionalID != professionalID {
		return quote.Quote{}, errors.Forbidden("The request is assigned to another professional")
	}

	q := quote.Quote{
		RequestID:       req.ID,
		ProfessionalID:  professionalID,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		Items:           in.Items,
		Totals:          quote.ComputeTotals(in.Items),
		Status:          quote.StatusPending,
		Version:         1,
		ValidUntil:      in.ValidUntil,
		DepositRequired: in.DepositRequired != nil && *in.DepositRequired,
		Terms:           in.Terms,
		Notes:           in.Notes,
	}
	if err := s.applyDeposit(ctx, &q, req, in.DepositAmount); err != nil {
		return quote.Quote{}, err
	}

	created, err := s.store.CreateQuote(ctx, q)
	if err != nil {
		return quote.Quote{}, err
	}
	s.revision(ctx, created, professionalID, "initial version")
	s.log.WithField("quote_id", created.ID).
		WithField("request_id", req.ID).
		WithField("total", created.TotalAmount).
		Info("quote created")

	s.notify(ctx, req.ClientID, notification.Message{
		Type:     "NEW_QUOTE",
		Title:    "Nuovo preventivo",
		Content:  fmt.Sprintf("Hai ricevuto un preventivo di %s per \"%s\"", FormatEuro(created.TotalAmount), req.Title),
		Priority: notification.PriorityHigh,
		Data:     map[string]interface{}{"requestId": req.ID, "quoteId": created.ID},
	})
	return created, nil
}

func (s *Service) applyDeposit(ctx context.Context, q *quote.Quote, req request.Request, supplied *int64) error {
	if !q.DepositRequired {
		q.DepositAmount = 0
		return nil
	}
	if supplied != nil {
		if *supplied < 0 || *supplied > q.TotalAmount {
			return errors.Validation(map[string]string{"depositAmount": "deposit must be between 0 and the quote total"})
		}
		q.DepositAmount = *supplied
		return nil
	}
	amount, err := s.CalculateDeposit(ctx, req.CategoryID, req.SubcategoryID, q.TotalAmount)
	if err != nil {
		return err
	}
	q.DepositAmount = amount
	return nil
}

// Get returns a quote visible to the actor.
func (s *Service) Get(ctx context.Context, userID string, role user.Role, id string) (quote.Quote, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return quote.Quote{}, err
	}
	if role.IsAdmin() || q.ProfessionalID == userID {
		return q, nil
	}
	req, err := s.requests.GetRequest(ctx, q.RequestID)
	if err != nil {
		return quote.Quote{}, err
	}
	if req.ClientID != userID {
		return quote.Quote{}, errors.Forbidden("You cannot view this quote")
	}
	return q, nil
}

// ListByRequest returns the quotes of a request: every quote for the client
// and admins, own quotes for a professional.
func (s *Service) ListByRequest(ctx context.Context, userID string, role user.Role, requestID string) ([]quote.Quote, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	quotes, err := s.store.ListQuotesByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if role.IsAdmin() || req.ClientID == userID {
		return quotes, nil
	}
	if role != user.RoleProfessional {
		return nil, errors.Forbidden("You cannot view the quotes of this request")
	}
	own := make([]quote.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.ProfessionalID == userID {
			own = append(own, q)
		}
	}
	return own, nil
}

// HasQuoted reports whether the professional sent a quote for the request.
func (s *Service) HasQuoted(ctx context.Context, requestID, professionalID string) (bool, error) {
	quotes, err := s.store.ListQuotesByRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	for _, q := range quotes {
		if q.ProfessionalID == professionalID && q.Status != quote.StatusDraft {
			return true, nil
		}
	}
	return false, nil
}

// Update revises a DRAFT or PENDING quote of the professional.
func (s *Service) Update(ctx context.Context, professionalID, id string, in Input) (quote.Quote, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return quote.Quote{}, err
	}
	if q.ProfessionalID != professionalID {
		return quote.Quote{}, errors.Forbidden("Only the author can modify this quote")
	}
	if q.Status != quote.StatusDraft && q.Status != quote.StatusPending {
		return quote.Quote{}, errors.BadRequest("quote %s cannot be modified in status %s", id, q.Status)
	}
	if in.Items != nil {
		if err := validateItems(in.Items); err != nil {
			return quote.Quote{}, err
		}
		q.Items = in.Items
	}
	if title := strings.TrimSpace(in.Title); title != "" {
		q.Title = title
	}
	if in.Description != "" {
		q.Description = strings.TrimSpace(in.Description)
	}
	if in.ValidUntil != nil {
		q.ValidUntil = in.ValidUntil
	}
	if in.Terms != "" {
		q.Terms = in.Terms
	}
	if in.Notes != "" {
		q.Notes = in.Notes
	}
	q.Totals = quote.ComputeTotals(q.Items)
	if in.DepositRequired != nil {
		q.DepositRequired = *in.DepositRequired
	}
	req, err := s.requests.GetRequest(ctx, q.RequestID)
	if err != nil {
		return quote.Quote{}, err
	}
	if err := s.applyDeposit(ctx, &q, req, in.DepositAmount); err != nil {
		return quote.Quote{}, err
	}
	q.Version++

	updated, err := s.store.UpdateQuote(ctx, q)
	if err != nil {
		return quote.Quote{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "quote updated"
	}
	s.revision(ctx, updated, professionalID, reason)
	s.log.WithField("quote_id", id).WithField("version", updated.Version).Info("quote updated")

	s.notify(ctx, req.ClientID, notification.Message{
		Type:     "QUOTE_UPDATED",
		Title:    "Preventivo aggiornato",
		Content:  fmt.Sprintf("Il preventivo \"%s\" è stato aggiornato (versione %d)", updated.Title, updated.Version),
		Priority: notification.PriorityNormal,
		Data:     map[string]interface{}{"requestId": req.ID, "quoteId": id},
	})
	return updated, nil
}

func (s *Service) clientQuote(ctx context.Context, clientID, id string) (quote.Quote, request.Request, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return quote.Quote{}, request.Request{}, err
	}
	req, err := s.requests.GetRequest(ctx, q.RequestID)
	if err != nil {
		return quote.Quote{}, request.Request{}, err
	}
	if req.ClientID != clientID {
		return quote.Quote{}, request.Request{}, errors.Forbidden("Only the request owner can decide on this quote")
	}
	if q.Status != quote.StatusPending {
		return quote.Quote{}, request.Request{}, errors.BadRequest("quote %s is %s", id, q.Status)
	}
	return q, req, nil
}

// Accept selects the quote, rejects its competitors and assigns the request.
func (s *Service) Accept(ctx context.Context, clientID, id string) (quote.Quote, error) {
	q, req, err := s.clientQuote(ctx, clientID, id)
	if err != nil {
		return quote.Quote{}, err
	}
	if !req.Status.AcceptsQuotes() {
		return quote.Quote{}, errors.Conflict("request %s is %s and no longer accepts quotes", req.ID, req.Status)
	}
	now := s.now().UTC()
	if q.Expired(now) {
		return quote.Quote{}, errors.BadRequest("quote %s expired on %s", id, q.ValidUntil.Format("2006-01-02"))
	}
	accepted, req, err := s.store.AcceptQuote(ctx, id, now)
	if err != nil {
		return quote.Quote{}, err
	}
	s.log.WithField("quote_id", id).
		WithField("request_id", req.ID).
		WithField("professional_id", accepted.ProfessionalID).
		Info("quote accepted")

	s.notify(ctx, accepted.ProfessionalID, notification.Message{
		Type:     "QUOTE_ACCEPTED",
		Title:    "Preventivo accettato",
		Content:  fmt.Sprintf("Il tuo preventivo \"%s\" per \"%s\" è stato accettato", accepted.Title, req.Title),
		Priority: notification.PriorityHigh,
		Data:     map[string]interface{}{"requestId": req.ID, "quoteId": id},
	})
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, mq.RKQuoteAccepted, AcceptedEvent{
			QuoteID:        accepted.ID,
			RequestID:      req.ID,
			ProfessionalID: accepted.ProfessionalID,
			ClientID:       req.ClientID,
			TotalAmount:    accepted.TotalAmount,
			DepositAmount:  accepted.DepositAmount,
		}); err != nil {
			s.log.WithError(err).WithField("quote_id", id).Warn("quote.accepted publish failed")
		}
	}
	return accepted, nil
}

// Reject declines a PENDING quote.
func (s *Service) Reject(ctx context.Context, clientID, id, reason string) (quote.Quote, error) {
	q, req, err := s.clientQuote(ctx, clientID, id)
	if err != nil {
		return quote.Quote{}, err
	}
	now := s.now().UTC()
	q.Status = quote.StatusRejected
	q.RejectedAt = &now
	q.RejectionReason = strings.TrimSpace(reason)
	updated, err := s.store.UpdateQuote(ctx, q)
	if err != nil {
		return quote.Quote{}, err
	}
	s.log.WithField("quote_id", id).Info("quote rejected")

	content := fmt.Sprintf("Il tuo preventivo \"%s\" per \"%s\" è stato rifiutato", q.Title, req.Title)
	if q.RejectionReason != "" {
		content += ": " + q.RejectionReason
	}
	s.notify(ctx, q.ProfessionalID, notification.Message{
		Type:     "QUOTE_REJECTED",
		Title:    "Preventivo rifiutato",
		Content:  content,
		Priority: notification.PriorityNormal,
		Data:     map[string]interface{}{"requestId": req.ID, "quoteId": id},
	})
	return updated, nil
}

// Versions lists the revisions of a quote, newest first.
func (s *Service) Versions(ctx context.Context, userID string, role user.Role, id string) ([]quote.Revision, error) {
	if _, err := s.Get(ctx, userID, role, id); err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(revs, func(i, j int) bool { return revs[i].Version > revs[j].Version })
	return revs, nil
}

// Compare summarises the PENDING and ACCEPTED quotes of a request by total.
func (s *Service) Compare(ctx context.Context, clientID string, role user.Role, requestID string) (quote.Comparison, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return quote.Comparison{}, err
	}
	if req.ClientID != clientID && !role.IsAdmin() {
		return quote.Comparison{}, errors.Forbidden("Only the request owner can compare quotes")
	}
	all, err := s.store.ListQuotesByRequest(ctx, requestID)
	if err != nil {
		return quote.Comparison{}, err
	}
	return Compare(all), nil
}

// Compare keeps PENDING and ACCEPTED quotes sorted by total and aggregates
// them.
func Compare(all []quote.Quote) quote.Comparison {
	cmp := quote.Comparison{Quotes: make([]quote.Quote, 0, len(all))}
	for _, q := range all {
		if q.Status == quote.StatusPending || q.Status == quote.StatusAccepted {
			cmp.Quotes = append(cmp.Quotes, q)
		}
	}
	sort.SliceStable(cmp.Quotes, func(i, j int) bool { return cmp.Quotes[i].TotalAmount < cmp.Quotes[j].TotalAmount })
	if len(cmp.Quotes) == 0 {
		return cmp
	}
	var sum int64
	for _, q := range cmp.Quotes {
		sum += q.TotalAmount
	}
	cmp.Stats = quote.ComparisonStats{
		Count:     len(cmp.Quotes),
		MinAmount: cmp.Quotes[0].TotalAmount,
		MaxAmount: cmp.Quotes[len(cmp.Quotes)-1].TotalAmount,
		AvgAmount: sum / int64(len(cmp.Quotes)),
	}
	return cmp
}

// FormatEuro renders cents as "€ 1.234,56".
func FormatEuro(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s€ %s,%02d", sign, grouped.String(), cents%100)
}
