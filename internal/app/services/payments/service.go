// Package payments charges deposits on accepted quotes and settles them from
// gateway webhooks.
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/payment"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// DefaultCurrency is charged when none is configured.
const DefaultCurrency = "eur"

// Notifier delivers payment notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
}

// Publisher emits domain events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// PaymentEvent is published on payment.paid and payment.failed.
type PaymentEvent struct {
	PaymentID string `json:"paymentId"`
	QuoteID   string `json:"quoteId"`
	RequestID string `json:"requestId"`
	ChargeID  string `json:"chargeId,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
}

// Service manages payments.
type Service struct {
	store     storage.PaymentStore
	quotes    storage.QuoteStore
	requests  storage.RequestStore
	gateway   Gateway
	currency  string
	notifier  Notifier
	publisher Publisher
	log       *logger.Logger
}

// New constructs the payment service. A nil gateway makes charges fail with
// 503.
func New(store storage.PaymentStore, quotes storage.QuoteStore, requests storage.RequestStore, gateway Gateway, currency string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Service{store: store, quotes: quotes, requests: requests, gateway: gateway, currency: currency, log: log}
}

// AttachDependencies wires notifications and the event publisher.
func (s *Service) AttachDependencies(notifier Notifier, publisher Publisher) {
	s.notifier = notifier
	s.publisher = publisher
}

// Configured reports whether a gateway is available.
func (s *Service) Configured() bool { return s.gateway != nil }

// FailedSince counts failed payments created after since.
func (s *Service) FailedSince(ctx context.Context, since time.Time) (int, error) {
	return s.store.CountPayments(ctx, payment.StatusFailed, since)
}

// CreateDepositPayment charges the card token for the deposit of an accepted
// quote, or for its total when no deposit is set.
func (s *Service) CreateDepositPayment(ctx context.Context, clientID, quoteID, cardToken string) (payment.Payment, error) {
	if strings.TrimSpace(cardToken) == "" {
		return payment.Payment{}, errors.Validation(map[string]string{"token": "card token is required"})
	}
	if s.gateway == nil {
		return payment.Payment{}, errors.Unavailable("payment gateway is not configured", nil)
	}
	q, err := s.quotes.GetQuote(ctx, quoteID)
	if err != nil {
		return payment.Payment{}, err
	}
	req, err := s.requests.GetRequest(ctx, q.RequestID)
	if err != nil {
		return payment.Payment{}, err
	}
	if req.ClientID != clientID {
		return payment.Payment{}, errors.Forbidden("Only the request owner can pay this quote")
	}
	if q.Status != quote.StatusAccepted {
		return payment.Payment{}, errors.BadRequest("quote %s is %s, only accepted quotes can be paid", quoteID, q.Status)
	}

	existing, err := s.store.ListPaymentsByRequest(ctx, req.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	for _, prev := range existing {
		if prev.QuoteID == q.ID && prev.Status != payment.StatusFailed {
			return payment.Payment{}, errors.Conflict("quote %s already has a %s payment", q.ID, strings.ToLower(string(prev.Status)))
		}
	}

	amount, kind := q.TotalAmount, payment.KindFull
	if q.DepositRequired && q.DepositAmount > 0 {
		amount, kind = q.DepositAmount, payment.KindDeposit
	}
	if amount <= 0 {
		return payment.Payment{}, errors.BadRequest("quote %s has nothing to pay", quoteID)
	}

	p, err := s.store.CreatePayment(ctx, payment.Payment{
		QuoteID:        q.ID,
		RequestID:      req.ID,
		ClientID:       clientID,
		ProfessionalID: q.ProfessionalID,
		Amount:         amount,
		Currency:       s.currency,
		Kind:           kind,
		Status:         payment.StatusPending,
	})
	if err != nil {
		return payment.Payment{}, err
	}

	charge, err := s.gateway.CreateCharge(ctx, ChargeRequest{
		Amount:      amount,
		Currency:    s.currency,
		CardToken:   cardToken,
		Description: fmt.Sprintf("%s %s", strings.ToLower(string(kind)), q.Title),
		Metadata:    map[string]string{"quote_id": q.ID, "payment_id": p.ID},
	})
	if err != nil {
		s.log.WithError(err).WithField("payment_id", p.ID).Warn("charge creation failed")
		if _, settleErr := s.settle(ctx, p, Charge{Status: ChargeFailed, FailureMessage: err.Error()}); settleErr != nil {
			s.log.WithError(settleErr).WithField("payment_id", p.ID).Error("failed payment not recorded")
		}
		return payment.Payment{}, errors.Upstream("payment gateway rejected the charge", err)
	}

	p.ChargeID = charge.ID
	return s.settle(ctx, p, charge)
}

// settle applies a charge outcome. Pending charges only store the charge id.
// Repeated outcomes are ignored.
func (s *Service) settle(ctx context.Context, p payment.Payment, charge Charge) (payment.Payment, error) {
	if charge.ID != "" {
		p.ChargeID = charge.ID
	}
	next := payment.StatusPending
	switch charge.Status {
	case ChargeSuccessful:
		next = payment.StatusCompleted
	case ChargeFailed:
		next = payment.StatusFailed
	}
	if p.Status == next && next != payment.StatusPending {
		return p, nil
	}
	p.Status = next
	if next == payment.StatusFailed {
		p.FailureReason = firstNonEmpty(charge.FailureMessage, charge.FailureCode, "charge failed")
	}
	updated, err := s.store.UpdatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, err
	}
	metrics.RecordPayment(string(next))
	s.log.WithField("payment_id", p.ID).
		WithField("charge_id", p.ChargeID).
		WithField("status", string(next)).
		Info("payment updated")

	if next == payment.StatusPending {
		return updated, nil
	}
	s.announce(ctx, updated)
	return updated, nil
}

func (s *Service) announce(ctx context.Context, p payment.Payment) {
	key := mq.RKPaymentPaid
	clientMsg := notification.Message{
		Type:     "PAYMENT_COMPLETED",
		Title:    "Pagamento completato",
		Content:  fmt.Sprintf("Il pagamento di %s è andato a buon fine", formatAmount(p.Amount, p.Currency)),
		Priority: notification.PriorityHigh,
	}
	proMsg := notification.Message{
		Type:     "PAYMENT_RECEIVED",
		Title:    "Pagamento ricevuto",
		Content:  fmt.Sprintf("Il cliente ha pagato %s", formatAmount(p.Amount, p.Currency)),
		Priority: notification.PriorityHigh,
	}
	if p.Status == payment.StatusFailed {
		key = mq.RKPaymentFailed
		clientMsg = notification.Message{
			Type:     "PAYMENT_FAILED",
			Title:    "Pagamento non riuscito",
			Content:  fmt.Sprintf("Il pagamento di %s non è andato a buon fine: %s", formatAmount(p.Amount, p.Currency), p.FailureReason),
			Priority: notification.PriorityHigh,
		}
		proMsg = notification.Message{
			Type:     "PAYMENT_FAILED",
			Title:    "Pagamento non riuscito",
			Content:  "Il pagamento del cliente non è andato a buon fine",
			Priority: notification.PriorityNormal,
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, key, PaymentEvent{
			PaymentID: p.ID,
			QuoteID:   p.QuoteID,
			RequestID: p.RequestID,
			ChargeID:  p.ChargeID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Kind:      string(p.Kind),
			Reason:    p.FailureReason,
		}); err != nil {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn(key + " publish failed")
		}
	}
	if s.notifier == nil {
		return
	}
	data := map[string]interface{}{"paymentId": p.ID, "requestId": p.RequestID, "quoteId": p.QuoteID}
	clientMsg.Data, proMsg.Data = data, data
	for userID, msg := range map[string]notification.Message{p.ClientID: clientMsg, p.ProfessionalID: proMsg} {
		if userID == "" {
			continue
		}
		if _, err := s.notifier.SendToUser(ctx, userID, msg); err != nil {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn("payment notification failed")
		}
	}
}

// HandleWebhook verifies eventID with the gateway and applies a completed
// charge to its payment. Other events are ignored.
func (s *Service) HandleWebhook(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return errors.BadRequest("missing event id")
	}
	if s.gateway == nil {
		return errors.Unavailable("payment gateway is not configured", nil)
	}
	ev, err := s.gateway.RetrieveEvent(ctx, eventID)
	if err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Warn("webhook event could not be verified")
		return errors.Unauthorized("webhook event could not be verified")
	}
	if ev.Key != EventChargeComplete || ev.Charge == nil {
		s.log.WithField("event_id", eventID).WithField("key", ev.Key).Debug("webhook event ignored")
		return nil
	}

	p, err := s.store.GetPaymentByCharge(ctx, ev.Charge.ID)
	if errors.Is(err, storage.ErrNotFound) && ev.Charge.Metadata["payment_id"] != "" {
		p, err = s.store.GetPayment(ctx, ev.Charge.Metadata["payment_id"])
	}
	if err != nil {
		return err
	}
	_, err = s.settle(ctx, p, *ev.Charge)
	return err
}

// ListByRequest returns the payments of a request to its parties and admins.
func (s *Service) ListByRequest(ctx context.Context, userID string, role user.Role, requestID string) ([]payment.Payment, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !role.IsAdmin() && req.ClientID != userID && req.ProfessionalID != userID {
		return nil, errors.Forbidden("You cannot view the payments of this request")
	}
	items, err := s.store.ListPaymentsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []payment.Payment{}
	}
	return items, nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d,%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
