package payment

import (
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// Status is the state of a payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(s)) }

func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*s = Status(v)
	return err
}

// Kind distinguishes deposits from full payments.
type Kind string

const (
	KindDeposit Kind = "DEPOSIT"
	KindFull    Kind = "FULL"
)

func (k Kind) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(k)) }

func (k *Kind) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*k = Kind(v)
	return err
}

// Payment is a charge against an accepted quote.
type Payment struct {
	ID             string    `json:"id"`
	QuoteID        string    `json:"quoteId"`
	RequestID      string    `json:"requestId"`
	ClientID       string    `json:"clientId"`
	ProfessionalID string    `json:"professionalId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Kind           Kind      `json:"kind"`
	Status         Status    `json:"status"`
	ChargeID       string    `json:"chargeId,omitempty"`
	FailureReason  string    `json:"failureReason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
