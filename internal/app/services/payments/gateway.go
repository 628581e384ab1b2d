package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Charge outcomes reported by the gateway.
const (
	ChargeSuccessful = "successful"
	ChargeFailed     = "failed"
	ChargePending    = "pending"
)

// EventChargeComplete is the webhook event carrying a final charge state.
const EventChargeComplete = "charge.complete"

// ChargeRequest asks the gateway to charge a card token.
type ChargeRequest struct {
	Amount      int64
	Currency    string
	CardToken   string
	Description string
	Metadata    map[string]string
}

// Charge is the gateway view of a charge.
type Charge struct {
	ID             string
	Status         string
	Amount         int64
	Currency       string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]string
}

// Event is a verified webhook event.
type Event struct {
	ID     string
	Key    string
	Charge *Charge
}

// Gateway charges cards and verifies webhook events.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	RetrieveEvent(ctx context.Context, eventID string) (Event, error)
}

// OmiseGateway implements Gateway on the Omise API.
type OmiseGateway struct {
	client *omise.Client
}

// NewOmiseGateway builds a gateway from the account keys.
func NewOmiseGateway(publicKey, secretKey string) (*OmiseGateway, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	client.SetDebug(false)
	return &OmiseGateway{client: client}, nil
}

func (g *OmiseGateway) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	metadata := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Card:        req.CardToken,
		Description: req.Description,
		Metadata:    metadata,
	}); err != nil {
		return Charge{}, err
	}
	return fromOmise(ch), nil
}

func (g *OmiseGateway) RetrieveEvent(_ context.Context, eventID string) (Event, error) {
	ev := &omise.Event{}
	if err := g.client.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return Event{}, err
	}
	out := Event{ID: ev.ID, Key: ev.Key}
	if ev.Key != EventChargeComplete {
		return out, nil
	}
	// Event data is untyped; round-trip it through JSON to read the charge.
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return Event{}, fmt.Errorf("encode event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Event{}, fmt.Errorf("decode charge: %w", err)
	}
	charge := fromOmise(&ch)
	out.Charge = &charge
	return out, nil
}

func fromOmise(ch *omise.Charge) Charge {
	out := Charge{
		ID:       ch.ID,
		Status:   string(ch.Status),
		Amount:   ch.Amount,
		Currency: ch.Currency,
		Metadata: map[string]string{},
	}
	if ch.FailureCode != nil {
		out.FailureCode = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		out.FailureMessage = *ch.FailureMessage
	}
	for k, v := range ch.Metadata {
		if s, ok := v.(string); ok {
			out.Metadata[k] = s
		}
	}
	return out
}
