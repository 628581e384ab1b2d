package payments

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/payment"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
)

type fakeGateway struct {
	status   string
	fail     error
	requests []ChargeRequest
	events   map[string]Event
}

func (g *fakeGateway) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	g.requests = append(g.requests, req)
	if g.fail != nil {
		return Charge{}, g.fail
	}
	return Charge{ID: "chrg_1", Status: g.status, Amount: req.Amount, Currency: req.Currency, Metadata: req.Metadata}, nil
}

func (g *fakeGateway) RetrieveEvent(_ context.Context, id string) (Event, error) {
	ev, ok := g.events[id]
	if !ok {
		return Event{}, errors.New("event not found")
	}
	return ev, nil
}

type recorder struct {
	published []string
	payloads  []interface{}
	sent      map[string]int
}

func (r *recorder) Publish(_ context.Context, key string, v interface{}) error {
	r.published = append(r.published, key)
	r.payloads = append(r.payloads, v)
	return nil
}

func (r *recorder) SendToUser(_ context.Context, userID string, _ notification.Message) (notification.Result, error) {
	r.sent[userID]++
	return notification.Result{Sent: 1}, nil
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	gateway *fakeGateway
	rec     *recorder
	quote   quote.Quote
}

func setup(t *testing.T, status string, deposit int64) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	req, err := store.CreateRequest(ctx, request.Request{Title: "Caldaia", ClientID: "client", Status: request.StatusPending})
	require.NoError(t, err)
	q, err := store.CreateQuote(ctx, quote.Quote{
		RequestID: req.ID, ProfessionalID: "pro", Title: "Riparazione", Status: quote.StatusPending,
		Totals:          quote.Totals{TotalAmount: 12200},
		DepositRequired: deposit > 0, DepositAmount: deposit,
	})
	require.NoError(t, err)
	q, _, err = store.AcceptQuote(ctx, q.ID, time.Now())
	require.NoError(t, err)

	gw := &fakeGateway{status: status, events: map[string]Event{}}
	rec := &recorder{sent: map[string]int{}}
	svc := New(store, store, store, gw, "EUR", nil)
	svc.AttachDependencies(rec, rec)
	return fixture{svc: svc, store: store, gateway: gw, rec: rec, quote: q}
}

func TestDepositChargedOnSuccess(t *testing.T) {
	f := setup(t, ChargeSuccessful, 3660)

	p, err := f.svc.CreateDepositPayment(context.Background(), "client", f.quote.ID, "tokn_test")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, payment.KindDeposit, p.Kind)
	assert.EqualValues(t, 3660, p.Amount)
	assert.Equal(t, "chrg_1", p.ChargeID)

	require.Len(t, f.gateway.requests, 1)
	sent := f.gateway.requests[0]
	assert.Equal(t, "eur", sent.Currency)
	assert.Equal(t, map[string]string{"quote_id": f.quote.ID, "payment_id": p.ID}, sent.Metadata)
	assert.Equal(t, []string{mq.RKPaymentPaid}, f.rec.published)
	require.Len(t, f.rec.payloads, 1)
	assert.Equal(t, PaymentEvent{
		PaymentID: p.ID, QuoteID: f.quote.ID, RequestID: f.quote.RequestID, ChargeID: "chrg_1",
		Amount: 3660, Currency: p.Currency, Kind: string(payment.KindDeposit),
	}, f.rec.payloads[0])
	assert.Equal(t, 1, f.rec.sent["client"])
	assert.Equal(t, 1, f.rec.sent["pro"])

	_, err = f.svc.CreateDepositPayment(context.Background(), "client", f.quote.ID, "tokn_test")
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))
}

func TestFullAmountWithoutDeposit(t *testing.T) {
	f := setup(t, ChargePending, 0)

	p, err := f.svc.CreateDepositPayment(context.Background(), "client", f.quote.ID, "tokn_test")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, payment.KindFull, p.Kind)
	assert.EqualValues(t, 12200, p.Amount)
	assert.Empty(t, f.rec.published, "pending charges wait for the webhook")
}

func TestChargeErrors(t *testing.T) {
	f := setup(t, ChargeFailed, 0)
	ctx := context.Background()

	p, err := f.svc.CreateDepositPayment(ctx, "client", f.quote.ID, "tokn_test")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, []string{mq.RKPaymentFailed}, f.rec.published)

	f.gateway.fail = errors.New("card declined")
	_, err = f.svc.CreateDepositPayment(ctx, "client", f.quote.ID, "tokn_test")
	assert.Equal(t, http.StatusBadGateway, errors.HTTPStatusFor(err))
	failed, err := f.svc.FailedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}

func TestCreateRejections(t *testing.T) {
	f := setup(t, ChargeSuccessful, 0)
	ctx := context.Background()

	_, err := f.svc.CreateDepositPayment(ctx, "someone", f.quote.ID, "tokn")
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))
	_, err = f.svc.CreateDepositPayment(ctx, "client", f.quote.ID, " ")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	pending, err := f.store.CreateQuote(ctx, quote.Quote{RequestID: f.quote.RequestID, ProfessionalID: "pro", Status: quote.StatusPending})
	require.NoError(t, err)
	_, err = f.svc.CreateDepositPayment(ctx, "client", pending.ID, "tokn")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	unconfigured := New(f.store, f.store, f.store, nil, "", nil)
	_, err = unconfigured.CreateDepositPayment(ctx, "client", f.quote.ID, "tokn")
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatusFor(err))
}

func TestWebhookSettlesPendingCharge(t *testing.T) {
	f := setup(t, ChargePending, 0)
	ctx := context.Background()
	p, err := f.svc.CreateDepositPayment(ctx, "client", f.quote.ID, "tokn_test")
	require.NoError(t, err)

	f.gateway.events["evnt_ok"] = Event{ID: "evnt_ok", Key: EventChargeComplete, Charge: &Charge{ID: "chrg_1", Status: ChargeSuccessful}}
	f.gateway.events["evnt_other"] = Event{ID: "evnt_other", Key: "customer.create"}

	require.NoError(t, f.svc.HandleWebhook(ctx, "evnt_other"))
	require.NoError(t, f.svc.HandleWebhook(ctx, "evnt_ok"))
	require.NoError(t, f.svc.HandleWebhook(ctx, "evnt_ok"))

	stored, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, stored.Status)
	assert.Equal(t, []string{mq.RKPaymentPaid}, f.rec.published, "duplicate events are ignored")

	err = f.svc.HandleWebhook(ctx, "evnt_forged")
	assert.Equal(t, http.StatusUnauthorized, errors.HTTPStatusFor(err))
}

func TestListByRequest(t *testing.T) {
	f := setup(t, ChargeSuccessful, 0)
	ctx := context.Background()
	_, err := f.svc.CreateDepositPayment(ctx, "client", f.quote.ID, "tokn")
	require.NoError(t, err)

	items, err := f.svc.ListByRequest(ctx, "pro", user.RoleProfessional, f.quote.RequestID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	_, err = f.svc.ListByRequest(ctx, "stranger", user.RoleClient, f.quote.RequestID)
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))
}
