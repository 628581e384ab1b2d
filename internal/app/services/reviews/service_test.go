package reviews

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type recorder struct{ sent []string }

func (r *recorder) SendToUser(_ context.Context, userID string, _ notification.Message) (notification.Result, error) {
	r.sent = append(r.sent, userID)
	return notification.Result{Sent: 1}, nil
}

func seedRequest(t *testing.T, store *memory.Store, status request.Status, professionalID string) request.Request {
	t.Helper()
	req, err := store.CreateRequest(context.Background(), request.Request{
		Title: "Tinteggiatura", ClientID: "client", ProfessionalID: professionalID, Status: status,
	})
	require.NoError(t, err)
	return req
}

func TestCreate(t *testing.T) {
	store := memory.New()
	rec := &recorder{}
	svc := New(store, store, rec, nil)
	ctx := context.Background()
	done := seedRequest(t, store, request.StatusCompleted, "pro")

	r, err := svc.Create(ctx, "client", done.ID, 5, "  Ottimo lavoro ")
	require.NoError(t, err)
	assert.Equal(t, "pro", r.ProfessionalID)
	assert.Equal(t, "Ottimo lavoro", r.Comment)
	assert.Equal(t, []string{"pro"}, rec.sent)

	_, err = svc.Create(ctx, "client", done.ID, 4, "")
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))
}

func TestCreateRejections(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil)
	ctx := context.Background()
	open := seedRequest(t, store, request.StatusInProgress, "pro")
	unassigned := seedRequest(t, store, request.StatusCompleted, "")
	done := seedRequest(t, store, request.StatusCompleted, "pro")

	cases := []struct {
		name      string
		clientID  string
		requestID string
		rating    int
		comment   string
		status    int
	}{
		{"rating too low", "client", done.ID, 0, "", http.StatusBadRequest},
		{"rating too high", "client", done.ID, 6, "", http.StatusBadRequest},
		{"comment too long", "client", done.ID, 3, strings.Repeat("a", 2001), http.StatusBadRequest},
		{"not completed", "client", open.ID, 3, "", http.StatusBadRequest},
		{"no professional", "client", unassigned.ID, 3, "", http.StatusBadRequest},
		{"not the owner", "other", done.ID, 3, "", http.StatusForbidden},
		{"missing request", "client", "nope", 3, "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.clientID, tc.requestID, tc.rating, tc.comment)
			assert.Equal(t, tc.status, errors.HTTPStatusFor(err))
		})
	}
}

func TestSummaryAndListing(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil)
	ctx := context.Background()
	for _, rating := range []int{5, 4, 4} {
		req := seedRequest(t, store, request.StatusCompleted, "pro")
		_, err := svc.Create(ctx, "client", req.ID, rating, "")
		require.NoError(t, err)
	}

	sum, err := svc.Summary(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 4.3, sum.Average)
	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 0, 4: 2, 5: 1}, sum.Distribution)

	items, total, err := svc.ListForProfessional(ctx, "pro", storage.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)

	empty := Summarize("nobody", nil)
	assert.Zero(t, empty.Average)
	assert.Len(t, empty.Distribution, 5)
}
