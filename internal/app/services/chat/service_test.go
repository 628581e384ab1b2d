package chat

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type recorder struct {
	sent   []notification.Message
	to     []string
	events []string
}

func (r *recorder) SendToUser(_ context.Context, userID string, msg notification.Message) (notification.Result, error) {
	r.to = append(r.to, userID)
	r.sent = append(r.sent, msg)
	return notification.Result{Sent: 1}, nil
}

func (r *recorder) EmitToRequest(_ string, event string, _ interface{}) {
	r.events = append(r.events, event)
}

type fixture struct {
	svc   *Service
	store *memory.Store
	rec   *recorder
	req   request.Request
}

func newFixture(t *testing.T, status request.Status) fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	_, err := store.CreateUser(ctx, user.User{ID: "client", Email: "mario@example.it", FirstName: "Mario", LastName: "Rossi", Role: user.RoleClient})
	require.NoError(t, err)
	req, err := store.CreateRequest(ctx, request.Request{
		Title: "Perdita lavandino", ClientID: "client", ProfessionalID: "pro", Status: status,
	})
	require.NoError(t, err)
	rec := &recorder{}
	return fixture{svc: New(store, store, store, rec, nil), store: store, rec: rec, req: req}
}

func TestCanAccess(t *testing.T) {
	f := newFixture(t, request.StatusAssigned)
	ctx := context.Background()

	assert.True(t, f.svc.CanAccess(ctx, "client", string(user.RoleClient), f.req.ID))
	assert.True(t, f.svc.CanAccess(ctx, "pro", string(user.RoleProfessional), f.req.ID))
	assert.True(t, f.svc.CanAccess(ctx, "someone", string(user.RoleAdmin), f.req.ID))
	assert.False(t, f.svc.CanAccess(ctx, "other-pro", string(user.RoleProfessional), f.req.ID))
	assert.False(t, f.svc.CanAccess(ctx, "client", string(user.RoleClient), "missing"))

	active, err := f.svc.IsActive(ctx, f.req.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSendAndRead(t *testing.T) {
	f := newFixture(t, request.StatusInProgress)
	ctx := context.Background()

	first, err := f.svc.Send(ctx, "client", user.RoleClient, f.req.ID, "  Buongiorno  ")
	require.NoError(t, err)
	assert.Equal(t, "Buongiorno", first.Content)
	assert.Equal(t, []string{"pro"}, f.rec.to)
	assert.Equal(t, notification.PriorityLow, f.rec.sent[0].Priority)
	assert.Contains(t, f.rec.sent[0].Content, "Mario Rossi")
	assert.Contains(t, f.rec.events, EventMessage)

	_, err = f.svc.Send(ctx, "pro", user.RoleProfessional, f.req.ID, "Arrivo alle 10")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, "pro", user.RoleProfessional, f.req.ID, "Porto i ricambi")
	require.NoError(t, err)

	msgs, total, err := f.svc.Messages(ctx, "client", user.RoleClient, f.req.ID, storage.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Buongiorno", msgs[0].Content)
	assert.Equal(t, "Porto i ricambi", msgs[2].Content)

	unread, err := f.svc.UnreadCount(ctx, "client", user.RoleClient, f.req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
	n, err := f.svc.MarkRead(ctx, "client", user.RoleClient, f.req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	unread, err = f.svc.UnreadCount(ctx, "client", user.RoleClient, f.req.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
	assert.Contains(t, f.rec.events, EventRead)
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t, request.StatusAssigned)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "client", user.RoleClient, f.req.ID, "   ")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
	_, err = f.svc.Send(ctx, "client", user.RoleClient, f.req.ID, strings.Repeat("x", MaxContentLength+1))
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
	_, err = f.svc.Send(ctx, "intruder", user.RoleProfessional, f.req.ID, "ciao")
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))

	closed := newFixture(t, request.StatusCompleted)
	_, err = closed.svc.Send(ctx, "client", user.RoleClient, closed.req.ID, "ciao")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
	active, err := closed.svc.IsActive(ctx, closed.req.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t, request.StatusInProgress)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, "client", user.RoleClient, f.req.ID, "Ci vediamo lunedì")
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, "pro", msg.ID, "modificato")
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))

	edited, err := f.svc.Update(ctx, "client", msg.ID, "Ci vediamo martedì")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, "Ci vediamo martedì", edited.Content)

	require.NoError(t, f.svc.Delete(ctx, "client", msg.ID))
	msgs, _, err := f.svc.Messages(ctx, "pro", user.RoleProfessional, f.req.ID, storage.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, chat.DeletedPlaceholder, msgs[0].Content)

	err = f.svc.Delete(ctx, "client", msg.ID)
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))
	assert.Contains(t, f.rec.events, EventUpdated)
	assert.Contains(t, f.rec.events, EventDeleted)
}

func TestClose(t *testing.T) {
	f := newFixture(t, request.StatusCancelled)
	ctx := context.Background()

	require.NoError(t, f.svc.Close(ctx, f.req.ID, request.StatusCancelled))
	msgs, _, err := f.svc.Messages(ctx, "client", user.RoleClient, f.req.ID, storage.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageSystem, msgs[0].Type)
	assert.Contains(t, msgs[0].Content, "annullata")

	_, err = f.svc.Update(ctx, "system", msgs[0].ID, "hack")
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))
}
