package aichat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type fakeGenerator struct {
	prompts []Prompt
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("risposta %d", len(g.prompts)), nil
}

func TestAsk(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	kb := knowledge.New(store, nil, nil, nil)
	_, err := kb.Create(ctx, "admin", knowledge.ArticleInput{
		Title: "Pagamento acconto", Content: "L'acconto si paga con carta dopo aver accettato il preventivo.", Published: true,
	})
	require.NoError(t, err)

	gen := &fakeGenerator{}
	svc := New(store, kb, store, gen, Options{MaxOutputTokens: 512, Temperature: 0.2}, nil)

	answer, err := svc.Ask(ctx, "u1", "  Come pago l'acconto?  ", "")
	require.NoError(t, err)
	assert.Equal(t, "risposta 1", answer.Reply)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "Pagamento acconto", answer.Sources[0].Title)
	assert.Equal(t, chat.AIRoleAssistant, answer.Message.Role)

	require.Len(t, gen.prompts, 1)
	first := gen.prompts[0]
	assert.Equal(t, "Come pago l'acconto?", first.Message)
	assert.Equal(t, 512, first.MaxOutputTokens)
	assert.Contains(t, first.System, "italiano")
	assert.Contains(t, first.System, "Pagamento acconto")
	assert.Empty(t, first.History)

	_, err = svc.Ask(ctx, "u1", "Grazie", "")
	require.NoError(t, err)
	assert.Len(t, gen.prompts[1].History, 2)

	history, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, chat.AIRoleUser, history[0].Role)
	assert.Equal(t, "risposta 2", history[3].Content)

	require.NoError(t, svc.ClearHistory(ctx, "u1"))
	history, err = svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskHistoryWindow(t *testing.T) {
	store := memory.New()
	gen := &fakeGenerator{}
	svc := New(store, nil, nil, gen, Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := svc.Ask(ctx, "u1", fmt.Sprintf("domanda %d", i), "")
		require.NoError(t, err)
	}
	assert.Len(t, gen.prompts[6].History, HistoryTurns)
}

func TestAskRequestContext(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	req, err := store.CreateRequest(ctx, request.Request{
		Title: "Caldaia in blocco", ClientID: "client", Status: request.StatusPending, Priority: request.PriorityHigh, City: "Milano",
	})
	require.NoError(t, err)
	gen := &fakeGenerator{}
	svc := New(store, nil, store, gen, Options{}, nil)

	_, err = svc.Ask(ctx, "client", "Quando arriva il tecnico?", req.ID)
	require.NoError(t, err)
	assert.Contains(t, gen.prompts[0].System, "Caldaia in blocco")

	_, err = svc.Ask(ctx, "stranger", "Quando arriva il tecnico?", req.ID)
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusFor(err))
}

func TestAskRejections(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := New(store, nil, nil, nil, Options{}, nil).Ask(ctx, "u1", "ciao", "")
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatusFor(err))

	gen := &fakeGenerator{}
	svc := New(store, nil, nil, gen, Options{}, nil)
	_, err = svc.Ask(ctx, "u1", "   ", "")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
	_, err = svc.Ask(ctx, "u1", strings.Repeat("a", MaxMessageLength+1), "")
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
	assert.Empty(t, gen.prompts)

	gen.err = fmt.Errorf("quota exceeded")
	_, err = svc.Ask(ctx, "u1", "ciao", "")
	assert.Equal(t, http.StatusBadGateway, errors.HTTPStatusFor(err))
	history, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, history, "failed turns are not stored")
}
