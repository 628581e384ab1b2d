package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/quotes"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

func (h *Handler) quoteRoutes(r *mux.Router) {
	r.Handle("/quotes", role(h.createQuote, user.RoleProfessional)).Methods(http.MethodPost)
	r.HandleFunc("/quotes/compare/{requestId}", h.compareQuotes).Methods(http.MethodGet)
	r.HandleFunc("/quotes/{id}", h.getQuote).Methods(http.MethodGet)
	r.Handle("/quotes/{id}", role(h.updateQuote, user.RoleProfessional)).Methods(http.MethodPut)
	r.Handle("/quotes/{id}/accept", role(h.acceptQuote, user.RoleClient)).Methods(http.MethodPost)
	r.Handle("/quotes/{id}/reject", role(h.rejectQuote, user.RoleClient)).Methods(http.MethodPost)
	r.HandleFunc("/quotes/{id}/versions", h.quoteVersions).Methods(http.MethodGet)
	r.Handle("/quotes/{id}/template", role(h.saveTemplate, user.RoleProfessional)).Methods(http.MethodPost)
	r.Handle("/quote-templates", role(h.listTemplates, user.RoleProfessional)).Methods(http.MethodGet)
	r.Handle("/quote-templates/{id}/apply", role(h.applyTemplate, user.RoleProfessional)).Methods(http.MethodPost)

	r.HandleFunc("/pricing/estimate", h.priceEstimate).Methods(http.MethodGet)

	r.Handle("/payments/deposit", role(h.payDeposit, user.RoleClient)).Methods(http.MethodPost)
	r.HandleFunc("/payments/request/{requestId}", h.requestPayments).Methods(http.MethodGet)
	r.HandleFunc("/payments/webhook", h.paymentWebhook).Methods(http.MethodPost)
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	var in quotes.Input
	if !decode(w, r, &in) {
		return
	}
	q, err := h.app.Quotes.Create(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Preventivo creato", q)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.app.Quotes.Get(r.Context(), userID(r), userRole(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", q)
}

func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	var in quotes.Input
	if !decode(w, r, &in) {
		return
	}
	q, err := h.app.Quotes.Update(r.Context(), userID(r), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Preventivo aggiornato", q)
}

func (h *Handler) acceptQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.app.Quotes.Accept(r.Context(), userID(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Preventivo accettato", q)
}

func (h *Handler) rejectQuote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	q, err := h.app.Quotes.Reject(r.Context(), userID(r), pathVar(r, "id"), in.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Preventivo rifiutato", q)
}

func (h *Handler) quoteVersions(w http.ResponseWriter, r *http.Request) {
	revisions, err := h.app.Quotes.Versions(r.Context(), userID(r), userRole(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", revisions)
}

func (h *Handler) compareQuotes(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.app.Quotes.Compare(r.Context(), userID(r), userRole(r), pathVar(r, "requestId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", cmp)
}

func (h *Handler) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decode(w, r, &in) {
		return
	}
	tpl, err := h.app.Quotes.SaveTemplate(r.Context(), userID(r), pathVar(r, "id"), in.Name, in.Description)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Template salvato", tpl)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.app.Quotes.Templates(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", tpls)
}

func (h *Handler) applyTemplate(w http.ResponseWriter, r *http.Request) {
	var in quotes.Input
	if !decode(w, r, &in) {
		return
	}
	if in.RequestID == "" {
		h.writeErr(w, r, errors.Validation(map[string]string{"requestId": "requestId is required"}))
		return
	}
	q, err := h.app.Quotes.CreateFromTemplate(r.Context(), userID(r), pathVar(r, "id"), in.RequestID, in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Preventivo creato dal template", q)
}

func (h *Handler) priceEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("categoryId") == "" {
		h.writeErr(w, r, errors.BadRequest("categoryId is required"))
		return
	}
	est, err := h.app.Pricing.Estimate(r.Context(), q.Get("categoryId"), q.Get("subcategoryId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", est)
}

func (h *Handler) payDeposit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		QuoteID   string `json:"quoteId"`
		CardToken string `json:"cardToken"`
	}
	if !decode(w, r, &in) {
		return
	}
	p, err := h.app.Payments.CreateDepositPayment(r.Context(), userID(r), in.QuoteID, in.CardToken)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Pagamento registrato", p)
}

func (h *Handler) requestPayments(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Payments.ListByRequest(r.Context(), userID(r), userRole(r), pathVar(r, "requestId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", items)
}

// paymentWebhook accepts the gateway event envelope. Only the event id is
// trusted; the event itself is fetched back from the gateway.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllStrict(r.Body, 1<<20)
	if err != nil {
		h.writeErr(w, r, errors.BadRequest("unreadable webhook body"))
		return
	}
	eventID := gjson.GetBytes(body, "id").String()
	if eventID == "" {
		h.writeErr(w, r, errors.BadRequest("webhook event id is required"))
		return
	}
	if err := h.app.Payments.HandleWebhook(r.Context(), eventID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]string{"eventId": eventID})
}
