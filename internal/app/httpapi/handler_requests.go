package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/requests"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

func (h *Handler) requestRoutes(r *mux.Router) {
	r.HandleFunc("/requests", h.listRequests).Methods(http.MethodGet)
	r.Handle("/requests", role(h.createRequest, user.RoleClient)).Methods(http.MethodPost)
	r.Handle("/requests/stats", role(h.requestStats, user.RoleAdmin, user.RoleSuperAdmin)).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.updateRequest).Methods(http.MethodPut)
	r.HandleFunc("/requests/{id}", h.deleteRequest).Methods(http.MethodDelete)
	r.HandleFunc("/requests/{id}/status", h.updateRequestStatus).Methods(http.MethodPatch)
	r.Handle("/requests/{id}/assign", role(h.assignRequest, user.RoleAdmin, user.RoleSuperAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/requests/{id}/quotes", h.requestQuotes).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/travel", h.requestTravel).Methods(http.MethodGet)

	r.HandleFunc("/requests/{id}/messages", h.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/requests/{id}/messages/read", h.markMessagesRead).Methods(http.MethodPost)
	r.HandleFunc("/requests/{id}/messages/unread", h.unreadMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.updateMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
}

func parseRequestFilter(r *http.Request) (requests.ListFilter, error) {
	q := r.URL.Query()
	filter := requests.ListFilter{CategoryID: q.Get("categoryId")}
	if raw := q.Get("status"); raw != "" {
		filter.Status = request.Status(strings.ToUpper(raw))
		if !request.ValidStatus(filter.Status) {
			return filter, errors.BadRequest("unknown status %q", raw)
		}
	}
	if raw := q.Get("priority"); raw != "" {
		filter.Priority = request.Priority(strings.ToUpper(raw))
		if !request.ValidPriority(filter.Priority) {
			return filter, errors.BadRequest("unknown priority %q", raw)
		}
	}
	return filter, nil
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRequestFilter(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	page := httputil.ParsePagination(r)
	items, total, err := h.app.Requests.List(r.Context(), actor(r), filter, storagePage(page))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WritePaginated(w, "", items, page, total)
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var in requests.Input
	if !decode(w, r, &in) {
		return
	}
	req, err := h.app.Requests.Create(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Richiesta creata", req)
}

func (h *Handler) requestStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Requests.Stats(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", stats)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Get(r.Context(), actor(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", req)
}

func (h *Handler) updateRequest(w http.ResponseWriter, r *http.Request) {
	var in requests.Input
	if !decode(w, r, &in) {
		return
	}
	req, err := h.app.Requests.Update(r.Context(), actor(r), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Richiesta aggiornata", req)
}

func (h *Handler) deleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Requests.Delete(r.Context(), actor(r), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Richiesta eliminata", nil)
}

func (h *Handler) updateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status request.Status `json:"status"`
	}
	if !decode(w, r, &in) {
		return
	}
	req, err := h.app.Requests.UpdateStatus(r.Context(), actor(r), pathVar(r, "id"), in.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Stato aggiornato", req)
}

func (h *Handler) assignRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProfessionalID string `json:"professionalId"`
	}
	if !decode(w, r, &in) {
		return
	}
	req, err := h.app.Requests.AssignProfessional(r.Context(), pathVar(r, "id"), in.ProfessionalID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Professionista assegnato", req)
}

func (h *Handler) requestQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.app.Quotes.ListByRequest(r.Context(), userID(r), userRole(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", quotes)
}

// requestTravel returns the trip of a professional to a request the caller
// may view. Professionals only get their own trip.
func (h *Handler) requestTravel(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Get(r.Context(), actor(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	professionalID, err := h.travelProfessional(r, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info, err := h.app.Travel.RequestTravelInfo(r.Context(), req.ID, professionalID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", info)
}

// travelProfessional picks whose trip is computed: the calling professional,
// the ?professionalId of an assigned or quoting professional, or the
// assigned one.
func (h *Handler) travelProfessional(r *http.Request, req request.Request) (string, error) {
	role := userRole(r)
	requested := r.URL.Query().Get("professionalId")
	if role == user.RoleProfessional {
		requested = userID(r)
	}
	if requested == "" {
		if req.ProfessionalID == "" {
			return "", errors.BadRequest("request has no assigned professional")
		}
		return req.ProfessionalID, nil
	}
	if role.IsAdmin() || requested == req.ProfessionalID {
		return requested, nil
	}
	quoted, err := h.app.Quotes.HasQuoted(r.Context(), req.ID, requested)
	if err != nil {
		return "", err
	}
	if !quoted {
		return "", errors.Forbidden("Travel info is available only for the assigned professional or one who sent a quote")
	}
	return requested, nil
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r)
	msgs, total, err := h.app.Chat.Messages(r.Context(), userID(r), userRole(r), pathVar(r, "id"), storagePage(page))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WritePaginated(w, "", msgs, page, total)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &in) {
		return
	}
	msg, err := h.app.Chat.Send(r.Context(), userID(r), userRole(r), pathVar(r, "id"), in.Content)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "", msg)
}

func (h *Handler) markMessagesRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Chat.MarkRead(r.Context(), userID(r), userRole(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"marked": n})
}

func (h *Handler) unreadMessages(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Chat.UnreadCount(r.Context(), userID(r), userRole(r), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"unread": n})
}

func (h *Handler) updateMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &in) {
		return
	}
	msg, err := h.app.Chat.Update(r.Context(), userID(r), pathVar(r, "id"), in.Content)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Messaggio modificato", msg)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Chat.Delete(r.Context(), userID(r), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Messaggio eliminato", nil)
}
