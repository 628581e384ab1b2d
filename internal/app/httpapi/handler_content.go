package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

func (h *Handler) contentRoutes(r *mux.Router) {
	r.HandleFunc("/kb/articles", h.listArticles).Methods(http.MethodGet)
	r.HandleFunc("/kb/articles/{id}", h.getArticle).Methods(http.MethodGet)
	r.HandleFunc("/kb/search", h.searchArticles).Methods(http.MethodGet)

	r.HandleFunc("/ai/chat", h.askAssistant).Methods(http.MethodPost)
	r.HandleFunc("/ai/history", h.assistantHistory).Methods(http.MethodGet)
	r.HandleFunc("/ai/history", h.clearAssistantHistory).Methods(http.MethodDelete)
}

func (h *Handler) listArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.app.Knowledge.List(r.Context(), userRole(r).IsAdmin())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", articles)
}

func (h *Handler) getArticle(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Knowledge.Get(r.Context(), pathVar(r, "id"), userRole(r).IsAdmin())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", a)
}

func (h *Handler) searchArticles(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeErr(w, r, errors.BadRequest("q is required"))
		return
	}
	var minScore float64
	if raw := r.URL.Query().Get("minScore"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			h.writeErr(w, r, errors.BadRequest("minScore must be between 0 and 1"))
			return
		}
		minScore = v
	}
	results, err := h.app.Knowledge.Search(r.Context(), q, httputil.QueryInt(r, "topK", 0), minScore)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", results)
}

func (h *Handler) askAssistant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	}
	if !decode(w, r, &in) {
		return
	}
	answer, err := h.app.AIChat.Ask(r.Context(), userID(r), in.Message, in.RequestID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", answer)
}

func (h *Handler) assistantHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.app.AIChat.History(r.Context(), userID(r), httputil.QueryInt(r, "limit", 0))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", msgs)
}

func (h *Handler) clearAssistantHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.app.AIChat.ClearHistory(r.Context(), userID(r)); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Cronologia eliminata", nil)
}
