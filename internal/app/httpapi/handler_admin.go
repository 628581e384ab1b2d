package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

func (h *Handler) adminRoutes(r *mux.Router) {
	r.HandleFunc("/deposit-rules", h.listDepositRules).Methods(http.MethodGet)
	r.HandleFunc("/deposit-rules", h.createDepositRule).Methods(http.MethodPost)
	r.HandleFunc("/deposit-rules/{id}", h.updateDepositRule).Methods(http.MethodPut)
	r.HandleFunc("/deposit-rules/{id}", h.deleteDepositRule).Methods(http.MethodDelete)

	r.HandleFunc("/referrals/analytics", h.referralAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/referrals/cleanup", h.referralCleanup).Methods(http.MethodPost)

	r.HandleFunc("/notifications/broadcast", h.broadcast).Methods(http.MethodPost)
	r.HandleFunc("/notifications/role", h.notifyRole).Methods(http.MethodPost)
	r.HandleFunc("/notifications/cleanup", h.notificationCleanup).Methods(http.MethodPost)
	r.HandleFunc("/notifications/socket-status", h.socketStatus).Methods(http.MethodGet)

	r.HandleFunc("/geocode/cache", h.clearGeocodeCache).Methods(http.MethodDelete)

	r.HandleFunc("/kb/articles", h.createArticle).Methods(http.MethodPost)
	r.HandleFunc("/kb/articles/{id}", h.updateArticle).Methods(http.MethodPut)
	r.HandleFunc("/kb/articles/{id}", h.deleteArticle).Methods(http.MethodDelete)
	r.HandleFunc("/kb/reindex", h.reindexArticles).Methods(http.MethodPost)

	r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)
}

func (h *Handler) listDepositRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.app.Quotes.DepositRules(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if rules == nil {
		rules = []quote.DepositRule{}
	}
	ok(w, "", rules)
}

func (h *Handler) createDepositRule(w http.ResponseWriter, r *http.Request) {
	var in quote.DepositRule
	if !decode(w, r, &in) {
		return
	}
	rule, err := h.app.Quotes.CreateDepositRule(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Regola creata", rule)
}

func (h *Handler) updateDepositRule(w http.ResponseWriter, r *http.Request) {
	var in quote.DepositRule
	if !decode(w, r, &in) {
		return
	}
	rule, err := h.app.Quotes.UpdateDepositRule(r.Context(), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Regola aggiornata", rule)
}

func (h *Handler) deleteDepositRule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Quotes.DeleteDepositRule(r.Context(), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Regola eliminata", nil)
}

func (h *Handler) referralAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Referrals.GlobalAnalytics(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", a)
}

func (h *Handler) referralCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Referrals.CleanupExpired(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"expired": n})
}

type broadcastInput struct {
	Role     user.Role              `json:"role,omitempty"`
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Priority notification.Priority  `json:"priority"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

func (in broadcastInput) message() (notification.Message, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(in.Message) == "" {
		fields["message"] = "message is required"
	}
	if len(fields) > 0 {
		return notification.Message{}, errors.Validation(fields)
	}
	msg := notification.Message{
		Type:     in.Type,
		Title:    in.Title,
		Content:  in.Message,
		Priority: in.Priority,
		Data:     in.Data,
	}
	if msg.Type == "" {
		msg.Type = "ANNOUNCEMENT"
	}
	if msg.Priority == "" {
		msg.Priority = notification.PriorityNormal
	}
	return msg, nil
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var in broadcastInput
	if !decode(w, r, &in) {
		return
	}
	msg, err := in.message()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	n, err := h.app.Notifications.BroadcastToAll(r.Context(), msg)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Notifica inviata", map[string]int{"recipients": n})
}

func (h *Handler) notifyRole(w http.ResponseWriter, r *http.Request) {
	var in broadcastInput
	if !decode(w, r, &in) {
		return
	}
	if !in.Role.Valid() {
		h.writeErr(w, r, errors.Validation(map[string]string{"role": "role is required"}))
		return
	}
	msg, err := in.message()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	n, err := h.app.Notifications.SendToRole(r.Context(), in.Role, msg)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Notifica inviata", map[string]int{"recipients": n})
}

func (h *Handler) notificationCleanup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DaysToKeep int `json:"daysToKeep"`
	}
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	if in.DaysToKeep <= 0 {
		in.DaysToKeep = notifications.DefaultRetentionDays
	}
	n, err := h.app.Notifications.CleanupOld(r.Context(), in.DaysToKeep)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"deleted": n})
}

func (h *Handler) socketStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, "", h.app.Notifications.SocketStatus())
}

func (h *Handler) clearGeocodeCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Geocoding.ClearCache(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Cache svuotata", map[string]interface{}{"cleared": n, "at": time.Now().UTC()})
}

func (h *Handler) createArticle(w http.ResponseWriter, r *http.Request) {
	var in knowledge.ArticleInput
	if !decode(w, r, &in) {
		return
	}
	a, err := h.app.Knowledge.Create(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Articolo creato", a)
}

func (h *Handler) updateArticle(w http.ResponseWriter, r *http.Request) {
	var in knowledge.ArticleInput
	if !decode(w, r, &in) {
		return
	}
	a, err := h.app.Knowledge.Update(r.Context(), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Articolo aggiornato", a)
}

func (h *Handler) deleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Knowledge.Delete(r.Context(), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Articolo eliminato", nil)
}

func (h *Handler) reindexArticles(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Knowledge.Reindex(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"indexed": n})
}
