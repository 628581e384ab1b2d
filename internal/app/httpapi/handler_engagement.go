package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

func (h *Handler) engagementRoutes(r *mux.Router) {
	r.HandleFunc("/referrals/code", h.referralCode).Methods(http.MethodGet)
	r.HandleFunc("/referrals", h.createReferral).Methods(http.MethodPost)
	r.HandleFunc("/referrals/stats", h.referralStats).Methods(http.MethodGet)
	r.HandleFunc("/referrals/click/{code}", h.trackReferralClick).Methods(http.MethodPost)
	r.HandleFunc("/points", h.points).Methods(http.MethodGet)

	r.Handle("/reviews", role(h.createReview, user.RoleClient)).Methods(http.MethodPost)
	r.HandleFunc("/professionals/{id}/reviews", h.professionalReviews).Methods(http.MethodGet)
	r.HandleFunc("/professionals/{id}/rating", h.professionalRating).Methods(http.MethodGet)

	r.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/unread-count", h.unreadNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", h.markAllNotificationsRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)
}

func (h *Handler) referralCode(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Referrals.GetMyCode(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", info)
}

func (h *Handler) createReferral(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	ref, err := h.app.Referrals.CreateReferral(r.Context(), userID(r), in.Email)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Invito inviato", ref)
}

func (h *Handler) referralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Referrals.Stats(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", stats)
}

func (h *Handler) trackReferralClick(w http.ResponseWriter, r *http.Request) {
	ref, err := h.app.Referrals.TrackClick(r.Context(), pathVar(r, "code"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]interface{}{"tracked": ref.ID != "", "status": ref.Status})
}

func (h *Handler) points(w http.ResponseWriter, r *http.Request) {
	balance, txs, err := h.app.Referrals.Points(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if txs == nil {
		txs = []referral.PointTransaction{}
	}
	ok(w, "", map[string]interface{}{"points": balance, "transactions": txs})
}

func (h *Handler) createReview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RequestID string `json:"requestId"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment"`
	}
	if !decode(w, r, &in) {
		return
	}
	rev, err := h.app.Reviews.Create(r.Context(), userID(r), in.RequestID, in.Rating, in.Comment)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Recensione pubblicata", rev)
}

func (h *Handler) professionalReviews(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r)
	items, total, err := h.app.Reviews.ListForProfessional(r.Context(), pathVar(r, "id"), storagePage(page))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WritePaginated(w, "", items, page, total)
}

func (h *Handler) professionalRating(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Reviews.Summary(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", summary)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r)
	filter := notification.Filter{
		UnreadOnly: r.URL.Query().Get("unreadOnly") == "true",
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}
	items, total, err := h.app.Notifications.ListForUser(r.Context(), userID(r), filter)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httputil.WritePaginated(w, "", items, page, total)
}

func (h *Handler) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Notifications.CountUnread(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"count": n})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Notifications.MarkAsRead(r.Context(), userID(r), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Notifica letta", nil)
}

func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Notifications.MarkAllAsRead(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", map[string]int{"marked": n})
}
