package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/services/auth"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/users"
)

func (h *Handler) authRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)

	r.HandleFunc("/users/me", h.updateProfile).Methods(http.MethodPut)
	r.HandleFunc("/users/me/preferences", h.preferences).Methods(http.MethodGet)
	r.HandleFunc("/users/me/preferences", h.updatePreferences).Methods(http.MethodPut)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	session, err := h.app.Auth.Register(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Registrazione completata", session)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	session, err := h.app.Auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Login effettuato", session)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &in) {
		return
	}
	session, err := h.app.Auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", session)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Auth.Me(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", u)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in users.ProfileUpdate
	if !decode(w, r, &in) {
		return
	}
	u, err := h.app.Users.UpdateProfile(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Profilo aggiornato", u)
}

func (h *Handler) preferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.app.Users.Preferences(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", prefs)
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var in users.PreferencesUpdate
	if !decode(w, r, &in) {
		return
	}
	prefs, err := h.app.Users.UpdatePreferences(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Preferenze aggiornate", prefs)
}
