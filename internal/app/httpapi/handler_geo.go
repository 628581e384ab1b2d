package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/travel"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

// maxNearbyKm caps the radius of a nearby search.
const maxNearbyKm = 200

func (h *Handler) geoRoutes(r *mux.Router) {
	r.HandleFunc("/geocode", h.geocode).Methods(http.MethodPost)
	r.HandleFunc("/geocode/reverse", h.reverseGeocode).Methods(http.MethodGet)
	r.HandleFunc("/geocode/distance", h.distance).Methods(http.MethodPost)
	r.HandleFunc("/geocode/nearby", h.nearby).Methods(http.MethodPost)
	r.HandleFunc("/geocode/route", h.route).Methods(http.MethodPost)
	r.HandleFunc("/geocode/validate", h.validateAddress).Methods(http.MethodGet)

	r.Handle("/travel/settings", role(h.travelSettings, user.RoleProfessional)).Methods(http.MethodGet)
	r.Handle("/travel/settings", role(h.updateTravelSettings, user.RoleProfessional)).Methods(http.MethodPut)
	r.Handle("/travel/work-address", role(h.updateWorkAddress, user.RoleProfessional)).Methods(http.MethodPut)
	r.Handle("/travel/recalculate", role(h.recalculateTravel, user.RoleProfessional)).Methods(http.MethodPost)
}

func (h *Handler) geocode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address    string `json:"address"`
		City       string `json:"city"`
		Province   string `json:"province"`
		PostalCode string `json:"postalCode"`
	}
	if !decode(w, r, &in) {
		return
	}
	var (
		res geocoding.Result
		err error
	)
	if in.City != "" || in.Province != "" || in.PostalCode != "" {
		res, err = h.app.Geocoding.GeocodeParts(r.Context(), in.Address, in.City, in.Province, in.PostalCode)
	} else {
		res, err = h.app.Geocoding.Geocode(r.Context(), in.Address)
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", res)
}

func (h *Handler) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, err := httputil.QueryFloat(r, "lat")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	lng, err := httputil.QueryFloat(r, "lng")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.app.Geocoding.Reverse(r.Context(), lat, lng)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", res)
}

func (h *Handler) distance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Origin      user.Location `json:"origin"`
		Destination user.Location `json:"destination"`
	}
	if !decode(w, r, &in) {
		return
	}
	d, err := h.app.Geocoding.Distance(r.Context(), in.Origin, in.Destination)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", d)
}

func (h *Handler) nearby(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Location      user.Location `json:"location"`
		MaxDistanceKm float64       `json:"maxDistanceKm"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.MaxDistanceKm <= 0 || in.MaxDistanceKm > maxNearbyKm {
		h.writeErr(w, r, errors.Validation(map[string]string{"maxDistanceKm": "maxDistanceKm must be between 0 and 200"}))
		return
	}
	items, err := h.app.Geocoding.FindNearbyProfessionals(r.Context(), in.Location, in.MaxDistanceKm)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", items)
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Origin    user.Location   `json:"origin"`
		Waypoints []user.Location `json:"waypoints"`
	}
	if !decode(w, r, &in) {
		return
	}
	route, err := h.app.Geocoding.OptimizeRoute(r.Context(), in.Origin, in.Waypoints)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", route)
}

// validateAddress reports whether an address resolves. Lookup failures are
// an invalid answer, not an error.
func (h *Handler) validateAddress(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.writeErr(w, r, errors.BadRequest("address is required"))
		return
	}
	res, err := h.app.Geocoding.Geocode(r.Context(), address)
	if err != nil {
		ok(w, "", map[string]interface{}{"valid": false, "reason": errors.Normalize(err).Message})
		return
	}
	ok(w, "", map[string]interface{}{"valid": true, "result": res})
}

func (h *Handler) travelSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.Travel.GetSettings(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", settings)
}

func (h *Handler) updateTravelSettings(w http.ResponseWriter, r *http.Request) {
	var in travel.SettingsUpdate
	if !decode(w, r, &in) {
		return
	}
	settings, err := h.app.Travel.UpdateSettings(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Impostazioni aggiornate", settings)
}

func (h *Handler) updateWorkAddress(w http.ResponseWriter, r *http.Request) {
	var in travel.WorkAddress
	if !decode(w, r, &in) {
		return
	}
	settings, recalc, err := h.app.Travel.UpdateWorkAddress(r.Context(), userID(r), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Indirizzo di lavoro aggiornato", map[string]interface{}{"settings": settings, "recalculation": recalc})
}

func (h *Handler) recalculateTravel(w http.ResponseWriter, r *http.Request) {
	recalc, err := h.app.Travel.RecalculateForProfessional(r.Context(), userID(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", recalc)
}
