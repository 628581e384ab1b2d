// Package geocoding resolves Italian addresses to coordinates and computes
// road distances through the Google Maps web services, caching every answer.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	addressPrefix  = "geocode:address:"
	reversePrefix  = "geocode:reverse:"
	distancePrefix = "distance:"

	geocodeTTL  = 30 * 24 * time.Hour
	distanceTTL = 24 * time.Hour

	// fallbackSpeedKmh estimates durations when no Maps key is configured.
	fallbackSpeedKmh = 50.0
	earthRadiusKm    = 6371.0
	nearbyWorkers    = 8
)

// DefaultBaseURL is the Google Maps web service root.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api"

var postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)

var provinces = map[string]bool{}

func init() {
	for _, code := range strings.Fields(`
		AG AL AN AO AR AP AT AV BA BT BL BN BG BI BO BZ BS BR
		CA CL CB CI CE CT CZ CH CO CS CR KR CN EN FM FE FI FG
		FC FR GE GO GR IM IS SP AQ LT LE LC LI LO LU MC MN MS
		MT ME MI MO MB NA NO NU OT OR PD PA PR PV PG PU PE PC
		PI PT PN PZ PO RG RA RC RE RI RN RM RO SA VS SS SV SI
		SR SO TA TE TR TO OG TP TN TV TS UD VA VE VB VC VR VV
		VI VT SU`) {
		provinces[code] = true
	}
}

// ValidatePostalCode reports whether code is a five digit CAP.
func ValidatePostalCode(code string) bool { return postalCodePattern.MatchString(code) }

// ValidateProvince reports whether code is an Italian province abbreviation.
func ValidateProvince(code string) bool { return provinces[strings.ToUpper(strings.TrimSpace(code))] }

// Result is a geocoded address.
type Result struct {
	Location         user.Location `json:"location"`
	FormattedAddress string        `json:"formattedAddress"`
	PlaceID          string        `json:"placeId,omitempty"`
}

// Distance is a road distance between two points.
type Distance struct {
	DistanceKm      float64 `json:"distanceKm"`
	DurationMinutes float64 `json:"durationMinutes"`
	DistanceText    string  `json:"distanceText"`
	DurationText    string  `json:"durationText"`
	// Estimated is set when the figures come from the straight-line fallback.
	Estimated bool `json:"estimated,omitempty"`
}

// Nearby is a professional within reach of a location.
type Nearby struct {
	ProfessionalID  string  `json:"professionalId"`
	Name            string  `json:"name"`
	Profession      string  `json:"profession,omitempty"`
	DistanceKm      float64 `json:"distanceKm"`
	DurationMinutes float64 `json:"durationMinutes"`
}

// Route is an optimized round trip over a set of waypoints.
type Route struct {
	TotalDistanceKm      float64 `json:"totalDistanceKm"`
	TotalDurationMinutes float64 `json:"totalDurationMinutes"`
	WaypointOrder        []int   `json:"waypointOrder"`
}

// Options configures the Maps client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Service geocodes addresses and computes distances.
type Service struct {
	client *httputil.Client
	apiKey string
	cache  Cache
	users  storage.UserStore
	log    *logger.Logger
}

// New constructs the service. A nil cache keeps results in process memory.
func New(opts Options, cache Cache, users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("geocoding")
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Service{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: base, Timeout: 10 * time.Second, HTTPClient: opts.HTTPClient}),
		apiKey: opts.APIKey,
		cache:  cache,
		users:  users,
		log:    log,
	}
}

// Configured reports whether a Maps API key is available.
func (s *Service) Configured() bool { return s.apiKey != "" }

// Cache exposes the underlying cache for health checks.
func (s *Service) Cache() Cache { return s.cache }

func normalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *Service) cached(ctx context.Context, kind, key string, dst interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("geocoding cache read failed")
		return false
	}
	if ok && json.Unmarshal(raw, dst) == nil {
		metrics.RecordGeocodeCache(kind, true)
		return true
	}
	metrics.RecordGeocodeCache(kind, false)
	return false
}

func (s *Service) store(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("geocoding cache write failed")
	}
}

func (s *Service) query(params map[string]string) url.Values {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("language", "it")
	for k, v := range params {
		q.Set(k, v)
	}
	return q
}

// call runs a Maps request and checks the top-level status field.
func (s *Service) call(ctx context.Context, path string, params map[string]string) (gjson.Result, error) {
	raw, err := s.client.GetJSON(ctx, path, s.query(params))
	if err != nil {
		return gjson.Result{}, errors.Upstream("maps request failed", err)
	}
	doc := gjson.ParseBytes(raw)
	switch status := doc.Get("status").String(); status {
	case "OK":
		return doc, nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return doc, errors.ErrNotFound
	default:
		return doc, errors.Upstream(fmt.Sprintf("maps status %s", status), nil).
			WithDetails("message", doc.Get("error_message").String())
	}
}

// Geocode resolves an address to coordinates.
func (s *Service) Geocode(ctx context.Context, address string) (Result, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		return Result{}, errors.Validation(map[string]string{"address": "address is required"})
	}
	key := addressPrefix + normalized
	var result Result
	if s.cached(ctx, "geocode", key, &result) {
		return result, nil
	}
	if !s.Configured() {
		return Result{}, errors.Unavailable("geocoding is not configured", nil)
	}

	doc, err := s.call(ctx, "/geocode/json", map[string]string{"address": address, "region": "IT"})
	if errors.Is(err, errors.ErrNotFound) {
		return Result{}, errors.NotFound("address", address)
	}
	if err != nil {
		return Result{}, err
	}
	first := doc.Get("results.0")
	result = Result{
		Location: user.Location{
			Latitude:  first.Get("geometry.location.lat").Float(),
			Longitude: first.Get("geometry.location.lng").Float(),
		},
		FormattedAddress: first.Get("formatted_address").String(),
		PlaceID:          first.Get("place_id").String(),
	}
	s.store(ctx, key, result, geocodeTTL)
	s.log.WithField("address", normalized).Debug("address geocoded")
	return result, nil
}

// GeocodeParts geocodes a structured Italian address.
func (s *Service) GeocodeParts(ctx context.Context, address, city, province, postalCode string) (Result, error) {
	full := fmt.Sprintf("%s, %s %s %s, Italia", address, postalCode, city, strings.ToUpper(province))
	return s.Geocode(ctx, full)
}

// Reverse resolves coordinates to a formatted address.
func (s *Service) Reverse(ctx context.Context, lat, lng float64) (Result, error) {
	key := reversePrefix + coord(lat) + ":" + coord(lng)
	var result Result
	if s.cached(ctx, "reverse", key, &result) {
		return result, nil
	}
	if !s.Configured() {
		return Result{}, errors.Unavailable("geocoding is not configured", nil)
	}
	doc, err := s.call(ctx, "/geocode/json", map[string]string{"latlng": coord(lat) + "," + coord(lng)})
	if errors.Is(err, errors.ErrNotFound) {
		return Result{}, errors.NotFound("location", coord(lat)+","+coord(lng))
	}
	if err != nil {
		return Result{}, err
	}
	first := doc.Get("results.0")
	result = Result{
		Location:         user.Location{Latitude: lat, Longitude: lng},
		FormattedAddress: first.Get("formatted_address").String(),
		PlaceID:          first.Get("place_id").String(),
	}
	s.store(ctx, key, result, geocodeTTL)
	return result, nil
}

// Distance returns the driving distance between two points. Without a Maps
// key it estimates from the great-circle distance.
func (s *Service) Distance(ctx context.Context, origin, dest user.Location) (Distance, error) {
	key := distancePrefix + coord(origin.Latitude) + ":" + coord(origin.Longitude) + ":" +
		coord(dest.Latitude) + ":" + coord(dest.Longitude)
	var result Distance
	if s.cached(ctx, "distance", key, &result) {
		return result, nil
	}
	if !s.Configured() {
		return Estimate(origin, dest), nil
	}

	doc, err := s.call(ctx, "/distancematrix/json", map[string]string{
		"origins":      coord(origin.Latitude) + "," + coord(origin.Longitude),
		"destinations": coord(dest.Latitude) + "," + coord(dest.Longitude),
		"mode":         "driving",
		"units":        "metric",
	})
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return Distance{}, err
	}
	element := doc.Get("rows.0.elements.0")
	if element.Get("status").String() != "OK" {
		return Distance{}, errors.NotFound("route", key)
	}
	result = Distance{
		DistanceKm:      element.Get("distance.value").Float() / 1000,
		DurationMinutes: element.Get("duration.value").Float() / 60,
		DistanceText:    element.Get("distance.text").String(),
		DurationText:    element.Get("duration.text").String(),
	}
	s.store(ctx, key, result, distanceTTL)
	return result, nil
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b user.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Estimate derives a distance from the great-circle distance at 50 km/h.
func Estimate(origin, dest user.Location) Distance {
	km := Haversine(origin, dest)
	minutes := km / fallbackSpeedKmh * 60
	return Distance{
		DistanceKm:      km,
		DurationMinutes: minutes,
		DistanceText:    fmt.Sprintf("%.1f km", km),
		DurationText:    fmt.Sprintf("%d min", int(math.Round(minutes))),
		Estimated:       true,
	}
}

// FindNearbyProfessionals returns professionals whose starting point is
// within maxKm of origin, nearest first.
func (s *Service) FindNearbyProfessionals(ctx context.Context, origin user.Location, maxKm float64) ([]Nearby, error) {
	if maxKm <= 0 {
		return nil, errors.Validation(map[string]string{"maxDistance": "must be positive"})
	}
	pros, err := s.users.ListUsers(ctx, user.RoleProfessional)
	if err != nil {
		return nil, err
	}

	found := make([]*Nearby, len(pros))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nearbyWorkers)
	for i, pro := range pros {
		i, pro := i, pro
		start := pro.StartingPoint()
		if start == nil {
			continue
		}
		g.Go(func() error {
			d, err := s.Distance(gctx, origin, *start)
			if err != nil {
				s.log.WithError(err).WithField("professional_id", pro.ID).Warn("distance lookup failed")
				return nil
			}
			if d.DistanceKm <= maxKm {
				found[i] = &Nearby{
					ProfessionalID:  pro.ID,
					Name:            pro.FullName(),
					Profession:      pro.Profession,
					DistanceKm:      d.DistanceKm,
					DurationMinutes: d.DurationMinutes,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]Nearby, 0, len(found))
	for _, n := range found {
		if n != nil {
			result = append(result, *n)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].DistanceKm < result[j].DistanceKm })
	return result, nil
}

// OptimizeRoute orders waypoints for a round trip starting and ending at
// origin.
func (s *Service) OptimizeRoute(ctx context.Context, origin user.Location, waypoints []user.Location) (Route, error) {
	if len(waypoints) == 0 {
		return Route{}, errors.Validation(map[string]string{"waypoints": "at least one waypoint is required"})
	}
	if !s.Configured() {
		return Route{}, errors.Unavailable("route optimization is not configured", nil)
	}
	points := make([]string, len(waypoints))
	for i, wp := range waypoints {
		points[i] = coord(wp.Latitude) + "," + coord(wp.Longitude)
	}
	from := coord(origin.Latitude) + "," + coord(origin.Longitude)
	doc, err := s.call(ctx, "/directions/json", map[string]string{
		"origin":      from,
		"destination": from,
		"waypoints":   "optimize:true|" + strings.Join(points, "|"),
	})
	if errors.Is(err, errors.ErrNotFound) {
		return Route{}, errors.NotFound("route", from)
	}
	if err != nil {
		return Route{}, err
	}

	var route Route
	doc.Get("routes.0.legs").ForEach(func(_, leg gjson.Result) bool {
		route.TotalDistanceKm += leg.Get("distance.value").Float() / 1000
		route.TotalDurationMinutes += leg.Get("duration.value").Float() / 60
		return true
	})
	route.WaypointOrder = []int{}
	for _, idx := range doc.Get("routes.0.waypoint_order").Array() {
		route.WaypointOrder = append(route.WaypointOrder, int(idx.Int()))
	}
	return route, nil
}

// ClearCache drops every cached geocode and distance entry.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	n, err := s.cache.DeletePrefix(ctx, "geocode:", distancePrefix)
	if err != nil {
		return n, err
	}
	s.log.WithField("deleted", n).Info("geocoding cache cleared")
	return n, nil
}
