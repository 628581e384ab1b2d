package geocoding

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

func mapsServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("language") != "it" {
			w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
			return
		}
		switch r.URL.Path {
		case "/geocode/json":
			if q.Get("address") == "nowhere" {
				w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
				return
			}
			if q.Get("latlng") != "" {
				w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Piazza del Duomo, Milano","place_id":"p-rev"}]}`))
				return
			}
			if q.Get("region") != "IT" {
				t.Errorf("missing region: %v", q)
			}
			w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Via Roma 1, Milano","place_id":"p1",
				"geometry":{"location":{"lat":45.4642,"lng":9.19}}}]}`))
		case "/distancematrix/json":
			w.Write([]byte(`{"status":"OK","rows":[{"elements":[{"status":"OK",
				"distance":{"value":12500,"text":"12,5 km"},"duration":{"value":1200,"text":"20 min"}}]}]}`))
		case "/directions/json":
			w.Write([]byte(`{"status":"OK","routes":[{"waypoint_order":[1,0],
				"legs":[{"distance":{"value":1000},"duration":{"value":120}},{"distance":{"value":3000},"duration":{"value":240}}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, calls *int32) *Service {
	srv := mapsServer(t, calls)
	return New(Options{APIKey: "test-key", BaseURL: srv.URL}, NewMemoryCache(), memory.New(), nil)
}

func TestGeocodeCachesByNormalizedAddress(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	ctx := context.Background()

	first, err := svc.Geocode(ctx, "Via Roma 1,  Milano")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if first.Location.Latitude != 45.4642 || first.PlaceID != "p1" {
		t.Fatalf("unexpected result: %+v", first)
	}
	if _, err := svc.Geocode(ctx, "via roma 1, milano"); err != nil {
		t.Fatalf("geocode cached: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
	if _, ok, _ := svc.Cache().Get(ctx, "geocode:address:via roma 1, milano"); !ok {
		t.Fatalf("expected cache entry")
	}
}

func TestGeocodeZeroResultsIsNotFound(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	_, err := svc.Geocode(context.Background(), "nowhere")
	if errors.HTTPStatusFor(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestGeocodeWithoutKeyIsUnavailable(t *testing.T) {
	svc := New(Options{}, nil, memory.New(), nil)
	_, err := svc.Geocode(context.Background(), "Via Roma 1")
	if errors.HTTPStatusFor(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestReverseAndDistance(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	ctx := context.Background()

	rev, err := svc.Reverse(ctx, 45.4642, 9.19)
	if err != nil || rev.FormattedAddress != "Piazza del Duomo, Milano" {
		t.Fatalf("reverse: %+v %v", rev, err)
	}

	d, err := svc.Distance(ctx, user.Location{Latitude: 45.46, Longitude: 9.19}, user.Location{Latitude: 45.55, Longitude: 9.2})
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d.DistanceKm != 12.5 || d.DurationMinutes != 20 || d.Estimated {
		t.Fatalf("unexpected distance: %+v", d)
	}
	if _, ok, _ := svc.Cache().Get(ctx, "distance:45.46:9.19:45.55:9.2"); !ok {
		t.Fatalf("distance not cached")
	}
}

func TestDistanceFallsBackToHaversine(t *testing.T) {
	svc := New(Options{}, nil, memory.New(), nil)
	milan := user.Location{Latitude: 45.4642, Longitude: 9.19}
	rome := user.Location{Latitude: 41.9028, Longitude: 12.4964}

	d, err := svc.Distance(context.Background(), milan, rome)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if !d.Estimated || math.Abs(d.DistanceKm-477) > 5 {
		t.Fatalf("unexpected estimate: %+v", d)
	}
	if math.Abs(d.DurationMinutes-d.DistanceKm/50*60) > 0.001 {
		t.Fatalf("duration should assume 50 km/h: %+v", d)
	}
}

func TestFindNearbyProfessionals(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	origin := user.Location{Latitude: 45.4642, Longitude: 9.19}

	add := func(email string, loc, work *user.Location, residence bool) {
		_, err := store.CreateUser(ctx, user.User{
			Email: email, FirstName: email, Role: user.RoleProfessional,
			Location: loc, WorkLocation: work, UseResidenceAsWorkAddress: residence,
		})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	add("near@x.it", &user.Location{Latitude: 45.47, Longitude: 9.2}, nil, true)
	add("far@x.it", &user.Location{Latitude: 41.9, Longitude: 12.5}, nil, true)
	// residence is far but the work address is close
	add("work@x.it", &user.Location{Latitude: 41.9, Longitude: 12.5}, &user.Location{Latitude: 45.5, Longitude: 9.25}, false)
	add("none@x.it", nil, nil, true)
	if _, err := store.CreateUser(ctx, user.User{Email: "client@x.it", Role: user.RoleClient, Location: &origin}); err != nil {
		t.Fatalf("create client: %v", err)
	}

	svc := New(Options{}, nil, store, nil)
	found, err := svc.FindNearbyProfessionals(ctx, origin, 20)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 nearby, got %+v", found)
	}
	if found[0].Name != "near@x.it" || found[1].Name != "work@x.it" {
		t.Fatalf("unexpected order: %+v", found)
	}
	if found[0].DistanceKm > found[1].DistanceKm {
		t.Fatalf("results not sorted")
	}
}

func TestOptimizeRoute(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	route, err := svc.OptimizeRoute(context.Background(), user.Location{Latitude: 45, Longitude: 9},
		[]user.Location{{Latitude: 45.1, Longitude: 9.1}, {Latitude: 45.2, Longitude: 9.2}})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if route.TotalDistanceKm != 4 || route.TotalDurationMinutes != 6 {
		t.Fatalf("unexpected totals: %+v", route)
	}
	if fmt.Sprint(route.WaypointOrder) != "[1 0]" {
		t.Fatalf("unexpected order: %v", route.WaypointOrder)
	}
}

func TestClearCache(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	for _, key := range []string{"geocode:address:a", "geocode:reverse:1:2", "distance:1:2:3:4", "session:x"} {
		cache.Set(ctx, key, []byte(`{}`), 0)
	}
	svc := New(Options{}, cache, memory.New(), nil)
	n, err := svc.ClearCache(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deleted, got %d (%v)", n, err)
	}
	if cache.Len() != 1 {
		t.Fatalf("unrelated key should survive")
	}
}

func TestValidators(t *testing.T) {
	cases := []struct {
		code string
		cap  bool
		prov bool
	}{
		{"20100", true, false},
		{"2010", false, false},
		{"MI", false, true},
		{"mi", false, true},
		{"SU", false, true},
		{"XX", false, false},
	}
	for _, tc := range cases {
		if got := ValidatePostalCode(tc.code); got != tc.cap {
			t.Errorf("ValidatePostalCode(%q) = %v", tc.code, got)
		}
		if got := ValidateProvince(tc.code); got != tc.prov {
			t.Errorf("ValidateProvince(%q) = %v", tc.code, got)
		}
	}
}
