package travel

import (
	"context"
	"net/http"
	"testing"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type fakeGeo struct {
	distance geocoding.Distance
	location user.Location
	calls    int
}

func (g *fakeGeo) GeocodeParts(context.Context, string, string, string, string) (geocoding.Result, error) {
	return geocoding.Result{Location: g.location}, nil
}

func (g *fakeGeo) Distance(context.Context, user.Location, user.Location) (geocoding.Distance, error) {
	g.calls++
	return g.distance, nil
}

func seed(t *testing.T, store *memory.Store, pro user.User) user.User {
	t.Helper()
	pro.Role = user.RoleProfessional
	created, err := store.CreateUser(context.Background(), pro)
	if err != nil {
		t.Fatalf("create professional: %v", err)
	}
	return created
}

func TestCostAndItinerary(t *testing.T) {
	if got := Cost(12.345, 50); got != 617 {
		t.Fatalf("expected 617 cents, got %d", got)
	}
	url := ItineraryURL(user.Location{Latitude: 45.46, Longitude: 9.19}, user.Location{Latitude: 45.5, Longitude: 9.2})
	want := "https://www.google.com/maps/dir/45.46,9.19/45.5,9.2?travelmode=driving&dir_action=navigate"
	if url != want {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestRequestTravelInfoUsesWorkAddress(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	pro := seed(t, store, user.User{
		Email:           "pro@x.it",
		Location:        &user.Location{Latitude: 41.9, Longitude: 12.5},
		WorkLocation:    &user.Location{Latitude: 45.47, Longitude: 9.2},
		TravelRatePerKm: 80,
	})
	req, _ := store.CreateRequest(ctx, request.Request{
		Title: "Perdita", ClientID: "c1", Status: request.StatusAssigned, ProfessionalID: pro.ID,
		Location: &user.Location{Latitude: 45.46, Longitude: 9.19},
	})

	geo := &fakeGeo{distance: geocoding.Distance{DistanceKm: 10.456, DurationMinutes: 17.6}}
	svc := New(store, store, geo, 0, nil)
	info, err := svc.RequestTravelInfo(ctx, req.ID, pro.ID)
	if err != nil {
		t.Fatalf("travel info: %v", err)
	}
	if info.DistanceKm != 10.46 || info.DurationMinutes != 18 || info.CostCents != 837 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.ItineraryURL != ItineraryURL(*pro.WorkLocation, *req.Location) {
		t.Fatalf("itinerary should start at the work address: %s", info.ItineraryURL)
	}
}

func TestRequestTravelInfoNeedsCoordinates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	pro := seed(t, store, user.User{Email: "pro@x.it", UseResidenceAsWorkAddress: true})
	req, _ := store.CreateRequest(ctx, request.Request{Title: "x", ClientID: "c1", Status: request.StatusPending})

	svc := New(store, store, &fakeGeo{}, 0, nil)
	if _, err := svc.RequestTravelInfo(ctx, req.ID, pro.ID); errors.HTTPStatusFor(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for request without coordinates, got %v", err)
	}
}

func TestUpdateSettingsValidatesRate(t *testing.T) {
	store := memory.New()
	pro := seed(t, store, user.User{Email: "pro@x.it"})
	svc := New(store, store, &fakeGeo{}, 0, nil)

	for _, bad := range []int64{MaxRatePerKm + 1, 0, -5} {
		bad := bad
		if _, err := svc.UpdateSettings(context.Background(), pro.ID, SettingsUpdate{RatePerKm: &bad}); errors.HTTPStatusFor(err) != http.StatusBadRequest {
			t.Fatalf("expected validation error for rate %d, got %v", bad, err)
		}
	}
	stored, _ := store.GetUser(context.Background(), pro.ID)
	if stored.TravelRatePerKm != 0 {
		t.Fatalf("rejected rate was persisted: %d", stored.TravelRatePerKm)
	}
	rate := int64(120)
	settings, err := svc.UpdateSettings(context.Background(), pro.ID, SettingsUpdate{RatePerKm: &rate})
	if err != nil || settings.RatePerKm != 120 {
		t.Fatalf("unexpected settings %+v (%v)", settings, err)
	}
}

func TestUpdateWorkAddressRecalculatesActiveRequests(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	pro := seed(t, store, user.User{Email: "pro@x.it", Location: &user.Location{Latitude: 41.9, Longitude: 12.5}})
	loc := &user.Location{Latitude: 45.46, Longitude: 9.19}
	for _, status := range []request.Status{request.StatusAssigned, request.StatusInProgress, request.StatusCompleted} {
		if _, err := store.CreateRequest(ctx, request.Request{Title: "x", ClientID: "c1", ProfessionalID: pro.ID, Status: status, Location: loc}); err != nil {
			t.Fatalf("create request: %v", err)
		}
	}

	geo := &fakeGeo{location: user.Location{Latitude: 45.48, Longitude: 9.21}, distance: geocoding.Distance{DistanceKm: 3, DurationMinutes: 7}}
	svc := New(store, store, geo, 0, nil)
	settings, summary, err := svc.UpdateWorkAddress(ctx, pro.ID, WorkAddress{
		Address: "Via Torino 5", City: "Milano", Province: "mi", PostalCode: "20123",
	})
	if err != nil {
		t.Fatalf("update work address: %v", err)
	}
	if settings.WorkProvince != "MI" || settings.StartingPoint == nil || settings.StartingPoint.Latitude != 45.48 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if summary.Total != 2 || summary.Success != 2 {
		t.Fatalf("expected 2 recalculated, got %+v", summary)
	}

	reqs, _, _ := store.ListRequests(ctx, request.Filter{ProfessionalID: pro.ID, Status: request.StatusAssigned}, storage.Page{})
	if len(reqs) != 1 || reqs[0].Travel == nil || reqs[0].Travel.CostCents != 150 {
		t.Fatalf("travel info not stored: %+v", reqs)
	}
}

func TestUpdateWorkAddressRejectsInvalidFields(t *testing.T) {
	store := memory.New()
	pro := seed(t, store, user.User{Email: "pro@x.it"})
	svc := New(store, store, &fakeGeo{}, 0, nil)

	_, _, err := svc.UpdateWorkAddress(context.Background(), pro.ID, WorkAddress{Address: "Via X", City: "Y", Province: "ZZ", PostalCode: "123"})
	se := errors.GetServiceError(err)
	if se == nil || se.Details["workProvince"] == nil || se.Details["workPostalCode"] == nil {
		t.Fatalf("expected field errors, got %v", err)
	}
}

func TestSettingsForbiddenForClients(t *testing.T) {
	store := memory.New()
	client, _ := store.CreateUser(context.Background(), user.User{Email: "c@x.it", Role: user.RoleClient})
	svc := New(store, store, &fakeGeo{}, 0, nil)
	if _, err := svc.GetSettings(context.Background(), client.ID); errors.HTTPStatusFor(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
