// Package travel computes the trip from a professional to a request address
// and prices it per kilometre.
package travel

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	// DefaultRatePerKm is the travel cost in cents per kilometre.
	DefaultRatePerKm int64 = 50
	MaxRatePerKm     int64 = 10000
)

// Geocoder resolves addresses and road distances.
type Geocoder interface {
	GeocodeParts(ctx context.Context, address, city, province, postalCode string) (geocoding.Result, error)
	Distance(ctx context.Context, origin, dest user.Location) (geocoding.Distance, error)
}

// Settings are a professional's travel preferences.
type Settings struct {
	WorkAddress               string         `json:"workAddress,omitempty"`
	WorkCity                  string         `json:"workCity,omitempty"`
	WorkProvince              string         `json:"workProvince,omitempty"`
	WorkPostalCode            string         `json:"workPostalCode,omitempty"`
	WorkLocation              *user.Location `json:"workLocation,omitempty"`
	UseResidenceAsWorkAddress bool           `json:"useResidenceAsWorkAddress"`
	RatePerKm                 int64          `json:"ratePerKm"`
	StartingPoint             *user.Location `json:"startingPoint,omitempty"`
}

// SettingsUpdate changes the rate or the residence toggle. Nil fields are kept.
type SettingsUpdate struct {
	RatePerKm                 *int64 `json:"ratePerKm"`
	UseResidenceAsWorkAddress *bool  `json:"useResidenceAsWorkAddress"`
}

// WorkAddress is the payload of UpdateWorkAddress.
type WorkAddress struct {
	Address                   string `json:"workAddress"`
	City                      string `json:"workCity"`
	Province                  string `json:"workProvince"`
	PostalCode                string `json:"workPostalCode"`
	UseResidenceAsWorkAddress bool   `json:"useResidenceAsWorkAddress"`
}

// Recalculation summarizes RecalculateForProfessional.
type Recalculation struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Service computes and stores travel information.
type Service struct {
	users       storage.UserStore
	requests    storage.RequestStore
	geo         Geocoder
	defaultRate int64
	log         *logger.Logger
	now         func() time.Time
}

// New constructs the service. A non-positive rate selects DefaultRatePerKm.
func New(users storage.UserStore, requests storage.RequestStore, geo Geocoder, defaultRate int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("travel")
	}
	if defaultRate <= 0 || defaultRate > MaxRatePerKm {
		defaultRate = DefaultRatePerKm
	}
	return &Service{
		users:       users,
		requests:    requests,
		geo:         geo,
		defaultRate: defaultRate,
		log:         log,
		now:         time.Now,
	}
}

// Cost returns round(km * ratePerKm) in cents.
func Cost(km float64, ratePerKm int64) int64 {
	return int64(math.Round(km * float64(ratePerKm)))
}

// ItineraryURL links to Google Maps driving directions between two points.
func ItineraryURL(origin, dest user.Location) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/%v,%v/%v,%v?travelmode=driving&dir_action=navigate",
		origin.Latitude, origin.Longitude, dest.Latitude, dest.Longitude)
}

func (s *Service) rateFor(pro user.User) int64 {
	if pro.TravelRatePerKm > 0 {
		return pro.TravelRatePerKm
	}
	return s.defaultRate
}

// Compute builds travel info between two points at ratePerKm.
func (s *Service) Compute(ctx context.Context, origin, dest user.Location, ratePerKm int64) (request.TravelInfo, error) {
	d, err := s.geo.Distance(ctx, origin, dest)
	if err != nil {
		return request.TravelInfo{}, err
	}
	km := math.Round(d.DistanceKm*100) / 100
	return request.TravelInfo{
		DistanceKm:      km,
		DurationMinutes: int(math.Round(d.DurationMinutes)),
		CostCents:       Cost(km, ratePerKm),
		ItineraryURL:    ItineraryURL(origin, dest),
		CalculatedAt:    s.now().UTC(),
	}, nil
}

// GetSettings returns the professional's travel settings.
func (s *Service) GetSettings(ctx context.Context, professionalID string) (Settings, error) {
	pro, err := s.professional(ctx, professionalID)
	if err != nil {
		return Settings{}, err
	}
	return s.settingsOf(pro), nil
}

func (s *Service) settingsOf(pro user.User) Settings {
	return Settings{
		WorkAddress:               pro.WorkAddress,
		WorkCity:                  pro.WorkCity,
		WorkProvince:              pro.WorkProvince,
		WorkPostalCode:            pro.WorkPostalCode,
		WorkLocation:              pro.WorkLocation,
		UseResidenceAsWorkAddress: pro.UseResidenceAsWorkAddress,
		RatePerKm:                 s.rateFor(pro),
		StartingPoint:             pro.StartingPoint(),
	}
}

// UpdateSettings changes the rate or the residence toggle.
func (s *Service) UpdateSettings(ctx context.Context, professionalID string, upd SettingsUpdate) (Settings, error) {
	pro, err := s.professional(ctx, professionalID)
	if err != nil {
		return Settings{}, err
	}
	if upd.RatePerKm != nil {
		// A stored zero means "use the platform default", so it cannot be set.
		if *upd.RatePerKm < 1 || *upd.RatePerKm > MaxRatePerKm {
			return Settings{}, errors.Validation(map[string]string{
				"ratePerKm": fmt.Sprintf("must be between 1 and %d", MaxRatePerKm),
			})
		}
		pro.TravelRatePerKm = *upd.RatePerKm
	}
	if upd.UseResidenceAsWorkAddress != nil {
		pro.UseResidenceAsWorkAddress = *upd.UseResidenceAsWorkAddress
	}
	pro, err = s.users.UpdateUser(ctx, pro)
	if err != nil {
		return Settings{}, err
	}
	return s.settingsOf(pro), nil
}

// UpdateWorkAddress geocodes and stores the work address, then refreshes the
// travel info of the professional's active requests.
func (s *Service) UpdateWorkAddress(ctx context.Context, professionalID string, in WorkAddress) (Settings, Recalculation, error) {
	pro, err := s.professional(ctx, professionalID)
	if err != nil {
		return Settings{}, Recalculation{}, err
	}

	pro.UseResidenceAsWorkAddress = in.UseResidenceAsWorkAddress
	if in.UseResidenceAsWorkAddress {
		pro.WorkAddress, pro.WorkCity, pro.WorkProvince, pro.WorkPostalCode = "", "", "", ""
		pro.WorkLocation = nil
	} else {
		fields := map[string]string{}
		if strings.TrimSpace(in.Address) == "" {
			fields["workAddress"] = "work address is required"
		}
		if strings.TrimSpace(in.City) == "" {
			fields["workCity"] = "work city is required"
		}
		if !geocoding.ValidateProvince(in.Province) {
			fields["workProvince"] = "invalid province"
		}
		if !geocoding.ValidatePostalCode(in.PostalCode) {
			fields["workPostalCode"] = "postal code must be 5 digits"
		}
		if len(fields) > 0 {
			return Settings{}, Recalculation{}, errors.Validation(fields)
		}
		geo, err := s.geo.GeocodeParts(ctx, in.Address, in.City, in.Province, in.PostalCode)
		if err != nil {
			return Settings{}, Recalculation{}, err
		}
		loc := geo.Location
		pro.WorkAddress = strings.TrimSpace(in.Address)
		pro.WorkCity = strings.TrimSpace(in.City)
		pro.WorkProvince = strings.ToUpper(strings.TrimSpace(in.Province))
		pro.WorkPostalCode = in.PostalCode
		pro.WorkLocation = &loc
	}

	pro, err = s.users.UpdateUser(ctx, pro)
	if err != nil {
		return Settings{}, Recalculation{}, err
	}
	s.log.WithField("professional_id", pro.ID).
		WithField("use_residence", pro.UseResidenceAsWorkAddress).
		Info("work address updated")

	summary, err := s.RecalculateForProfessional(ctx, pro.ID)
	return s.settingsOf(pro), summary, err
}

// RequestTravelInfo computes the trip from the professional to the request.
func (s *Service) RequestTravelInfo(ctx context.Context, requestID, professionalID string) (request.TravelInfo, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return request.TravelInfo{}, err
	}
	if req.Location == nil {
		return request.TravelInfo{}, errors.BadRequest("request %s has no coordinates", requestID)
	}
	pro, err := s.professional(ctx, professionalID)
	if err != nil {
		return request.TravelInfo{}, err
	}
	start := pro.StartingPoint()
	if start == nil {
		return request.TravelInfo{}, errors.BadRequest("professional %s has no address coordinates", professionalID)
	}
	return s.Compute(ctx, *start, *req.Location, s.rateFor(pro))
}

// RecalculateForProfessional recomputes and stores the travel info of every
// ASSIGNED or IN_PROGRESS request of the professional.
func (s *Service) RecalculateForProfessional(ctx context.Context, professionalID string) (Recalculation, error) {
	reqs, _, err := s.requests.ListRequests(ctx, request.Filter{ProfessionalID: professionalID}, storage.Page{})
	if err != nil {
		return Recalculation{}, err
	}
	var summary Recalculation
	for _, req := range reqs {
		if req.Status != request.StatusAssigned && req.Status != request.StatusInProgress {
			continue
		}
		summary.Total++
		info, err := s.RequestTravelInfo(ctx, req.ID, professionalID)
		if err != nil {
			summary.Failed++
			s.log.WithError(err).WithField("request_id", req.ID).Warn("travel recalculation failed")
			continue
		}
		req.Travel = &info
		if _, err := s.requests.UpdateRequest(ctx, req); err != nil {
			summary.Failed++
			s.log.WithError(err).WithField("request_id", req.ID).Warn("travel info not saved")
			continue
		}
		summary.Success++
	}
	s.log.WithField("professional_id", professionalID).
		WithField("total", summary.Total).
		WithField("failed", summary.Failed).
		Info("travel info recalculated")
	return summary, nil
}

func (s *Service) professional(ctx context.Context, id string) (user.User, error) {
	pro, err := s.users.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if pro.Role != user.RoleProfessional {
		return user.User{}, errors.Forbidden("travel settings are available to professionals only")
	}
	return pro, nil
}
