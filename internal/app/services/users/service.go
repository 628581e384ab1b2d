// Package users manages profiles and notification preferences.
package users

import (
	"context"
	"strings"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Geocoder resolves a structured address.
type Geocoder interface {
	GeocodeParts(ctx context.Context, address, city, province, postalCode string) (geocoding.Result, error)
}

// ProfileUpdate changes profile fields. Nil fields are kept.
type ProfileUpdate struct {
	FirstName  *string `json:"firstName"`
	LastName   *string `json:"lastName"`
	Phone      *string `json:"phone"`
	Profession *string `json:"profession"`
	Address    *string `json:"address"`
	City       *string `json:"city"`
	Province   *string `json:"province"`
	PostalCode *string `json:"postalCode"`
}

func (p ProfileUpdate) touchesAddress() bool {
	return p.Address != nil || p.City != nil || p.Province != nil || p.PostalCode != nil
}

// PreferencesUpdate changes notification channels. Nil fields are kept.
type PreferencesUpdate struct {
	Email     *bool `json:"email"`
	Push      *bool `json:"push"`
	SMS       *bool `json:"sms"`
	WebSocket *bool `json:"websocket"`
}

// Service manages user profiles.
type Service struct {
	store storage.UserStore
	geo   Geocoder
	log   *logger.Logger
}

// New constructs the service. geo may be nil.
func New(store storage.UserStore, geo Geocoder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, geo: geo, log: log}
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// UpdateProfile applies upd. A changed residence is geocoded best effort.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (user.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&u.FirstName, upd.FirstName)
	set(&u.LastName, upd.LastName)
	set(&u.Phone, upd.Phone)
	set(&u.Profession, upd.Profession)
	set(&u.Address, upd.Address)
	set(&u.City, upd.City)
	set(&u.Province, upd.Province)
	set(&u.PostalCode, upd.PostalCode)
	u.Province = strings.ToUpper(u.Province)

	fields := map[string]string{}
	if u.FirstName == "" {
		fields["firstName"] = "first name is required"
	}
	if u.LastName == "" {
		fields["lastName"] = "last name is required"
	}
	if u.PostalCode != "" && !geocoding.ValidatePostalCode(u.PostalCode) {
		fields["postalCode"] = "postal code must be 5 digits"
	}
	if u.Province != "" && !geocoding.ValidateProvince(u.Province) {
		fields["province"] = "invalid province"
	}
	if len(fields) > 0 {
		return user.User{}, errors.Validation(fields)
	}

	if upd.touchesAddress() && s.geo != nil && u.Address != "" && u.City != "" {
		res, err := s.geo.GeocodeParts(ctx, u.Address, u.City, u.Province, u.PostalCode)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("residence geocoding failed")
		} else {
			loc := res.Location
			u.Location = &loc
		}
	}

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", userID).Info("profile updated")
	return updated, nil
}

// Preferences returns stored preferences or the defaults.
func (s *Service) Preferences(ctx context.Context, userID string) (user.NotificationPreferences, error) {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.DefaultPreferences(userID), nil
	}
	return prefs, err
}

// UpdatePreferences applies upd over the current preferences.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, upd PreferencesUpdate) (user.NotificationPreferences, error) {
	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return user.NotificationPreferences{}, err
	}
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&prefs.Email, upd.Email)
	apply(&prefs.Push, upd.Push)
	apply(&prefs.SMS, upd.SMS)
	apply(&prefs.WebSocket, upd.WebSocket)
	prefs.UserID = userID
	return s.store.SavePreferences(ctx, prefs)
}

// ListByRole returns users with any of the roles.
func (s *Service) ListByRole(ctx context.Context, roles ...user.Role) ([]user.User, error) {
	return s.store.ListUsers(ctx, roles...)
}
