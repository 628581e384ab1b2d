// Package requests manages assistance requests and their lifecycle.
package requests

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// EventStatusChanged is emitted to the request room on every status change.
const EventStatusChanged = "request:statusChanged"

// Geocoder resolves a structured address.
type Geocoder interface {
	GeocodeParts(ctx context.Context, address, city, province, postalCode string) (geocoding.Result, error)
}

// Notifier delivers request notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
	SendToAdmins(ctx context.Context, msg notification.Message) (int, error)
	EmitToRequest(requestID, event string, data interface{})
}

// Travel computes the professional's trip to a request.
type Travel interface {
	RequestTravelInfo(ctx context.Context, requestID, professionalID string) (request.TravelInfo, error)
}

// Referrals converts referrals on the client's first request.
type Referrals interface {
	TrackFirstRequest(ctx context.Context, refereeID string) (bool, error)
}

// ChatCloser closes the chat of a request that reached a terminal state.
type ChatCloser interface {
	Close(ctx context.Context, requestID string, status request.Status) error
}

// QuoteCloser rejects the open quotes of a cancelled request.
type QuoteCloser interface {
	RejectPendingQuotes(ctx context.Context, requestID, reason string, at time.Time) (int, error)
}

// Categories checks that a request references an active category and, when
// given, one of its subcategories.
type Categories interface {
	Validate(ctx context.Context, categoryID, subcategoryID string) error
}

// Publisher emits domain events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   user.Role
}

// Input carries the fields of a new or updated request.
type Input struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	CategoryID    string           `json:"categoryId"`
	SubcategoryID string           `json:"subcategoryId"`
	Priority      request.Priority `json:"priority"`
	Address       string           `json:"address"`
	City          string           `json:"city"`
	Province      string           `json:"province"`
	PostalCode    string           `json:"postalCode"`
	RequestedDate *time.Time       `json:"requestedDate"`
	PublicNotes   string           `json:"publicNotes"`
}

func (in *Input) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.SubcategoryID = strings.TrimSpace(in.SubcategoryID)
	in.Address = strings.TrimSpace(in.Address)
	in.City = strings.TrimSpace(in.City)
	in.Province = strings.ToUpper(strings.TrimSpace(in.Province))
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	if in.Priority == "" {
		in.Priority = request.PriorityMedium
	}
}

func (in Input) validate() error {
	fields := map[string]string{}
	required := map[string]string{
		"title":       in.Title,
		"description": in.Description,
		"categoryId":  in.CategoryID,
		"address":     in.Address,
		"city":        in.City,
		"province":    in.Province,
		"postalCode":  in.PostalCode,
	}
	for name, value := range required {
		if value == "" {
			fields[name] = name + " is required"
		}
	}
	if in.PostalCode != "" && !geocoding.ValidatePostalCode(in.PostalCode) {
		fields["postalCode"] = "postal code must be 5 digits"
	}
	if in.Province != "" && !geocoding.ValidateProvince(in.Province) {
		fields["province"] = "invalid province"
	}
	if !request.ValidPriority(in.Priority) {
		fields["priority"] = "priority must be LOW, MEDIUM, HIGH or URGENT"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// ListFilter narrows a listing.
type ListFilter struct {
	Status     request.Status
	Priority   request.Priority
	CategoryID string
}

// Service manages assistance requests.
type Service struct {
	store     storage.RequestStore
	users     storage.UserStore
	geo       Geocoder
	notifier  Notifier
	travel    Travel
	referrals Referrals
	chat      ChatCloser
	quotes    QuoteCloser
	catalog   Categories
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the request service.
func New(store storage.RequestStore, users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	return &Service{store: store, users: users, log: log, now: time.Now}
}

// AttachDependencies wires the optional collaborators. Any may be nil.
func (s *Service) AttachDependencies(geo Geocoder, notifier Notifier, travel Travel, referrals Referrals, chat ChatCloser) {
	s.geo = geo
	s.notifier = notifier
	s.travel = travel
	s.referrals = referrals
	s.chat = chat
}

// AttachCatalog wires category validation and the quote store used to close
// quotes when a request is cancelled.
func (s *Service) AttachCatalog(catalog Categories, quotes QuoteCloser) {
	s.catalog = catalog
	s.quotes = quotes
}

// AttachPublisher wires the broker used for request.created events.
func (s *Service) AttachPublisher(publisher Publisher) {
	s.publisher = publisher
}

func (s *Service) geocode(ctx context.Context, req *request.Request) {
	if s.geo == nil {
		return
	}
	res, err := s.geo.GeocodeParts(ctx, req.Address, req.City, req.Province, req.PostalCode)
	if err != nil {
		s.log.WithError(err).WithField("request_id", req.ID).Warn("request geocoding failed")
		return
	}
	loc := res.Location
	req.Location = &loc
}

// Create opens a PENDING request for the client.
func (s *Service) Create(ctx context.Context, clientID string, in Input) (request.Request, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return request.Request{}, err
	}
	if s.catalog != nil {
		if err := s.catalog.Validate(ctx, in.CategoryID, in.SubcategoryID); err != nil {
			return request.Request{}, err
		}
	}
	previous, err := s.store.CountRequestsByClient(ctx, clientID)
	if err != nil {
		return request.Request{}, err
	}

	req := request.Request{
		Title:         in.Title,
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		SubcategoryID: strings.TrimSpace(in.SubcategoryID),
		ClientID:      clientID,
		Status:        request.StatusPending,
		Priority:      in.Priority,
		Address:       in.Address,
		City:          in.City,
		Province:      in.Province,
		PostalCode:    in.PostalCode,
		RequestedDate: in.RequestedDate,
		PublicNotes:   strings.TrimSpace(in.PublicNotes),
	}
	s.geocode(ctx, &req)

	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return request.Request{}, err
	}
	s.log.WithField("request_id", created.ID).WithField("client_id", clientID).Info("request created")

	if s.notifier != nil {
		if _, err := s.notifier.SendToAdmins(ctx, notification.Message{
			Type:     "NEW_REQUEST",
			Title:    "Nuova richiesta di assistenza",
			Content:  fmt.Sprintf("Nuova richiesta \"%s\" a %s (%s)", created.Title, created.City, created.Province),
			Priority: notification.PriorityNormal,
			Data:     map[string]interface{}{"requestId": created.ID},
		}); err != nil {
			s.log.WithError(err).Warn("admin notification failed")
		}
	}
	if previous == 0 && s.referrals != nil {
		if _, err := s.referrals.TrackFirstRequest(ctx, clientID); err != nil {
			s.log.WithError(err).WithField("client_id", clientID).Warn("referral conversion failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, mq.RKRequestCreated, created); err != nil {
			s.log.WithError(err).WithField("request_id", created.ID).Warn("request.created publish failed")
		}
	}
	return created, nil
}

// List returns the requests visible to the actor.
func (s *Service) List(ctx context.Context, actor Actor, filter ListFilter, page storage.Page) ([]request.Request, int, error) {
	f := request.Filter{Status: filter.Status, Priority: filter.Priority, CategoryID: filter.CategoryID}
	switch {
	case actor.Role.IsAdmin():
	case actor.Role == user.RoleProfessional:
		f.ProfessionalID = actor.UserID
		f.IncludePending = true
	default:
		f.ClientID = actor.UserID
	}
	items, total, err := s.store.ListRequests(ctx, f, page)
	if err != nil {
		return nil, 0, err
	}
	if actor.Role == user.RoleProfessional {
		s.attachDistances(ctx, actor.UserID, items)
	}
	return items, total, nil
}

func (s *Service) attachDistances(ctx context.Context, professionalID string, items []request.Request) {
	pro, err := s.users.GetUser(ctx, professionalID)
	if err != nil {
		return
	}
	origin := pro.StartingPoint()
	if origin == nil {
		return
	}
	for i := range items {
		if items[i].Location == nil {
			continue
		}
		km := math.Round(geocoding.Haversine(*origin, *items[i].Location)*100) / 100
		items[i].DistanceKm = &km
	}
}

func canView(req request.Request, actor Actor) bool {
	switch {
	case actor.Role.IsAdmin(), req.ClientID == actor.UserID:
		return true
	case actor.Role == user.RoleProfessional:
		return req.ProfessionalID == actor.UserID || (req.ProfessionalID == "" && req.Status == request.StatusPending)
	}
	return false
}

// Get returns a request the actor may view.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	if !canView(req, actor) {
		return request.Request{}, errors.Forbidden("You cannot view this request")
	}
	return req, nil
}

// Update changes the request fields while it is PENDING or ASSIGNED.
func (s *Service) Update(ctx context.Context, actor Actor, id string, in Input) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	if req.ClientID != actor.UserID && !actor.Role.IsAdmin() {
		return request.Request{}, errors.Forbidden("Only the owner can modify this request")
	}
	if req.Status != request.StatusPending && req.Status != request.StatusAssigned {
		return request.Request{}, errors.BadRequest("request %s can no longer be modified in status %s", id, req.Status)
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return request.Request{}, err
	}
	if s.catalog != nil {
		if err := s.catalog.Validate(ctx, in.CategoryID, in.SubcategoryID); err != nil {
			return request.Request{}, err
		}
	}

	moved := in.Address != req.Address || in.City != req.City || in.Province != req.Province || in.PostalCode != req.PostalCode
	req.Title = in.Title
	req.Description = in.Description
	req.CategoryID = in.CategoryID
	req.SubcategoryID = strings.TrimSpace(in.SubcategoryID)
	req.Priority = in.Priority
	req.Address = in.Address
	req.City = in.City
	req.Province = in.Province
	req.PostalCode = in.PostalCode
	req.RequestedDate = in.RequestedDate
	req.PublicNotes = strings.TrimSpace(in.PublicNotes)
	if moved {
		req.Location = nil
		s.geocode(ctx, &req)
	}
	return s.store.UpdateRequest(ctx, req)
}

// professionalSteps are the only moves the assigned professional may make.
var professionalSteps = map[request.Status]request.Status{
	request.StatusAssigned:   request.StatusInProgress,
	request.StatusInProgress: request.StatusCompleted,
}

func canChangeStatus(req request.Request, actor Actor, to request.Status) bool {
	switch {
	case actor.Role.IsAdmin():
		return true
	case actor.Role == user.RoleProfessional && req.ProfessionalID == actor.UserID:
		next, ok := professionalSteps[req.Status]
		return ok && next == to
	case req.ClientID == actor.UserID:
		return to == request.StatusCancelled
	}
	return false
}

// UpdateStatus moves the request along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, to request.Status) (request.Request, error) {
	if !request.ValidStatus(to) {
		return request.Request{}, errors.Validation(map[string]string{"status": "unknown status"})
	}
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	if !canChangeStatus(req, actor, to) {
		return request.Request{}, errors.Forbidden("You cannot change the status of this request")
	}
	if !request.CanTransition(req.Status, to) {
		return request.Request{}, errors.BadRequest("invalid status transition from %s to %s", req.Status, to)
	}
	if to == request.StatusAssigned && req.ProfessionalID == "" {
		return request.Request{}, errors.Validation(map[string]string{"professionalId": "a professional is required to assign the request"})
	}

	from, professionalID := req.Status, req.ProfessionalID
	req.Status = to
	now := s.now().UTC()
	switch to {
	case request.StatusCompleted:
		req.CompletedDate = &now
	case request.StatusPending:
		req.ProfessionalID = ""
		req.AssignedAt = nil
		req.Travel = nil
	}
	updated, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		return request.Request{}, err
	}
	s.log.WithField("request_id", id).
		WithField("from", string(from)).
		WithField("to", string(to)).
		Info("request status changed")

	if s.notifier != nil {
		s.notifier.EmitToRequest(id, EventStatusChanged, map[string]interface{}{
			"requestId": id, "from": from, "to": to,
		})
		msg := notification.Message{
			Type:     "REQUEST_STATUS_CHANGED",
			Title:    "Stato richiesta aggiornato",
			Content:  fmt.Sprintf("La richiesta \"%s\" è passata a %s", updated.Title, to),
			Priority: notification.PriorityNormal,
			Data:     map[string]interface{}{"requestId": id, "status": to},
		}
		for _, recipient := range []string{updated.ClientID, professionalID} {
			if recipient == "" || recipient == actor.UserID {
				continue
			}
			if _, err := s.notifier.SendToUser(ctx, recipient, msg); err != nil {
				s.log.WithError(err).WithField("request_id", id).Warn("status notification failed")
			}
		}
	}
	if to == request.StatusCancelled && s.quotes != nil {
		if n, err := s.quotes.RejectPendingQuotes(ctx, id, "request cancelled", now); err != nil {
			s.log.WithError(err).WithField("request_id", id).Warn("closing pending quotes failed")
		} else if n > 0 {
			s.log.WithField("request_id", id).WithField("quotes", n).Info("pending quotes rejected")
		}
	}
	if to.Terminal() && s.chat != nil {
		if err := s.chat.Close(ctx, id, to); err != nil {
			s.log.WithError(err).WithField("request_id", id).Warn("closing request chat failed")
		}
	}
	return updated, nil
}

// AssignProfessional assigns a PENDING or ASSIGNED request to a professional.
func (s *Service) AssignProfessional(ctx context.Context, id, professionalID string) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status != request.StatusPending && req.Status != request.StatusAssigned {
		return request.Request{}, errors.BadRequest("request %s cannot be assigned in status %s", id, req.Status)
	}
	pro, err := s.users.GetUser(ctx, professionalID)
	if err != nil {
		return request.Request{}, err
	}
	if pro.Role != user.RoleProfessional {
		return request.Request{}, errors.BadRequest("user %s is not a professional", professionalID)
	}

	now := s.now().UTC()
	req.ProfessionalID = pro.ID
	req.Status = request.StatusAssigned
	req.AssignedAt = &now
	req.Travel = nil
	updated, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		return request.Request{}, err
	}

	if s.travel != nil {
		info, err := s.travel.RequestTravelInfo(ctx, id, pro.ID)
		if err != nil {
			s.log.WithError(err).WithField("request_id", id).Warn("travel info unavailable")
		} else {
			updated.Travel = &info
			if stored, err := s.store.UpdateRequest(ctx, updated); err == nil {
				updated = stored
			}
		}
	}
	s.log.WithField("request_id", id).WithField("professional_id", pro.ID).Info("request assigned")

	if s.notifier != nil {
		s.notifier.EmitToRequest(id, EventStatusChanged, map[string]interface{}{
			"requestId": id, "to": request.StatusAssigned, "professionalId": pro.ID,
		})
		for recipient, content := range map[string]string{
			pro.ID:           fmt.Sprintf("Ti è stata assegnata la richiesta \"%s\"", updated.Title),
			updated.ClientID: fmt.Sprintf("%s è stato assegnato alla tua richiesta \"%s\"", pro.FullName(), updated.Title),
		} {
			if _, err := s.notifier.SendToUser(ctx, recipient, notification.Message{
				Type:     "REQUEST_ASSIGNED",
				Title:    "Richiesta assegnata",
				Content:  content,
				Priority: notification.PriorityHigh,
				Data:     map[string]interface{}{"requestId": id},
			}); err != nil {
				s.log.WithError(err).WithField("request_id", id).Warn("assignment notification failed")
			}
		}
	}
	return updated, nil
}

// Delete removes a request and its quotes unless work has started.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.ClientID != actor.UserID && !actor.Role.IsAdmin() {
		return errors.Forbidden("Only the owner can delete this request")
	}
	if req.Status == request.StatusInProgress || req.Status == request.StatusCompleted {
		return errors.Conflict("request %s cannot be deleted in status %s", id, req.Status)
	}
	if err := s.store.DeleteRequest(ctx, id); err != nil {
		return err
	}
	s.log.WithField("request_id", id).Info("request deleted")
	return nil
}

// Stats counts requests per status.
func (s *Service) Stats(ctx context.Context) (request.Stats, error) {
	return s.store.RequestStats(ctx)
}
