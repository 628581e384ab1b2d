package request

import (
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
)

// Status is the lifecycle state of an assistance request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(s)) }

func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*s = Status(v)
	return err
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// AcceptsQuotes reports whether a quote may still be accepted. Work that has
// started, finished or been cancelled keeps its professional.
func (s Status) AcceptsQuotes() bool { return s == StatusPending || s == StatusAssigned }

var transitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusPending, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority ranks request urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(p)) }

func (p *Priority) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*p = Priority(v)
	return err
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TravelInfo is the computed trip from a professional to the request address.
type TravelInfo struct {
	DistanceKm      float64   `json:"distanceKm"`
	DurationMinutes int       `json:"durationMinutes"`
	CostCents       int64     `json:"costCents"`
	ItineraryURL    string    `json:"itineraryUrl"`
	CalculatedAt    time.Time `json:"calculatedAt"`
}

// Request is a client's assistance request.
type Request struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	CategoryID     string   `json:"categoryId"`
	SubcategoryID  string   `json:"subcategoryId,omitempty"`
	ClientID       string   `json:"clientId"`
	ProfessionalID string   `json:"professionalId,omitempty"`
	Status         Status   `json:"status"`
	Priority       Priority `json:"priority"`

	Address    string         `json:"address"`
	City       string         `json:"city"`
	Province   string         `json:"province"`
	PostalCode string         `json:"postalCode"`
	Location   *user.Location `json:"location,omitempty"`

	RequestedDate *time.Time  `json:"requestedDate,omitempty"`
	AssignedAt    *time.Time  `json:"assignedAt,omitempty"`
	CompletedDate *time.Time  `json:"completedDate,omitempty"`
	PublicNotes   string      `json:"publicNotes,omitempty"`
	Travel        *TravelInfo `json:"travel,omitempty"`

	// DistanceKm is filled for professional listings only and never stored.
	DistanceKm *float64 `json:"distanceKm,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter narrows request listings.
type Filter struct {
	Status         Status
	Priority       Priority
	CategoryID     string
	ClientID       string
	ProfessionalID string
	// IncludePending adds unassigned PENDING requests to a professional filter.
	IncludePending bool
}

// Stats counts requests per status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}
