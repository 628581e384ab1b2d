package user

import (
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleClient       Role = "CLIENT"
	RoleProfessional Role = "PROFESSIONAL"
	RoleAdmin        Role = "ADMIN"
	RoleSuperAdmin   Role = "SUPER_ADMIN"
)

func (r Role) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(r)) }

func (r *Role) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*r = Role(v)
	return err
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProfessional, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// Location is a geocoded coordinate pair.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// User is a client, professional or administrator account.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Phone        string `json:"phone,omitempty"`
	Role         Role   `json:"role"`
	Profession   string `json:"profession,omitempty"`
	ReferralCode string `json:"referralCode,omitempty"`

	Address    string    `json:"address,omitempty"`
	City       string    `json:"city,omitempty"`
	Province   string    `json:"province,omitempty"`
	PostalCode string    `json:"postalCode,omitempty"`
	Location   *Location `json:"location,omitempty"`

	WorkAddress               string    `json:"workAddress,omitempty"`
	WorkCity                  string    `json:"workCity,omitempty"`
	WorkProvince              string    `json:"workProvince,omitempty"`
	WorkPostalCode            string    `json:"workPostalCode,omitempty"`
	WorkLocation              *Location `json:"workLocation,omitempty"`
	UseResidenceAsWorkAddress bool      `json:"useResidenceAsWorkAddress"`
	TravelRatePerKm           int64     `json:"travelRatePerKm,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// NotificationPreferences selects the delivery channels a user accepts.
type NotificationPreferences struct {
	UserID    string    `json:"userId"`
	Email     bool      `json:"email"`
	Push      bool      `json:"push"`
	SMS       bool      `json:"sms"`
	WebSocket bool      `json:"websocket"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultPreferences returns the preferences applied when none are stored.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{UserID: userID, Email: true, Push: true, SMS: false, WebSocket: true}
}

// StartingPoint is where a professional's trips begin: the work location
// unless the residence is used as work address or no work location exists.
func (u User) StartingPoint() *Location {
	if !u.UseResidenceAsWorkAddress && u.WorkLocation != nil {
		return u.WorkLocation
	}
	return u.Location
}
