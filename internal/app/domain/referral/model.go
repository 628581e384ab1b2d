package referral

import (
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// Reward constants in points.
const (
	RewardReferrerSignup     = 20
	RewardReferrerConversion = 50
	RewardRefereeBonus       = 10
	ExpiryDays               = 90
)

// Status tracks a referral through signup and conversion.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRegistered Status = "REGISTERED"
	StatusConverted  Status = "CONVERTED"
	StatusExpired    Status = "EXPIRED"
)

func (s Status) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(s)) }

func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*s = Status(v)
	return err
}

// Referral is an invitation sent by a referrer.
type Referral struct {
	ID             string     `json:"id"`
	ReferrerID     string     `json:"referrerId"`
	RefereeID      string     `json:"refereeId,omitempty"`
	Code           string     `json:"code"`
	Email          string     `json:"email,omitempty"`
	Status         Status     `json:"status"`
	ClickedAt      *time.Time `json:"clickedAt,omitempty"`
	RegisteredAt   *time.Time `json:"registeredAt,omitempty"`
	ConvertedAt    *time.Time `json:"convertedAt,omitempty"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ReferrerReward int        `json:"referrerReward"`
	RefereeReward  int        `json:"refereeReward"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TransactionType classifies point ledger entries.
type TransactionType string

const (
	TransactionEarned TransactionType = "EARNED"
	TransactionSpent  TransactionType = "SPENT"
)

func (t TransactionType) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(t)) }

func (t *TransactionType) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*t = TransactionType(v)
	return err
}

// UserPoints is the running balance of a user.
type UserPoints struct {
	UserID      string    `json:"userId"`
	Points      int       `json:"points"`
	TotalEarned int       `json:"totalEarned"`
	TotalSpent  int       `json:"totalSpent"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PointTransaction is a ledger entry.
type PointTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Points      int             `json:"points"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	ReferralID  string          `json:"referralId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// CodeInfo is the shareable referral code of a user.
type CodeInfo struct {
	Code         string `json:"code"`
	Link         string `json:"link"`
	ShareText    string `json:"shareText"`
	WhatsAppText string `json:"whatsappText"`
}

// Stats summarises a user's referral activity.
type Stats struct {
	Total             int        `json:"total"`
	Pending           int        `json:"pending"`
	Registered        int        `json:"registered"`
	Converted         int        `json:"converted"`
	Expired           int        `json:"expired"`
	TotalPointsEarned int        `json:"totalPointsEarned"`
	CurrentPoints     int        `json:"currentPoints"`
	Recent            []Referral `json:"recent"`
}

// Signup is a recently registered referee.
type Signup struct {
	ReferralID   string    `json:"referralId"`
	ReferrerID   string    `json:"referrerId"`
	RefereeID    string    `json:"refereeId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Analytics is the platform-wide referral summary.
type Analytics struct {
	StatusBreakdown map[string]int `json:"statusBreakdown"`
	ConversionRate  string         `json:"conversionRate"`
	TotalUsers      int            `json:"totalUsers"`
	RecentSignups   []Signup       `json:"recentSignups"`
}
