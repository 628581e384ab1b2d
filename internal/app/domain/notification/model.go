package notification

import (
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// MaxSMSLength is the truncation applied to SMS bodies.
const MaxSMSLength = 160

// Priority drives channel selection.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority normalises a priority case-insensitively. Unknown values map to
// normal.
func ParsePriority(raw string) Priority {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityNormal
}

func (p Priority) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(p)) }

func (p *Priority) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*p = ParsePriority(v)
	return err
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelWebSocket Channel = "websocket"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
)

// DefaultChannels returns the channels used for a priority.
func DefaultChannels(p Priority) []Channel {
	switch p {
	case PriorityUrgent:
		return []Channel{ChannelWebSocket, ChannelEmail, ChannelSMS, ChannelPush}
	case PriorityHigh:
		return []Channel{ChannelWebSocket, ChannelEmail, ChannelPush}
	case PriorityNormal:
		return []Channel{ChannelWebSocket, ChannelEmail}
	default:
		return []Channel{ChannelWebSocket}
	}
}

// DeliveryStatus is the outcome of a channel delivery.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
)

// Notification is a stored message for a recipient.
type Notification struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipientId"`
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Priority    Priority               `json:"priority"`
	Data        map[string]interface{} `json:"data,omitempty"`
	IsRead      bool                   `json:"isRead"`
	ReadAt      *time.Time             `json:"readAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Log records a delivery attempt on one channel.
type Log struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notificationId"`
	RecipientID    string         `json:"recipientId"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Content        string         `json:"content,omitempty"`
	Error          string         `json:"error,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Message is the input of a send operation.
type Message struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Content  string                 `json:"message"`
	Priority Priority               `json:"priority"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Channels []Channel              `json:"channels,omitempty"`
}

// Result reports a fan-out outcome.
type Result struct {
	NotificationID string `json:"notificationId"`
	Sent           int    `json:"sent"`
	Failed         int    `json:"failed"`
}

// Filter narrows notification listings.
type Filter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
