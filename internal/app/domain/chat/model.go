package chat

import (
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "[messaggio eliminato]"

// MessageType distinguishes user and system messages.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageSystem MessageType = "SYSTEM"
)

func (t MessageType) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(t)) }

func (t *MessageType) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*t = MessageType(v)
	return err
}

// Message is a request chat message.
type Message struct {
	ID        string      `json:"id"`
	RequestID string      `json:"requestId"`
	UserID    string      `json:"userId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	IsEdited  bool        `json:"isEdited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	IsDeleted bool        `json:"isDeleted"`
	ReadBy    []string    `json:"readBy,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ReadByUser reports whether userID has read the message.
func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// AIRole identifies the author of an assistant conversation turn.
type AIRole string

const (
	AIRoleUser      AIRole = "user"
	AIRoleAssistant AIRole = "assistant"
)

// AIMessage is a turn of a user's conversation with the assistant.
type AIMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	RequestID string    `json:"requestId,omitempty"`
	Role      AIRole    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
