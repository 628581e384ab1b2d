// Package chat implements the message thread attached to every request.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	MaxContentLength = 5000
	DefaultPageSize  = 50
)

// Websocket events emitted to the request room.
const (
	EventMessage = "chat:message"
	EventUpdated = "chat:messageUpdated"
	EventDeleted = "chat:messageDeleted"
	EventRead    = "chat:read"
)

// Notifier delivers chat notifications and room events.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
	EmitToRequest(requestID, event string, data interface{})
}

// Service manages request chats.
type Service struct {
	store    storage.ChatStore
	requests storage.RequestStore
	users    storage.UserStore
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the chat service. notifier may be nil.
func New(store storage.ChatStore, requests storage.RequestStore, users storage.UserStore, notifier Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Service{store: store, requests: requests, users: users, notifier: notifier, log: log, now: time.Now}
}

func canAccess(req request.Request, userID string, role user.Role) bool {
	return role.IsAdmin() || req.ClientID == userID || (req.ProfessionalID != "" && req.ProfessionalID == userID)
}

// CanAccess reports whether the user may read and write the request chat:
// admins, the request's client and its assigned professional.
func (s *Service) CanAccess(ctx context.Context, userID, role, requestID string) bool {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return false
	}
	return canAccess(req, userID, user.Role(strings.ToUpper(role)))
}

// IsActive reports whether the request chat accepts new messages.
func (s *Service) IsActive(ctx context.Context, requestID string) (bool, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	return !req.Status.Terminal(), nil
}

func (s *Service) authorize(ctx context.Context, userID string, role user.Role, requestID string) (request.Request, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if !canAccess(req, userID, role) {
		return request.Request{}, errors.Forbidden("You cannot access this chat")
	}
	return req, nil
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > MaxContentLength {
		return "", errors.Validation(map[string]string{
			"content": fmt.Sprintf("content must be between 1 and %d characters", MaxContentLength),
		})
	}
	return content, nil
}

// Send posts a message and notifies the other parties.
func (s *Service) Send(ctx context.Context, userID string, role user.Role, requestID, content string) (chat.Message, error) {
	content, err := validateContent(content)
	if err != nil {
		return chat.Message{}, err
	}
	req, err := s.authorize(ctx, userID, role, requestID)
	if err != nil {
		return chat.Message{}, err
	}
	if req.Status.Terminal() {
		return chat.Message{}, errors.BadRequest("the chat of request %s is closed", requestID)
	}

	msg, err := s.store.CreateMessage(ctx, chat.Message{
		RequestID: requestID,
		UserID:    userID,
		Content:   content,
		Type:      chat.MessageText,
		ReadBy:    []string{userID},
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return chat.Message{}, err
	}

	if s.notifier != nil {
		s.notifier.EmitToRequest(requestID, EventMessage, msg)
		sender := "Un utente"
		if u, err := s.users.GetUser(ctx, userID); err == nil {
			sender = u.FullName()
		}
		for _, recipient := range []string{req.ClientID, req.ProfessionalID} {
			if recipient == "" || recipient == userID {
				continue
			}
			if _, err := s.notifier.SendToUser(ctx, recipient, notification.Message{
				Type:     "CHAT_MESSAGE",
				Title:    "Nuovo messaggio",
				Content:  fmt.Sprintf("%s ha scritto nella richiesta \"%s\"", sender, req.Title),
				Priority: notification.PriorityLow,
				Data:     map[string]interface{}{"requestId": requestID, "messageId": msg.ID},
			}); err != nil {
				s.log.WithError(err).WithField("request_id", requestID).Warn("chat notification failed")
			}
		}
	}
	return msg, nil
}

// Messages returns a page of messages, oldest first within the page.
func (s *Service) Messages(ctx context.Context, userID string, role user.Role, requestID string, page storage.Page) ([]chat.Message, int, error) {
	if _, err := s.authorize(ctx, userID, role, requestID); err != nil {
		return nil, 0, err
	}
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	msgs, total, err := s.store.ListMessages(ctx, requestID, page)
	if err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	for i := range msgs {
		if msgs[i].IsDeleted {
			msgs[i].Content = chat.DeletedPlaceholder
		}
	}
	return msgs, total, nil
}

func (s *Service) ownMessage(ctx context.Context, userID, messageID string) (chat.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.UserID != userID || msg.Type == chat.MessageSystem {
		return chat.Message{}, errors.Forbidden("You can only change your own messages")
	}
	if msg.IsDeleted {
		return chat.Message{}, errors.NotFound("message", messageID)
	}
	return msg, nil
}

// Update edits one of the user's messages.
func (s *Service) Update(ctx context.Context, userID, messageID, content string) (chat.Message, error) {
	content, err := validateContent(content)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	now := s.now().UTC()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	msg, err = s.store.UpdateMessage(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	if s.notifier != nil {
		s.notifier.EmitToRequest(msg.RequestID, EventUpdated, msg)
	}
	return msg, nil
}

// Delete soft-deletes one of the user's messages.
func (s *Service) Delete(ctx context.Context, userID, messageID string) error {
	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	msg.IsDeleted = true
	if _, err := s.store.UpdateMessage(ctx, msg); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.EmitToRequest(msg.RequestID, EventDeleted, map[string]string{"id": msg.ID})
	}
	return nil
}

// MarkRead marks every message of others as read by the user.
func (s *Service) MarkRead(ctx context.Context, userID string, role user.Role, requestID string) (int, error) {
	if _, err := s.authorize(ctx, userID, role, requestID); err != nil {
		return 0, err
	}
	n, err := s.store.MarkMessagesRead(ctx, requestID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.notifier != nil {
		s.notifier.EmitToRequest(requestID, EventRead, map[string]string{"userId": userID})
	}
	return n, nil
}

// UnreadCount counts messages of others the user has not read.
func (s *Service) UnreadCount(ctx context.Context, userID string, role user.Role, requestID string) (int, error) {
	if _, err := s.authorize(ctx, userID, role, requestID); err != nil {
		return 0, err
	}
	return s.store.CountUnreadMessages(ctx, requestID, userID)
}

// Close posts the system message that ends the chat of a request.
func (s *Service) Close(ctx context.Context, requestID string, status request.Status) error {
	text := "La richiesta è stata completata. La chat è ora chiusa."
	if status == request.StatusCancelled {
		text = "La richiesta è stata annullata. La chat è ora chiusa."
	}
	msg, err := s.store.CreateMessage(ctx, chat.Message{
		RequestID: requestID,
		UserID:    "system",
		Content:   text,
		Type:      chat.MessageSystem,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.EmitToRequest(requestID, EventMessage, msg)
	}
	s.log.WithField("request_id", requestID).WithField("status", string(status)).Info("request chat closed")
	return nil
}
