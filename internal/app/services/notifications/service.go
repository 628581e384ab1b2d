// Package notifications stores user notifications and fans them out to the
// websocket hub, email, SMS and push channels.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/realtime"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// DefaultRetentionDays is used by CleanupOld when no positive value is given.
const DefaultRetentionDays = 30

// EventNotification is the websocket event carrying a stored notification.
const EventNotification = "notification:new"

// Realtime is the subset of the websocket hub used for delivery.
type Realtime interface {
	EmitToUser(userID, event string, data interface{}) int
	EmitToRole(role, event string, data interface{}) int
	EmitToRequest(requestID, event string, data interface{}) int
	Broadcast(event string, data interface{}) int
	Status() realtime.Status
	Running() bool
}

// Publisher hands deliveries to the message queue.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
	Connected() bool
}

// Service manages notifications and their delivery.
type Service struct {
	users storage.UserStore
	store storage.NotificationStore
	hub   Realtime
	log   *logger.Logger

	mu      sync.RWMutex
	senders map[notification.Channel]Sender
	queue   Publisher
}

// New constructs a notification service. hub may be nil.
func New(users storage.UserStore, store storage.NotificationStore, hub Realtime, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{
		users:   users,
		store:   store,
		hub:     hub,
		log:     log,
		senders: make(map[notification.Channel]Sender),
	}
}

// WithSender registers the sender for an out-of-band channel.
func (s *Service) WithSender(channel notification.Channel, sender Sender) *Service {
	s.mu.Lock()
	s.senders[channel] = sender
	s.mu.Unlock()
	return s
}

// WithQueue routes email, SMS and push deliveries through the queue.
func (s *Service) WithQueue(queue Publisher) *Service {
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
	return s
}

// QueueConfigured reports whether deliveries go through the queue.
func (s *Service) QueueConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue != nil
}

// QueueConnected reports whether the configured queue is reachable.
func (s *Service) QueueConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue != nil && s.queue.Connected()
}

// HubRunning reports whether the websocket hub accepts clients.
func (s *Service) HubRunning() bool {
	return s.hub != nil && s.hub.Running()
}

func (s *Service) sender(channel notification.Channel) (Sender, Publisher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.senders[channel], s.queue
}

// SendToUser stores a notification for userID and delivers it on every
// channel concurrently. A failing channel never affects the others.
func (s *Service) SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error) {
	msg.Title = strings.TrimSpace(msg.Title)
	if msg.Title == "" {
		return notification.Result{}, errors.Validation(map[string]string{"title": "title is required"})
	}
	recipient, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return notification.Result{}, err
	}

	priority := notification.ParsePriority(string(msg.Priority))
	channels := msg.Channels
	if len(channels) == 0 {
		channels = notification.DefaultChannels(priority)
	}
	if msg.Type == "" {
		msg.Type = "GENERIC"
	}

	stored, err := s.store.CreateNotification(ctx, notification.Notification{
		RecipientID: recipient.ID,
		Type:        msg.Type,
		Title:       msg.Title,
		Content:     msg.Content,
		Priority:    priority,
		Data:        msg.Data,
	})
	if err != nil {
		return notification.Result{}, err
	}

	channels = s.filterByPreferences(ctx, recipient.ID, channels)
	outcomes := make([]notification.DeliveryStatus, len(channels))

	var g errgroup.Group
	for i, channel := range channels {
		i, channel := i, channel
		g.Go(func() error {
			outcomes[i] = s.deliver(ctx, recipient, stored, channel)
			return nil
		})
	}
	_ = g.Wait()

	result := notification.Result{NotificationID: stored.ID}
	for _, status := range outcomes {
		switch status {
		case notification.DeliveryFailed:
			result.Failed++
		default:
			result.Sent++
		}
	}

	s.log.WithField("notification_id", stored.ID).
		WithField("recipient_id", recipient.ID).
		WithField("type", stored.Type).
		WithField("priority", string(priority)).
		WithField("sent", result.Sent).
		WithField("failed", result.Failed).
		Info("notification dispatched")
	return result, nil
}

// filterByPreferences drops channels the user opted out of. The websocket
// channel is always kept.
func (s *Service) filterByPreferences(ctx context.Context, userID string, channels []notification.Channel) []notification.Channel {
	prefs, err := s.users.GetPreferences(ctx, userID)
	if err != nil {
		prefs = user.DefaultPreferences(userID)
	}
	seen := make(map[notification.Channel]bool, len(channels))
	filtered := make([]notification.Channel, 0, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		switch ch {
		case notification.ChannelEmail:
			if !prefs.Email {
				continue
			}
		case notification.ChannelSMS:
			if !prefs.SMS {
				continue
			}
		case notification.ChannelPush:
			if !prefs.Push {
				continue
			}
		case notification.ChannelWebSocket:
		default:
			continue
		}
		filtered = append(filtered, ch)
	}
	return filtered
}

func (s *Service) deliver(ctx context.Context, recipient user.User, n notification.Notification, channel notification.Channel) notification.DeliveryStatus {
	content := n.Content
	if channel == notification.ChannelSMS {
		content = truncate(content, notification.MaxSMSLength)
	}
	entry := notification.Log{
		NotificationID: n.ID,
		RecipientID:    recipient.ID,
		Channel:        channel,
		Content:        content,
	}

	var deliveryErr error
	switch channel {
	case notification.ChannelWebSocket:
		if s.hub != nil {
			s.hub.EmitToUser(recipient.ID, EventNotification, n)
		}
		entry.Status = notification.DeliverySent
	default:
		sender, queue := s.sender(channel)
		delivery := NewDelivery(recipient, n, channel, content)
		switch {
		case queue != nil:
			entry.Status = notification.DeliveryPending
			logged, err := s.store.CreateNotificationLog(ctx, entry)
			if err != nil {
				s.log.WithError(err).WithField("notification_id", n.ID).Warn("notification log write failed")
				return notification.DeliveryFailed
			}
			delivery.LogID = logged.ID
			if err := queue.Publish(ctx, mq.RKDeliveryPrefix+string(channel), delivery); err != nil {
				logged.Status = notification.DeliveryFailed
				logged.Error = err.Error()
				s.updateLog(ctx, logged)
				metrics.RecordNotification(string(channel), string(notification.DeliveryFailed))
				return notification.DeliveryFailed
			}
			metrics.RecordNotification(string(channel), string(notification.DeliveryPending))
			return notification.DeliveryPending
		case sender == nil:
			deliveryErr = fmt.Errorf("channel %s not configured", channel)
		default:
			deliveryErr = sender.Send(ctx, delivery)
		}
		if deliveryErr != nil {
			entry.Status = notification.DeliveryFailed
			entry.Error = deliveryErr.Error()
		} else {
			entry.Status = notification.DeliverySent
		}
	}

	if entry.Status == notification.DeliverySent {
		now := time.Now().UTC()
		entry.SentAt = &now
	}
	if _, err := s.store.CreateNotificationLog(ctx, entry); err != nil {
		s.log.WithError(err).WithField("notification_id", n.ID).Warn("notification log write failed")
	}
	if deliveryErr != nil {
		s.log.WithError(deliveryErr).
			WithField("notification_id", n.ID).
			WithField("channel", string(channel)).
			Warn("notification delivery failed")
	}
	metrics.RecordNotification(string(channel), string(entry.Status))
	return entry.Status
}

func (s *Service) updateLog(ctx context.Context, entry notification.Log) {
	if _, err := s.store.UpdateNotificationLog(ctx, entry); err != nil {
		s.log.WithError(err).WithField("log_id", entry.ID).Warn("notification log update failed")
	}
}

// SendToUsers sends msg to each user and returns how many succeeded.
func (s *Service) SendToUsers(ctx context.Context, users []user.User, msg notification.Message) int {
	delivered := 0
	for _, u := range users {
		if _, err := s.SendToUser(ctx, u.ID, msg); err != nil {
			s.log.WithError(err).WithField("recipient_id", u.ID).Warn("notification to user failed")
			continue
		}
		delivered++
	}
	return delivered
}

// SendToRole notifies every user holding role.
func (s *Service) SendToRole(ctx context.Context, role user.Role, msg notification.Message) (int, error) {
	if !role.Valid() {
		return 0, errors.BadRequest("invalid role %q", role)
	}
	users, err := s.users.ListUsers(ctx, role)
	if err != nil {
		return 0, err
	}
	return s.SendToUsers(ctx, users, msg), nil
}

// SendToAdmins notifies every ADMIN and SUPER_ADMIN.
func (s *Service) SendToAdmins(ctx context.Context, msg notification.Message) (int, error) {
	admins, err := s.users.ListUsers(ctx, user.RoleAdmin, user.RoleSuperAdmin)
	if err != nil {
		return 0, err
	}
	return s.SendToUsers(ctx, admins, msg), nil
}

// BroadcastToAll stores a notification for every user and pushes it over the
// websocket only.
func (s *Service) BroadcastToAll(ctx context.Context, msg notification.Message) (int, error) {
	if strings.TrimSpace(msg.Title) == "" {
		return 0, errors.Validation(map[string]string{"title": "title is required"})
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	msg.Channels = []notification.Channel{notification.ChannelWebSocket}
	if msg.Type == "" {
		msg.Type = "BROADCAST"
	}
	count := s.SendToUsers(ctx, users, msg)
	s.log.WithField("recipients", count).Info("broadcast sent")
	return count, nil
}

// EmitToUser pushes a websocket event without storing a notification.
func (s *Service) EmitToUser(userID, event string, data interface{}) {
	if s.hub != nil {
		s.hub.EmitToUser(userID, event, data)
	}
}

// EmitToRole pushes a websocket event to a role room.
func (s *Service) EmitToRole(role, event string, data interface{}) {
	if s.hub != nil {
		s.hub.EmitToRole(role, event, data)
	}
}

// EmitToRequest pushes a websocket event to a request room.
func (s *Service) EmitToRequest(requestID, event string, data interface{}) {
	if s.hub != nil {
		s.hub.EmitToRequest(requestID, event, data)
	}
}

// MarkAsRead marks a notification read. Only the recipient may do so.
func (s *Service) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.RecipientID != userID {
		return errors.NotFound("notification", notificationID)
	}
	return s.store.MarkNotificationRead(ctx, notificationID, time.Now().UTC())
}

// MarkAllAsRead marks every unread notification of userID read.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID, time.Now().UTC())
}

// ListForUser returns the user's notifications newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, filter notification.Filter) ([]notification.Notification, int, error) {
	return s.store.ListNotifications(ctx, userID, filter)
}

// CountUnread returns the number of unread notifications.
func (s *Service) CountUnread(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// CleanupOld deletes read notifications older than daysToKeep days.
func (s *Service) CleanupOld(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	deleted, err := s.store.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.WithField("deleted", deleted).WithField("days_to_keep", daysToKeep).Info("old notifications removed")
	return deleted, nil
}

// SocketStatus returns live websocket counts.
func (s *Service) SocketStatus() realtime.Status {
	if s.hub == nil {
		return realtime.Status{Rooms: map[string]int{}}
	}
	return s.hub.Status()
}

// DeliveryStats summarises delivery logs written since a point in time.
type DeliveryStats struct {
	Total       int     `json:"total"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	FailureRate float64 `json:"failureRate"`
}

// DeliveryStatsSince aggregates delivery logs created after since.
func (s *Service) DeliveryStatsSince(ctx context.Context, since time.Time) (DeliveryStats, error) {
	logs, err := s.store.ListNotificationLogsSince(ctx, since)
	if err != nil {
		return DeliveryStats{}, err
	}
	var stats DeliveryStats
	for _, l := range logs {
		stats.Total++
		switch l.Status {
		case notification.DeliveryFailed:
			stats.Failed++
		case notification.DeliveryPending:
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(stats.Total) * 100
	}
	return stats, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
