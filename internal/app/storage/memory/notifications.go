package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
)

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = s.nextIDLocked()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Data = cloneMap(n.Data)
	s.notifications[n.ID] = n
	return n, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, notFound("notification", id)
	}
	n.Data = cloneMap(n.Data)
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, filter notification.Filter) ([]notification.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		n.Data = cloneMap(n.Data)
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return window(result, pageOf(filter.Offset, filter.Limit)), len(result), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return notFound("notification", id)
	}
	if !n.IsRead {
		readAt := at.UTC()
		n.IsRead = true
		n.ReadAt = &readAt
		s.notifications[id] = n
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readAt := at.UTC()
	count := 0
	for id, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &readAt
			s.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (s *Store) CountUnread(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteReadBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.IsRead && n.CreatedAt.Before(cutoff) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateNotificationLog(_ context.Context, l notification.Log) (notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = s.nextIDLocked()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.notificationLogs[l.ID] = l
	return l, nil
}

func (s *Store) UpdateNotificationLog(_ context.Context, l notification.Log) (notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.notificationLogs[l.ID]
	if !ok {
		return notification.Log{}, notFound("notification log", l.ID)
	}
	l.CreatedAt = original.CreatedAt
	s.notificationLogs[l.ID] = l
	return l, nil
}

func (s *Store) ListNotificationLogsSince(_ context.Context, since time.Time) ([]notification.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Log
	for _, l := range s.notificationLogs {
		if !l.CreatedAt.Before(since) {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}
