package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

const notificationColumns = `id, recipient_id, type, title, content, priority, data, is_read, read_at, created_at`

type notificationRow struct {
	ID          string     `db:"id"`
	RecipientID string     `db:"recipient_id"`
	Type        string     `db:"type"`
	Title       string     `db:"title"`
	Content     string     `db:"content"`
	Priority    string     `db:"priority"`
	Data        []byte     `db:"data"`
	IsRead      bool       `db:"is_read"`
	ReadAt      *time.Time `db:"read_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (r notificationRow) toDomain() notification.Notification {
	n := notification.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Type:        r.Type,
		Title:       r.Title,
		Content:     r.Content,
		Priority:    notification.ParsePriority(r.Priority),
		IsRead:      r.IsRead,
		ReadAt:      r.ReadAt,
		CreatedAt:   r.CreatedAt,
	}
	fromJSON(r.Data, &n.Data)
	return n
}

const notificationLogColumns = `id, notification_id, recipient_id, channel, status, content, error, sent_at, created_at`

type notificationLogRow struct {
	ID             string     `db:"id"`
	NotificationID string     `db:"notification_id"`
	RecipientID    string     `db:"recipient_id"`
	Channel        string     `db:"channel"`
	Status         string     `db:"status"`
	Content        string     `db:"content"`
	Error          string     `db:"error"`
	SentAt         *time.Time `db:"sent_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r notificationLogRow) toDomain() notification.Log {
	return notification.Log{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		RecipientID:    r.RecipientID,
		Channel:        notification.Channel(r.Channel),
		Status:         notification.DeliveryStatus(r.Status),
		Content:        r.Content,
		Error:          r.Error,
		SentAt:         r.SentAt,
		CreatedAt:      r.CreatedAt,
	}
}

// --- NotificationStore ------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var data []byte
	if len(n.Data) > 0 {
		raw, err := toJSON(n.Data)
		if err != nil {
			return notification.Notification{}, err
		}
		data = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.RecipientID, n.Type, n.Title, n.Content, string(n.Priority), data, n.IsRead, n.ReadAt, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	var row notificationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id); err != nil {
		return notification.Notification{}, mapErr("notification", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, filter notification.Filter) ([]notification.Notification, int, error) {
	where := ` WHERE recipient_id = $1`
	if filter.UnreadOnly {
		where += ` AND is_read = FALSE`
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications`+where, recipientID); err != nil {
		return nil, 0, err
	}
	var rows []notificationRow
	query := `SELECT ` + notificationColumns + ` FROM notifications` + where + ` ORDER BY created_at DESC, id DESC` +
		limitClause(storage.Page{Offset: filter.Offset, Limit: filter.Limit})
	if err := s.db.SelectContext(ctx, &rows, query, recipientID); err != nil {
		return nil, 0, err
	}
	result := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, $2) WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return mustAffect(result, "notification", id)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID, at.UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID)
	return count, err
}

func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) CreateNotificationLog(ctx context.Context, l notification.Log) (notification.Log, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (`+notificationLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.NotificationID, l.RecipientID, string(l.Channel), string(l.Status), l.Content, l.Error, l.SentAt, l.CreatedAt)
	if err != nil {
		return notification.Log{}, err
	}
	return l, nil
}

func (s *Store) UpdateNotificationLog(ctx context.Context, l notification.Log) (notification.Log, error) {
	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, `
		UPDATE notification_logs SET status = $2, error = $3, sent_at = $4
		WHERE id = $1
		RETURNING created_at
	`, l.ID, string(l.Status), l.Error, l.SentAt)
	if err != nil {
		return notification.Log{}, mapErr("notification log", l.ID, err)
	}
	l.CreatedAt = createdAt
	return l, nil
}

func (s *Store) ListNotificationLogsSince(ctx context.Context, since time.Time) ([]notification.Log, error) {
	var rows []notificationLogRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+notificationLogColumns+` FROM notification_logs WHERE created_at >= $1 ORDER BY created_at
	`, since); err != nil {
		return nil, err
	}
	result := make([]notification.Log, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
