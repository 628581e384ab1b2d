package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

// --- ArticleStore -----------------------------------------------------------

const articleColumns = `id, title, content, category, tags, published, author_id, created_at, updated_at`

type articleRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	Category  string    `db:"category"`
	Tags      []byte    `db:"tags"`
	Published bool      `db:"published"`
	AuthorID  string    `db:"author_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r articleRow) toDomain() knowledge.Article {
	a := knowledge.Article{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Category:  r.Category,
		Published: r.Published,
		AuthorID:  r.AuthorID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	fromJSON(r.Tags, &a.Tags)
	return a
}

func (s *Store) CreateArticle(ctx context.Context, a knowledge.Article) (knowledge.Article, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	tags, err := toJSON(a.Tags)
	if err != nil {
		return knowledge.Article{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_articles (`+articleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Title, a.Content, a.Category, tags, a.Published, a.AuthorID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return knowledge.Article{}, mapErr("article", a.ID, err)
	}
	return a, nil
}

func (s *Store) UpdateArticle(ctx context.Context, a knowledge.Article) (knowledge.Article, error) {
	a.UpdatedAt = time.Now().UTC()
	tags, err := toJSON(a.Tags)
	if err != nil {
		return knowledge.Article{}, err
	}
	var createdAt time.Time
	err = s.db.GetContext(ctx, &createdAt, `
		UPDATE kb_articles
		SET title = $2, content = $3, category = $4, tags = $5, published = $6, author_id = $7, updated_at = $8
		WHERE id = $1
		RETURNING created_at
	`, a.ID, a.Title, a.Content, a.Category, tags, a.Published, a.AuthorID, a.UpdatedAt)
	if err != nil {
		return knowledge.Article{}, mapErr("article", a.ID, err)
	}
	a.CreatedAt = createdAt
	return a, nil
}

func (s *Store) GetArticle(ctx context.Context, id string) (knowledge.Article, error) {
	var row articleRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+articleColumns+` FROM kb_articles WHERE id = $1`, id); err != nil {
		return knowledge.Article{}, mapErr("article", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListArticles(ctx context.Context, publishedOnly bool) ([]knowledge.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM kb_articles`
	if publishedOnly {
		query += ` WHERE published = TRUE`
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	result := make([]knowledge.Article, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kb_articles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(result, "article", id)
}

// --- ChatStore --------------------------------------------------------------

const messageColumns = `id, request_id, user_id, content, type, is_edited, edited_at, is_deleted, read_by, created_at`

type messageRow struct {
	ID        string     `db:"id"`
	RequestID string     `db:"request_id"`
	UserID    string     `db:"user_id"`
	Content   string     `db:"content"`
	Type      string     `db:"type"`
	IsEdited  bool       `db:"is_edited"`
	EditedAt  *time.Time `db:"edited_at"`
	IsDeleted bool       `db:"is_deleted"`
	ReadBy    []byte     `db:"read_by"`
	CreatedAt time.Time  `db:"created_at"`
}

func (r messageRow) toDomain() chat.Message {
	m := chat.Message{
		ID:        r.ID,
		RequestID: r.RequestID,
		UserID:    r.UserID,
		Content:   r.Content,
		Type:      chat.MessageType(r.Type),
		IsEdited:  r.IsEdited,
		EditedAt:  r.EditedAt,
		IsDeleted: r.IsDeleted,
		CreatedAt: r.CreatedAt,
	}
	fromJSON(r.ReadBy, &m.ReadBy)
	return m
}

func readByJSON(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return toJSON(ids)
}

func (s *Store) CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	readBy, err := readByJSON(m.ReadBy)
	if err != nil {
		return chat.Message{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.RequestID, m.UserID, m.Content, string(m.Type), m.IsEdited, m.EditedAt, m.IsDeleted, readBy, m.CreatedAt)
	if err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	readBy, err := readByJSON(m.ReadBy)
	if err != nil {
		return chat.Message{}, err
	}
	var createdAt time.Time
	err = s.db.GetContext(ctx, &createdAt, `
		UPDATE request_messages
		SET content = $2, is_edited = $3, edited_at = $4, is_deleted = $5, read_by = $6
		WHERE id = $1
		RETURNING created_at
	`, m.ID, m.Content, m.IsEdited, m.EditedAt, m.IsDeleted, readBy)
	if err != nil {
		return chat.Message{}, mapErr("message", m.ID, err)
	}
	m.CreatedAt = createdAt
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	var row messageRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM request_messages WHERE id = $1`, id); err != nil {
		return chat.Message{}, mapErr("message", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListMessages(ctx context.Context, requestID string, page storage.Page) ([]chat.Message, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM request_messages WHERE request_id = $1`, requestID); err != nil {
		return nil, 0, err
	}
	var rows []messageRow
	query := `SELECT ` + messageColumns + ` FROM request_messages WHERE request_id = $1 ORDER BY created_at DESC, id DESC` + limitClause(page)
	if err := s.db.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, 0, err
	}
	result := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

// MarkMessagesRead appends userID to read_by on every message of the request
// written by someone else and not yet read by userID.
func (s *Store) MarkMessagesRead(ctx context.Context, requestID, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE request_messages
		SET read_by = read_by || to_jsonb($2::text)
		WHERE request_id = $1 AND user_id <> $2 AND NOT (read_by ? $2)
	`, requestID, userID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) CountUnreadMessages(ctx context.Context, requestID, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM request_messages
		WHERE request_id = $1 AND user_id <> $2 AND is_deleted = FALSE AND NOT (read_by ? $2)
	`, requestID, userID)
	return count, err
}

func (s *Store) AppendAIMessage(ctx context.Context, m chat.AIMessage) (chat.AIMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_messages (id, user_id, request_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.UserID, m.RequestID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		return chat.AIMessage{}, err
	}
	return m, nil
}

// ListAIMessages returns the last limit messages in chronological order.
func (s *Store) ListAIMessages(ctx context.Context, userID string, limit int) ([]chat.AIMessage, error) {
	inner := `SELECT id, user_id, request_id, role, content, created_at FROM ai_messages WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		inner += limitClause(storage.Page{Limit: limit})
	}
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM (`+inner+`) recent ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []chat.AIMessage
	for rows.Next() {
		var (
			m    chat.AIMessage
			role string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.RequestID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = chat.AIRole(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) DeleteAIMessages(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_messages WHERE user_id = $1`, userID)
	return err
}
