package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

func pageOf(offset, limit int) storage.Page {
	if offset < 0 {
		offset = 0
	}
	return storage.Page{Offset: offset, Limit: limit}
}

// ArticleStore implementation -------------------------------------------------

func (s *Store) CreateArticle(_ context.Context, a knowledge.Article) (knowledge.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Tags = cloneStrings(a.Tags)
	s.articles[a.ID] = a
	return a, nil
}

func (s *Store) UpdateArticle(_ context.Context, a knowledge.Article) (knowledge.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.articles[a.ID]
	if !ok {
		return knowledge.Article{}, notFound("article", a.ID)
	}
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	a.Tags = cloneStrings(a.Tags)
	s.articles[a.ID] = a
	return a, nil
}

func (s *Store) GetArticle(_ context.Context, id string) (knowledge.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return knowledge.Article{}, notFound("article", id)
	}
	a.Tags = cloneStrings(a.Tags)
	return a, nil
}

func (s *Store) ListArticles(_ context.Context, publishedOnly bool) ([]knowledge.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]knowledge.Article, 0, len(s.articles))
	for _, a := range s.articles {
		if publishedOnly && !a.Published {
			continue
		}
		a.Tags = cloneStrings(a.Tags)
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].UpdatedAt, result[j].UpdatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteArticle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articles[id]; !ok {
		return notFound("article", id)
	}
	delete(s.articles, id)
	return nil
}

// ChatStore implementation ----------------------------------------------------

func cloneMessage(m chat.Message) chat.Message {
	m.ReadBy = cloneStrings(m.ReadBy)
	return m
}

func (s *Store) CreateMessage(_ context.Context, m chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	m.CreatedAt = time.Now().UTC()
	s.messages[m.ID] = cloneMessage(m)
	return cloneMessage(m), nil
}

func (s *Store) UpdateMessage(_ context.Context, m chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.messages[m.ID]
	if !ok {
		return chat.Message{}, notFound("message", m.ID)
	}
	m.CreatedAt = original.CreatedAt
	s.messages[m.ID] = cloneMessage(m)
	return cloneMessage(m), nil
}

func (s *Store) GetMessage(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return chat.Message{}, notFound("message", id)
	}
	return cloneMessage(m), nil
}

// ListMessages pages newest first; callers reverse a page for display.
func (s *Store) ListMessages(_ context.Context, requestID string, page storage.Page) ([]chat.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []chat.Message
	for _, m := range s.messages {
		if m.RequestID == requestID {
			result = append(result, cloneMessage(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return window(result, page), len(result), nil
}

func (s *Store) MarkMessagesRead(_ context.Context, requestID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.messages {
		if m.RequestID != requestID || m.UserID == userID || m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(cloneStrings(m.ReadBy), userID)
		s.messages[id] = m
		count++
	}
	return count, nil
}

func (s *Store) CountUnreadMessages(_ context.Context, requestID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages {
		if m.RequestID == requestID && m.UserID != userID && !m.IsDeleted && !m.ReadByUser(userID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) AppendAIMessage(_ context.Context, m chat.AIMessage) (chat.AIMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = s.nextIDLocked()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.aiMessages[m.UserID] = append(s.aiMessages[m.UserID], m)
	return m, nil
}

// ListAIMessages returns the last limit messages in chronological order.
func (s *Store) ListAIMessages(_ context.Context, userID string, limit int) ([]chat.AIMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.aiMessages[userID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]chat.AIMessage(nil), history...), nil
}

func (s *Store) DeleteAIMessages(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.aiMessages, userID)
	return nil
}
