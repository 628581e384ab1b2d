// Package aichat answers user questions with a generative model grounded on
// the knowledge base.
package aichat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	MaxMessageLength   = 4000
	HistoryTurns       = 10
	ContextArticles    = 3
	DefaultHistorySize = 50
)

const systemPrompt = `Sei l'assistente virtuale di Richiesta Assistenza, la piattaforma che mette in contatto clienti e professionisti per interventi di assistenza tecnica.
Rispondi sempre in italiano, in modo chiaro e cortese.
Usa gli articoli della knowledge base forniti come fonte principale. Se non conosci la risposta, dillo e suggerisci di contattare il supporto.
Non inventare prezzi, disponibilità o dati personali.`

// History persists conversation turns.
type History interface {
	AppendAIMessage(ctx context.Context, m chat.AIMessage) (chat.AIMessage, error)
	ListAIMessages(ctx context.Context, userID string, limit int) ([]chat.AIMessage, error)
	DeleteAIMessages(ctx context.Context, userID string) error
}

// Searcher retrieves knowledge base articles.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]knowledge.SearchResult, error)
}

// Options tune generation.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

// Source is a knowledge base article used to answer.
type Source struct {
	ArticleID string  `json:"articleId"`
	Title     string  `json:"title"`
	Score     float64 `json:"score"`
}

// Answer is the result of Ask.
type Answer struct {
	Reply   string         `json:"reply"`
	Sources []Source       `json:"sources"`
	Message chat.AIMessage `json:"message"`
}

// Service runs assistant conversations.
type Service struct {
	history   History
	kb        Searcher
	requests  storage.RequestStore
	generator Generator
	opts      Options
	log       *logger.Logger
}

// New constructs the assistant. kb, requests and generator may be nil.
func New(history History, kb Searcher, requests storage.RequestStore, generator Generator, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("aichat")
	}
	return &Service{history: history, kb: kb, requests: requests, generator: generator, opts: opts, log: log}
}

// Configured reports whether a generator is available.
func (s *Service) Configured() bool { return s.generator != nil }

// Ask sends message to the assistant on behalf of userID. requestID, when
// set, adds the request's details to the prompt.
func (s *Service) Ask(ctx context.Context, userID, message, requestID string) (Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > MaxMessageLength {
		return Answer{}, errors.Validation(map[string]string{
			"message": fmt.Sprintf("message must be between 1 and %d characters", MaxMessageLength),
		})
	}
	if s.generator == nil {
		return Answer{}, errors.Unavailable("AI assistant is not configured", nil)
	}

	system := systemPrompt
	if requestID != "" {
		details, err := s.requestContext(ctx, userID, requestID)
		if err != nil {
			return Answer{}, err
		}
		system += "\n\n" + details
	}

	sources := []Source{}
	if s.kb != nil {
		results, err := s.kb.Search(ctx, message, ContextArticles, 0)
		if err != nil {
			s.log.WithField("user_id", userID).WithError(err).Warn("knowledge base lookup failed")
		}
		if len(results) > 0 {
			var b strings.Builder
			b.WriteString("\n\nArticoli della knowledge base:\n")
			for _, r := range results {
				fmt.Fprintf(&b, "\n### %s\n%s\n", r.Article.Title, r.Article.Content)
				sources = append(sources, Source{ArticleID: r.Article.ID, Title: r.Article.Title, Score: r.Score})
			}
			system += b.String()
		}
	}

	history, err := s.history.ListAIMessages(ctx, userID, HistoryTurns)
	if err != nil {
		return Answer{}, err
	}

	reply, err := s.generator.Generate(ctx, Prompt{
		System:          system,
		History:         history,
		Message:         message,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Temperature:     s.opts.Temperature,
	})
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Error("assistant generation failed")
		return Answer{}, errors.Upstream("AI assistant is unavailable", err)
	}

	if _, err := s.history.AppendAIMessage(ctx, chat.AIMessage{
		UserID: userID, RequestID: requestID, Role: chat.AIRoleUser, Content: message,
	}); err != nil {
		return Answer{}, err
	}
	stored, err := s.history.AppendAIMessage(ctx, chat.AIMessage{
		UserID: userID, RequestID: requestID, Role: chat.AIRoleAssistant, Content: reply,
	})
	if err != nil {
		return Answer{}, err
	}
	s.log.WithField("user_id", userID).WithField("sources", len(sources)).Debug("assistant replied")
	return Answer{Reply: reply, Sources: sources, Message: stored}, nil
}

func (s *Service) requestContext(ctx context.Context, userID, requestID string) (string, error) {
	if s.requests == nil {
		return "", nil
	}
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.ClientID != userID && req.ProfessionalID != userID {
		return "", errors.Forbidden("You do not have access to this request")
	}
	return fmt.Sprintf("Richiesta di riferimento: %q (stato %s, priorità %s, %s).\n%s",
		req.Title, req.Status, req.Priority, req.City, req.Description), nil
}

// History returns the last limit turns of the user's conversation, oldest
// first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]chat.AIMessage, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	msgs, err := s.history.ListAIMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.AIMessage{}
	}
	return msgs, nil
}

// ClearHistory deletes the user's conversation.
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if err := s.history.DeleteAIMessages(ctx, userID); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("assistant history cleared")
	return nil
}
