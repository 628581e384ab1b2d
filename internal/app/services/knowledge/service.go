// Package knowledge manages help articles and their semantic search index.
package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	DefaultTopK     = 5
	DefaultMinScore = 0.3
)

// ArticleInput carries the editable fields of an article.
type ArticleInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
}

func (in ArticleInput) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(in.Content) == "" {
		fields["content"] = "content is required"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// Service manages articles. Without an embedder or index, search falls back
// to keyword matching.
type Service struct {
	store    storage.ArticleStore
	index    Index
	embedder Embedder
	log      *logger.Logger
}

// New constructs the knowledge base service. index and embedder may be nil.
func New(store storage.ArticleStore, index Index, embedder Embedder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("knowledge")
	}
	return &Service{store: store, index: index, embedder: embedder, log: log}
}

// Semantic reports whether vector search is available.
func (s *Service) Semantic() bool { return s.index != nil && s.embedder != nil }

// EmbedderName names the active embedder, or "keyword" without one.
func (s *Service) EmbedderName() string {
	if !s.Semantic() {
		return "keyword"
	}
	return s.embedder.Name()
}

// Create stores a new article and indexes it.
func (s *Service) Create(ctx context.Context, authorID string, in ArticleInput) (knowledge.Article, error) {
	if err := in.validate(); err != nil {
		return knowledge.Article{}, err
	}
	a, err := s.store.CreateArticle(ctx, knowledge.Article{
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		Category:  strings.TrimSpace(in.Category),
		Tags:      normalizeTags(in.Tags),
		Published: in.Published,
		AuthorID:  authorID,
	})
	if err != nil {
		return knowledge.Article{}, err
	}
	s.indexArticle(ctx, a)
	s.log.WithField("article_id", a.ID).Info("knowledge article created")
	return a, nil
}

// Update replaces the editable fields of an article and re-indexes it.
func (s *Service) Update(ctx context.Context, id string, in ArticleInput) (knowledge.Article, error) {
	if err := in.validate(); err != nil {
		return knowledge.Article{}, err
	}
	a, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return knowledge.Article{}, err
	}
	a.Title = strings.TrimSpace(in.Title)
	a.Content = in.Content
	a.Category = strings.TrimSpace(in.Category)
	a.Tags = normalizeTags(in.Tags)
	a.Published = in.Published
	updated, err := s.store.UpdateArticle(ctx, a)
	if err != nil {
		return knowledge.Article{}, err
	}
	s.indexArticle(ctx, updated)
	return updated, nil
}

// Delete removes an article and its vector.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteArticle(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			s.log.WithField("article_id", id).WithError(err).Warn("remove article vector failed")
		}
	}
	return nil
}

// Get returns an article. Unpublished articles are only visible to admins.
func (s *Service) Get(ctx context.Context, id string, includeDrafts bool) (knowledge.Article, error) {
	a, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return knowledge.Article{}, err
	}
	if !a.Published && !includeDrafts {
		return knowledge.Article{}, errors.NotFound("article", id)
	}
	return a, nil
}

// List returns articles, drafts included only when includeDrafts is set.
func (s *Service) List(ctx context.Context, includeDrafts bool) ([]knowledge.Article, error) {
	articles, err := s.store.ListArticles(ctx, !includeDrafts)
	if err != nil {
		return nil, err
	}
	if articles == nil {
		articles = []knowledge.Article{}
	}
	return articles, nil
}

// Reindex embeds every article and returns how many were indexed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.Semantic() {
		return 0, errors.Unavailable("semantic index is not configured", nil)
	}
	articles, err := s.store.ListArticles(ctx, false)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		vec, err := s.embedder.Embed(ctx, a.IndexText())
		if err != nil {
			return indexed, errors.Upstream("embed article", err)
		}
		if err := s.index.Upsert(ctx, a.ID, s.embedder.Name(), vec); err != nil {
			return indexed, err
		}
		indexed++
	}
	s.log.WithField("articles", indexed).WithField("embedder", s.embedder.Name()).Info("knowledge base reindexed")
	return indexed, nil
}

// Search ranks published articles against query. topK <= 0 and
// minScore <= 0 select the defaults.
func (s *Service) Search(ctx context.Context, query string, topK int, minScore float64) ([]knowledge.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Validation(map[string]string{"query": "query is required"})
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	articles, err := s.store.ListArticles(ctx, true)
	if err != nil {
		return nil, err
	}

	var results []knowledge.SearchResult
	if s.Semantic() {
		results, err = s.semanticSearch(ctx, query, articles, minScore)
		if err != nil {
			s.log.WithError(err).Warn("semantic search failed, using keyword matching")
			results = nil
		}
	}
	if results == nil {
		results = KeywordSearch(query, articles, minScore)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Service) semanticSearch(ctx context.Context, query string, articles []knowledge.Article, minScore float64) ([]knowledge.SearchResult, error) {
	qvec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	vectors, err := s.index.Vectors(ctx, s.embedder.Name())
	if err != nil {
		return nil, err
	}
	results := []knowledge.SearchResult{}
	for _, a := range articles {
		vec, ok := vectors[a.ID]
		if !ok {
			continue
		}
		if score := Cosine(qvec, vec); score >= minScore {
			results = append(results, knowledge.SearchResult{Article: a, Score: score})
		}
	}
	return results, nil
}

// KeywordSearch scores articles by the share of query tokens found in their
// title, content, category or tags.
func KeywordSearch(query string, articles []knowledge.Article, minScore float64) []knowledge.SearchResult {
	tokens := Tokenize(query)
	results := []knowledge.SearchResult{}
	if len(tokens) == 0 {
		return results
	}
	for _, a := range articles {
		haystack := map[string]struct{}{}
		for _, t := range Tokenize(a.IndexText() + " " + strings.Join(a.Tags, " ")) {
			haystack[t] = struct{}{}
		}
		hits := 0
		for _, t := range tokens {
			if _, ok := haystack[t]; ok {
				hits++
			}
		}
		if score := float64(hits) / float64(len(tokens)); hits > 0 && score >= minScore {
			results = append(results, knowledge.SearchResult{Article: a, Score: score})
		}
	}
	return results
}

func (s *Service) indexArticle(ctx context.Context, a knowledge.Article) {
	if !s.Semantic() {
		return
	}
	vec, err := s.embedder.Embed(ctx, a.IndexText())
	if err == nil {
		err = s.index.Upsert(ctx, a.ID, s.embedder.Name(), vec)
	}
	if err != nil {
		s.log.WithField("article_id", a.ID).WithError(err).Warn("index article failed")
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
