package knowledge

import "time"

// Article is a knowledge base entry.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Published bool      `json:"published"`
	AuthorID  string    `json:"authorId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IndexText is the text embedded for semantic search.
func (a Article) IndexText() string {
	text := a.Title + "\n" + a.Content
	if a.Category != "" {
		text = a.Category + "\n" + text
	}
	return text
}

// SearchResult pairs an article with its relevance score.
type SearchResult struct {
	Article Article `json:"article"`
	Score   float64 `json:"score"`
}
