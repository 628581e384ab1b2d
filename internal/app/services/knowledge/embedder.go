package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"google.golang.org/genai"
)

// DefaultEmbeddingModel is used when none is configured.
const DefaultEmbeddingModel = "gemini-embedding-001"

// HashDimensions is the vector size of the local embedder.
const HashDimensions = 256

// Embedder turns text into a vector. Query embeddings may be computed
// differently from document embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// GenAIEmbedder embeds text with the Gemini API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder builds an embedder for apiKey.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (e *GenAIEmbedder) embed(ctx context.Context, text string, task string) ([]float32, error) {
	res, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: task},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("genai embed: no embeddings returned")
	}
	return res.Embeddings[0].Values, nil
}

func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }

// HashEmbedder is a deterministic bag-of-words embedder that needs no
// network. Tokens are hashed into HashDimensions buckets and the vector is
// L2-normalised.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, HashDimensions)
	for _, token := range Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%HashDimensions] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.Embed(ctx, text)
}

func (HashEmbedder) Name() string { return "hash" }

// Tokenize lowercases text and splits it into letter/digit runs of at least
// two characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Cosine returns the cosine similarity of a and b, or 0 when their sizes
// differ or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
