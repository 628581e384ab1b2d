package aichat

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
)

// DefaultChatModel is used when none is configured.
const DefaultChatModel = "gemini-2.0-flash"

// Prompt is a single generation call.
type Prompt struct {
	System          string
	History         []chat.AIMessage
	Message         string
	MaxOutputTokens int
	Temperature     float64
}

// Generator produces the assistant's reply.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GenAIGenerator calls the Gemini API.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator builds a generator for apiKey.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = DefaultChatModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.AIRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(p.Message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(p.Temperature)),
	}
	if p.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxOutputTokens)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("genai generate: empty response")
	}
	return text, nil
}
