package agent

import (
	"context"
	"fmt"

	"github.com/nidhogg/contract-analyzer/internal/provider"
)

// GenerateRequest is one call to the text-generation service.
type GenerateRequest struct {
	AgentID      AgentID
	Model        string
	Instructions string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Generation is the normalized answer of the text-generation service.
type Generation struct {
	Text      string
	RequestID string
}

// Generator produces text for an analyst. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*Generation, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	return f(ctx, req)
}

// RouterGenerator sends generation requests through the provider router,
// binding each analyst by its AgentID.
type RouterGenerator struct {
	router *provider.Router
}

// NewRouterGenerator wraps a provider router.
func NewRouterGenerator(router *provider.Router) *RouterGenerator {
	return &RouterGenerator{router: router}
}

func (g *RouterGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	messages := make([]provider.Message, 0, 2)
	if req.Instructions != "" {
		messages = append(messages, provider.Message{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Prompt})

	resp, err := g.router.Route(ctx, string(req.AgentID), &provider.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("generate %s: %w", req.AgentID, provider.ErrEmptyResponse)
	}
	return &Generation{Text: resp.Content, RequestID: resp.ID}, nil
}
