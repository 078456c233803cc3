// Package generator adapts an eino chat model to the rag.Generator
// interface. The retrieval engine hands it a fully assembled prompt; the
// generator owns nothing but the model call.
package generator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/quenlabs/docq/internal/rag"
)

// Generator produces answers through an eino ChatModel. It is safe for
// concurrent use as long as the underlying model is.
type Generator struct {
	// model is the configured chat backend.
	model model.ToolCallingChatModel
}

// New constructs a Generator over the given chat model.
func New(m model.ToolCallingChatModel) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	return &Generator{model: m}, nil
}

// Generate returns the model's answer for the given prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := g.model.Generate(ctx, []*schema.Message{
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("generator: model call failed: %w: %w", rag.ErrGeneration, err)
	}
	if msg == nil || msg.Content == "" {
		return "", fmt.Errorf("generator: model returned an empty answer: %w", rag.ErrGeneration)
	}
	return msg.Content, nil
}
