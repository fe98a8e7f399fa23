package engine

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator runs completions through a genkit-registered model.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string

	temperature     float64
	contextTokens   int
	maxOutputTokens int
}

// NewGenkitGenerator creates a Generator for modelName. The model must
// already be registered with g (see internal/app).
func NewGenkitGenerator(g *genkit.Genkit, modelName string, temperature float64, contextTokens, maxOutputTokens int) *GenkitGenerator {
	return &GenkitGenerator{
		g:               g,
		modelName:       modelName,
		temperature:     temperature,
		contextTokens:   contextTokens,
		maxOutputTokens: maxOutputTokens,
	}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, system string, history []Turn, prompt string) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case "model":
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(prompt)))

	opts := []ai.GenerateOption{
		ai.WithModelName(gg.modelName),
		ai.WithMessages(messages...),
		// Option names follow the Ollama API.
		ai.WithConfig(map[string]any{
			"temperature": gg.temperature,
			"num_ctx":     gg.contextTokens,
			"num_predict": gg.maxOutputTokens,
		}),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := genkit.Generate(ctx, gg.g, opts...)
	if err != nil {
		return "", fmt.Errorf("model generation: %w", err)
	}
	return resp.Text(), nil
}
