package generate

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dictation-core/processor/internal/resilience"
)

// AnthropicGenerator is a concrete, swappable Generator using
// anthropic-sdk-go. It implements only the call shape and error mapping —
// no clinical prompt engineering.
type AnthropicGenerator struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicGenerator builds a generator over the given API key.
func NewAnthropicGenerator(apiKey string) *AnthropicGenerator {
	return &AnthropicGenerator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude3_5SonnetLatest,
	}
}

func (g *AnthropicGenerator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", resilience.NewError(resilience.KindServiceUnavail, fmt.Errorf("anthropic generation call: %w", err))
	}
	if len(resp.Content) == 0 {
		return "", resilience.NewError(resilience.KindAPI, fmt.Errorf("anthropic: empty response"))
	}
	return resp.Content[0].Text, nil
}

// GenerateSOAP satisfies Generator.GenerateSOAP.
func (g *AnthropicGenerator) GenerateSOAP(ctx context.Context, transcript, clinicalContext string) (string, error) {
	return g.complete(ctx, transcript+"\n\n"+clinicalContext)
}

// GenerateReferral satisfies Generator.GenerateReferral.
func (g *AnthropicGenerator) GenerateReferral(ctx context.Context, soapNote, conditionsHint string) (string, error) {
	return g.complete(ctx, soapNote+"\n\n"+conditionsHint)
}

// GenerateLetter satisfies Generator.GenerateLetter.
func (g *AnthropicGenerator) GenerateLetter(ctx context.Context, content, recipientType, specs string) (string, error) {
	return g.complete(ctx, content+"\n\n"+recipientType+"\n\n"+specs)
}
