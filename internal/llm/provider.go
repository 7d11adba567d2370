// Package llm drives review generation: the model provider port, the
// prompt builder, the findings codec, structural response validation, and
// the two-pass review protocol.
package llm

import "context"

// GenerateRequest is one model call.
type GenerateRequest struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
}

// GenerateResult is the provider's answer plus its token accounting.
type GenerateResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Generator is the language-model provider port. Implementations classify
// their failures into core.ProviderError kinds; retry/backoff timing stays
// inside the provider client.
type Generator interface {
	GenerateReview(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}
