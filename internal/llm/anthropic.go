package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sevigo/pr-warden/internal/core"
)

// anthropicGenerator adapts the Anthropic Messages API to the Generator
// port.
type anthropicGenerator struct {
	api    *anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
}

// NewAnthropicGenerator creates a Generator backed by the Anthropic API.
// An empty apiKey falls back to the SDK's environment lookup.
func NewAnthropicGenerator(apiKey, model string, logger *slog.Logger) Generator {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicGenerator{
		api:    &client,
		model:  anthropic.Model(model),
		logger: logger,
	}
}

func (g *anthropicGenerator) GenerateReview(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	msg, err := g.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: int64(req.MaxOutputTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		kind := classifyAnthropicError(err)
		g.logger.Warn("model call failed", "kind", kind)
		return nil, core.NewProviderError("llm", kind, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, core.NewProviderError("llm", core.ErrKindOther,
			fmt.Errorf("no text content in model response"))
	}

	return &GenerateResult{
		Content:      text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// classifyAnthropicError maps SDK failures onto the closed error kinds.
// Typed API errors win; the message shim is the last resort.
func classifyAnthropicError(err error) core.ErrorKind {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429, 529:
			return core.ErrKindRateLimited
		case 413:
			return core.ErrKindTokenLimit
		case 400:
			if strings.Contains(strings.ToLower(apierr.Error()), "prompt is too long") {
				return core.ErrKindTokenLimit
			}
			return core.ErrKindOther
		case 500, 502, 503, 504:
			return core.ErrKindNetwork
		default:
			return core.ErrKindOther
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return core.ErrKindNetwork
	}
	return core.ClassifyByMessage(err)
}
