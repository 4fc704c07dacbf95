// Package anthropic adapts Anthropic's Messages API to model.Client.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/planrun/plan/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Client implements model.Client for Anthropic's API.
//
// Safe for concurrent use; the underlying SDK client handles
// thread-safety internally.
//
// Example usage:
//
//	apiKey := os.Getenv("ANTHROPIC_API_KEY")
//	c, err := anthropic.New(apiKey, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := c.Complete(ctx, model.Request{Prompt: "Explain this failure"})
type Client struct {
	client *anthropic.Client
	model  string
}

// New creates an Anthropic-backed client.
//
// Parameters:
//   - apiKey: Anthropic API key (from https://console.anthropic.com/)
//   - modelName: model to use. Empty uses a default.
func New(apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		client: &client,
		model:  modelName,
	}, nil
}

// Name returns "anthropic" as the provider identifier.
func (c *Client) Name() string {
	return "anthropic"
}

// Complete implements the model.Client interface.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(model.BuildPrompt(req))),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, c.mapError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		text.WriteString(block.Text)
	}

	return model.Response{
		Text:      text.String(),
		Model:     string(message.Model),
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
	}, nil
}

// mapError converts Anthropic API errors to classified model errors.
func (c *Client) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lowerErr := strings.ToLower(err.Error())

	if strings.Contains(lowerErr, "rate limit") ||
		strings.Contains(lowerErr, "429") ||
		strings.Contains(lowerErr, "overloaded") {
		return &model.Error{Kind: model.KindRateLimited, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "401") ||
		strings.Contains(lowerErr, "403") ||
		strings.Contains(lowerErr, "authentication") ||
		strings.Contains(lowerErr, "invalid x-api-key") {
		return &model.Error{Kind: model.KindAuth, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "400") ||
		strings.Contains(lowerErr, "invalid_request") {
		return &model.Error{Kind: model.KindInvalidRequest, Provider: c.Name(), Message: err.Error()}
	}

	return &model.Error{Kind: model.KindTransient, Provider: c.Name(), Message: err.Error()}
}
