// Package openai adapts OpenAI's chat completion API to model.Client.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/planrun/plan/model"
)

const defaultModel = "gpt-4o-mini"

// Client implements model.Client for OpenAI's API.
//
// The underlying SDK client handles thread-safety internally, so Client
// is safe for concurrent use from multiple plan steps.
//
// Example usage:
//
//	apiKey := os.Getenv("OPENAI_API_KEY")
//	c, err := openai.New(apiKey, "gpt-4o")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := c.Complete(ctx, model.Request{Prompt: "Summarize this diff"})
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed client.
//
// Parameters:
//   - apiKey: OpenAI API key
//   - modelName: model to use (e.g., "gpt-4o"). Empty uses a default.
func New(apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Client{
		client: &client,
		model:  modelName,
	}, nil
}

// Name returns "openai" as the provider identifier.
func (c *Client) Name() string {
	return "openai"
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

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.System),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(model.BuildPrompt(req)),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, c.mapError(err)
	}

	if len(completion.Choices) == 0 {
		return model.Response{}, &model.Error{
			Kind:     model.KindTransient,
			Provider: c.Name(),
			Message:  "no choices in response",
		}
	}

	return model.Response{
		Text:      completion.Choices[0].Message.Content,
		Model:     completion.Model,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}, nil
}

// mapError converts OpenAI API errors to classified model errors.
// It distinguishes retryable transient failures from permanent failures.
func (c *Client) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lowerErr := strings.ToLower(err.Error())

	if strings.Contains(lowerErr, "rate limit") ||
		strings.Contains(lowerErr, "429") ||
		strings.Contains(lowerErr, "too many requests") {
		return &model.Error{Kind: model.KindRateLimited, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "invalid api key") ||
		strings.Contains(lowerErr, "incorrect api key") ||
		strings.Contains(lowerErr, "401") ||
		strings.Contains(lowerErr, "unauthorized") ||
		strings.Contains(lowerErr, "authentication") {
		return &model.Error{Kind: model.KindAuth, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "400") ||
		strings.Contains(lowerErr, "invalid request") ||
		strings.Contains(lowerErr, "context length") {
		return &model.Error{Kind: model.KindInvalidRequest, Provider: c.Name(), Message: err.Error()}
	}

	return &model.Error{Kind: model.KindTransient, Provider: c.Name(), Message: err.Error()}
}
