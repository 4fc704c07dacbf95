// Package google adapts Google's Gemini API to model.Client.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/planrun/plan/model"
)

const defaultModel = "gemini-1.5-flash"

// Client implements model.Client for Google's Gemini API.
//
// Example usage:
//
//	apiKey := os.Getenv("GEMINI_API_KEY")
//	c, err := google.New(context.Background(), apiKey, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//	out, err := c.Complete(ctx, model.Request{Prompt: "Describe the change"})
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed client.
//
// Parameters:
//   - ctx: context for client setup
//   - apiKey: Google AI API key
//   - modelName: model to use (e.g., "gemini-1.5-pro"). Empty uses a default.
//
// Callers own the returned client and should Close it when done.
func New(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &Client{
		client: client,
		model:  modelName,
	}, nil
}

// Name returns "google" as the provider identifier.
func (c *Client) Name() string {
	return "google"
}

// Close closes the underlying Gemini client and releases resources.
func (c *Client) Close() error {
	return c.client.Close()
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

	m := c.client.GenerativeModel(modelName)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		m.SetTemperature(float32(req.Temperature))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(model.BuildPrompt(req)))
	if err != nil {
		return model.Response{}, c.mapError(err)
	}

	out := model.Response{Model: modelName}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return model.Response{}, &model.Error{
			Kind:     model.KindTransient,
			Provider: c.Name(),
			Message:  "no candidates in response",
		}
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		out.Text = text.String()
	}
	return out, nil
}

// mapError converts Gemini API errors to classified model errors.
func (c *Client) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lowerErr := strings.ToLower(err.Error())

	if strings.Contains(lowerErr, "quota") ||
		strings.Contains(lowerErr, "429") ||
		strings.Contains(lowerErr, "resource exhausted") {
		return &model.Error{Kind: model.KindRateLimited, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "api key") ||
		strings.Contains(lowerErr, "401") ||
		strings.Contains(lowerErr, "403") ||
		strings.Contains(lowerErr, "permission") {
		return &model.Error{Kind: model.KindAuth, Provider: c.Name(), Message: err.Error()}
	}

	if strings.Contains(lowerErr, "400") ||
		strings.Contains(lowerErr, "invalid argument") {
		return &model.Error{Kind: model.KindInvalidRequest, Provider: c.Name(), Message: err.Error()}
	}

	return &model.Error{Kind: model.KindTransient, Provider: c.Name(), Message: err.Error()}
}
