package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIJudge wraps an OpenAI-compatible chat completion API.
type OpenAIJudge struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a judge for an OpenAI-compatible endpoint. An empty
// baseURL selects the public OpenAI API.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAIJudge {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIJudge{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Judge sends the prompt as a single user message and interprets the reply.
func (c *OpenAIJudge) Judge(ctx context.Context, prompt string) (bool, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return false, mapOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return false, &ErrProviderFault{Err: errors.New("no choices in reply")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("judge reply", "provider", "openai", "raw", raw)
	return interpretVerdict(raw)
}

// Ping checks connectivity by listing models.
func (c *OpenAIJudge) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}

func mapOpenAIError(ctx context.Context, err error) error {
	if fault := classifyContextErr(ctx, err); fault != nil {
		return fault
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &ErrRateLimited{Err: err}
		}
		if code, ok := apiErr.Code.(string); ok && (code == "insufficient_quota" || code == "rate_limit_exceeded") {
			return &ErrRateLimited{Err: err}
		}
		return &ErrProviderFault{Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &ErrRateLimited{Err: err}
	}
	if containsQuotaText(err) {
		return &ErrRateLimited{Err: err}
	}
	return &ErrProviderFault{Err: err}
}
