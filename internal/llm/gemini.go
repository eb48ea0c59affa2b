package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiJudge asks Google Gemini for a verdict.
type GeminiJudge struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini judge for the given API key.
func NewGemini(ctx context.Context, apiKey, modelName string) (*GeminiJudge, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &GeminiJudge{client: client, model: modelName}, nil
}

// Judge sends the prompt and interprets the reply text.
func (g *GeminiJudge) Judge(ctx context.Context, prompt string) (bool, error) {
	var temp float32
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: 5,
	})
	if err != nil {
		return false, mapGeminiError(ctx, err)
	}

	raw := result.Text()
	slog.Debug("judge reply", "provider", "gemini", "raw", raw)
	return interpretVerdict(raw)
}

func mapGeminiError(ctx context.Context, err error) error {
	if fault := classifyContextErr(ctx, err); fault != nil {
		return fault
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return geminiAPIError(err, apiErr.Code, apiErr.Status)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return geminiAPIError(err, apiErrPtr.Code, apiErrPtr.Status)
	}
	if containsQuotaText(err) {
		return &ErrRateLimited{Err: err}
	}
	return &ErrProviderFault{Err: err}
}

func geminiAPIError(err error, code int, status string) error {
	if code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED" {
		return &ErrRateLimited{Err: err}
	}
	return &ErrProviderFault{Err: err}
}
