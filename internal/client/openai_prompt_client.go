package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

const promptSystemMessage = "You are a prompt engineer for a text-to-music model used in music therapy. " +
	"Output exactly one prompt body and nothing else. " +
	"Never name real artists, songs or lyrics. " +
	"Use concrete musical vocabulary and always state genre, mood, BPM, key, " +
	"featured and excluded instruments, whether vocals are allowed, and length. " +
	"Contraindicated genres and excluded instruments are hard constraints."

// OpenAIPromptClient implements PromptGenerator with an OpenAI-compatible chat model
type OpenAIPromptClient struct {
	client *openai.Client
	model  string
	apiKey string
}

// NewOpenAIPromptClient creates a prompt synthesizer backed by chat completions.
// cfg.BaseURL may point at any OpenAI-compatible endpoint.
func NewOpenAIPromptClient(cfg *config.PromptConfig) *OpenAIPromptClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Transport: &forwardingTransport{base: http.DefaultTransport},
	}

	return &OpenAIPromptClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
	}
}

// IsConfigured returns true if the client has an API key
func (c *OpenAIPromptClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Synthesize asks the model for a single prompt body derived from the guideline
func (c *OpenAIPromptClient) Synthesize(ctx context.Context, sessionID int64, guideline *model.Guideline) (string, error) {
	guidelineJSON, err := json.Marshal(guideline)
	if err != nil {
		return "", fmt.Errorf("failed to marshal guideline: %w", err)
	}

	userMessage := fmt.Sprintf(
		"Session %d.\n--- Guideline (rules) ---\n%s\n\nReturn the prompt body only, without quotes or commentary.",
		sessionID, string(guidelineJSON),
	)

	log.Printf("[OpenAI API] → chat completion model=%s session=%d", c.model, sessionID)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: promptSystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		log.Printf("[OpenAI API] ✗ chat completion failed: %v", err)
		return "", translateOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion", ErrMalformedResponse)
	}

	return strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), "\"'"), nil
}

// translateOpenAIError maps SDK errors onto APIError so status-based
// classification works the same for every prompt provider.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Service: "OpenAI", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{Service: "OpenAI", StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("failed to send request: %w", err)
}

// forwardingTransport passes the caller's credential along as
// X-Forwarded-Authorization; Authorization carries the provider key.
type forwardingTransport struct {
	base http.RoundTripper
}

func (t *forwardingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := CredentialFrom(req.Context())
	if token == "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Forwarded-Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}
