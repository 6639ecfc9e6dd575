package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

// PromptGenerator defines the interface for prompt synthesis
type PromptGenerator interface {
	Synthesize(ctx context.Context, sessionID int64, guideline *model.Guideline) (string, error)
}

// PromptClient implements PromptGenerator against the session-aware prompt endpoint
type PromptClient struct {
	restClient
}

type synthesizeRequest struct {
	SessionID int64            `json:"session_id"`
	Guideline *model.Guideline `json:"guideline"`
}

type synthesizeResponse struct {
	SessionID  int64  `json:"session_id"`
	PromptText string `json:"prompt_text"`
}

// NewPromptClient creates a new prompt synthesis client
func NewPromptClient(cfg *config.PromptConfig) *PromptClient {
	return &PromptClient{
		restClient: newRESTClient("Prompt", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second),
	}
}

// Synthesize turns a guideline into a text prompt for the session. An empty
// prompt is returned as-is so the caller can decide whether to retry.
func (c *PromptClient) Synthesize(ctx context.Context, sessionID int64, guideline *model.Guideline) (string, error) {
	req := &synthesizeRequest{
		SessionID: sessionID,
		Guideline: guideline,
	}

	var result synthesizeResponse
	endpoint := fmt.Sprintf("/sessions/%d/prompt", sessionID)
	if err := c.post(ctx, endpoint, req, &result); err != nil {
		return "", err
	}

	return strings.TrimSpace(result.PromptText), nil
}
