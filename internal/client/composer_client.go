package client

import (
	"context"
	"strings"
	"time"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

// MusicComposer defines the interface for audio composition
type MusicComposer interface {
	Compose(ctx context.Context, sessionID int64, prompt string, constraints model.RenderConstraints) (string, error)
}

// ComposerClient implements MusicComposer against the compose endpoint
type ComposerClient struct {
	restClient
}

type composeRequest struct {
	SessionID         int64  `json:"session_id"`
	Prompt            string `json:"prompt"`
	MusicLengthMs     int    `json:"music_length_ms"`
	ForceInstrumental bool   `json:"force_instrumental"`
}

type composeResponse struct {
	SessionID int64  `json:"session_id"`
	TrackURL  string `json:"track_url"`
}

// NewComposerClient creates a new composer client. Composition is slow, so
// cfg.Timeout is expected to be in minutes-scale seconds.
func NewComposerClient(cfg *config.ServiceConfig) *ComposerClient {
	return &ComposerClient{
		restClient: newRESTClient("Composer", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second),
	}
}

// Compose renders audio for the prompt and returns its reference. A response
// without a reference yields "" and no error.
func (c *ComposerClient) Compose(ctx context.Context, sessionID int64, prompt string, constraints model.RenderConstraints) (string, error) {
	req := &composeRequest{
		SessionID:         sessionID,
		Prompt:            prompt,
		MusicLengthMs:     constraints.DurationMs,
		ForceInstrumental: constraints.ForceInstrumental,
	}

	var result composeResponse
	if err := c.post(ctx, "/compose", req, &result); err != nil {
		return "", err
	}

	return strings.TrimSpace(result.TrackURL), nil
}
