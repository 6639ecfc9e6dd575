package client

import (
	"context"
	"fmt"
	"time"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

// SessionCreator defines the interface for session registration
type SessionCreator interface {
	CreateSession(ctx context.Context, ownerID string, initiator model.InitiatorType, hasDialog bool) (*model.Session, error)
}

// RegistryClient implements SessionCreator against the session registry
type RegistryClient struct {
	restClient
}

type createSessionRequest struct {
	OwnerID       string `json:"owner_id"`
	InitiatorType string `json:"initiator_type"`
	HasDialog     bool   `json:"has_dialog"`
}

type createSessionResponse struct {
	SessionID int64     `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
}

// NewRegistryClient creates a new session registry client
func NewRegistryClient(cfg *config.ServiceConfig) *RegistryClient {
	return &RegistryClient{
		restClient: newRESTClient("Registry", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second),
	}
}

// CreateSession registers a new session owned by ownerID
func (c *RegistryClient) CreateSession(ctx context.Context, ownerID string, initiator model.InitiatorType, hasDialog bool) (*model.Session, error) {
	req := &createSessionRequest{
		OwnerID:       ownerID,
		InitiatorType: string(initiator),
		HasDialog:     hasDialog,
	}

	var result createSessionResponse
	if err := c.post(ctx, "/sessions", req, &result); err != nil {
		return nil, err
	}

	if result.SessionID <= 0 {
		return nil, fmt.Errorf("%w: missing session_id", ErrMalformedResponse)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &model.Session{
		SessionID:     result.SessionID,
		OwnerID:       ownerID,
		InitiatorType: initiator,
		CreatedAt:     createdAt,
	}, nil
}
