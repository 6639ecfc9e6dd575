package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

// ConnectionLookup defines the interface for counselor/patient connection queries
type ConnectionLookup interface {
	ConnectionStatus(ctx context.Context, counselorID, patientID string) (model.ConnectionStatus, error)
}

// ConnectionClient implements ConnectionLookup against the connection directory
type ConnectionClient struct {
	restClient
}

type connectionResponse struct {
	Status string `json:"status"`
}

// NewConnectionClient creates a new connection directory client
func NewConnectionClient(cfg *config.ServiceConfig) *ConnectionClient {
	return &ConnectionClient{
		restClient: newRESTClient("Connections", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second),
	}
}

// ConnectionStatus returns the link state between a counselor and a patient.
// An unknown pair is reported as ConnectionNone.
func (c *ConnectionClient) ConnectionStatus(ctx context.Context, counselorID, patientID string) (model.ConnectionStatus, error) {
	q := url.Values{}
	q.Set("therapist_id", counselorID)
	q.Set("patient_id", patientID)

	var result connectionResponse
	if err := c.get(ctx, "/connections?"+q.Encode(), &result); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return model.ConnectionNone, nil
		}
		return "", err
	}

	switch status := model.ConnectionStatus(strings.ToUpper(result.Status)); status {
	case model.ConnectionPending, model.ConnectionAccepted, model.ConnectionRejected:
		return status, nil
	case "":
		return model.ConnectionNone, nil
	default:
		return "", fmt.Errorf("%w: unknown connection status %q", ErrMalformedResponse, result.Status)
	}
}
