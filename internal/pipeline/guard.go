package pipeline

import (
	"context"
	"fmt"

	"github.com/mindtune/api/internal/model"
)

// Authorizer decides whether a caller may act for an owner
type Authorizer struct {
	directory ConnectionDirectory
}

// NewAuthorizer creates an authorizer. A nil directory permits self-service only.
func NewAuthorizer(directory ConnectionDirectory) *Authorizer {
	return &Authorizer{directory: directory}
}

// Authorize passes a caller acting for themselves, or a counselor with an
// accepted connection to the owner.
func (a *Authorizer) Authorize(ctx context.Context, caller model.Caller, ownerID string) *GenerationError {
	if caller.UserID == ownerID {
		return nil
	}
	if caller.Role != model.RoleCounselor {
		return newError(model.StageValidating, model.ErrorForbidden, nil,
			"caller may not generate on behalf of another user")
	}
	if a.directory == nil {
		return newError(model.StageValidating, model.ErrorForbidden, nil,
			"counselor connections are not available")
	}

	status, err := a.directory.ConnectionStatus(ctx, caller.UserID, ownerID)
	if err != nil {
		return newError(model.StageValidating, classify(model.StageValidating, err), err,
			"failed to look up counselor connection")
	}
	if status != model.ConnectionAccepted {
		return newError(model.StageValidating, model.ErrorForbidden, nil,
			fmt.Sprintf("counselor connection is %s", status))
	}
	return nil
}
