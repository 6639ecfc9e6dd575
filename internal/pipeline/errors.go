package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/model"
)

// GenerationError is the single failure type returned by Submit. It names
// the failing stage and carries whatever was produced before the failure,
// plus the session attributes a repair needs to rebuild the track.
type GenerationError struct {
	Stage            model.Stage
	Kind             model.ErrorKind
	Retryable        bool
	Message          string
	Details          map[string]string
	PartialSessionID *int64
	PartialPrompt    string
	PartialAudioRef  string
	InitiatorType    model.InitiatorType
	HasDialog        bool
	Cause            error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("generation failed at %s (%s): %s", e.Stage, e.Kind, msg)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// Failure returns the client-visible shape of the error
func (e *GenerationError) Failure() *model.FailureDetail {
	return &model.FailureDetail{
		Stage:            e.Stage,
		Kind:             e.Kind,
		Retryable:        e.Retryable,
		PartialSessionID: e.PartialSessionID,
		PartialAudioRef:  e.PartialAudioRef,
		PartialPrompt:    e.PartialPrompt,
		InitiatorType:    e.InitiatorType,
		HasDialog:        e.HasDialog,
	}
}

// AsGenerationError unwraps err into a *GenerationError
func AsGenerationError(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// retryableKinds marks kinds worth re-submitting as a new request
var retryableKinds = map[model.ErrorKind]bool{
	model.ErrorInvalidRequest:     false,
	model.ErrorForbidden:          false,
	model.ErrorUnauthorized:       false,
	model.ErrorUnavailable:        true,
	model.ErrorUpstream:           true,
	model.ErrorInvalidAudioResult: true,
	model.ErrorStorage:            true,
}

func newError(stage model.Stage, kind model.ErrorKind, cause error, msg string) *GenerationError {
	return &GenerationError{
		Stage:     stage,
		Kind:      kind,
		Retryable: retryableKinds[kind],
		Message:   msg,
		Cause:     cause,
	}
}

func invalidRequest(msg string, details map[string]string) *GenerationError {
	e := newError(model.StageValidating, model.ErrorInvalidRequest, nil, msg)
	e.Details = details
	return e
}

// classify maps a collaborator error onto the taxonomy for the given stage.
// Credential rejections are Unauthorized everywhere; beyond that each stage
// has its own default kind.
func classify(stage model.Stage, err error) model.ErrorKind {
	var apiErr *client.APIError
	isAPI := errors.As(err, &apiErr)
	if isAPI && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return model.ErrorUnauthorized
	}

	switch stage {
	case model.StageValidating, model.StageCreateSession:
		return model.ErrorUnavailable
	case model.StageSynthesizePrompt:
		return model.ErrorUpstream
	case model.StageComposeAudio:
		if isAPI || errors.Is(err, client.ErrMalformedResponse) {
			return model.ErrorUpstream
		}
		return model.ErrorUnavailable
	case model.StagePersist:
		return model.ErrorStorage
	}
	return model.ErrorUpstream
}

// isTransient reports whether a prompt synthesis failure may succeed on retry
func isTransient(err error) bool {
	if errors.Is(err, errEmptyPrompt) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, client.ErrMalformedResponse) {
		return false
	}

	// transport failure or timeout
	return true
}
