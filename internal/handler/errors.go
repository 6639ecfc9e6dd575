package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/pkg/response"
)

// statusForKind maps the generation error taxonomy onto HTTP
func statusForKind(kind model.ErrorKind) (int, string) {
	switch kind {
	case model.ErrorInvalidRequest:
		return fiber.StatusBadRequest, response.CodeValidationError
	case model.ErrorForbidden:
		return fiber.StatusForbidden, response.CodeForbidden
	case model.ErrorUnauthorized:
		return fiber.StatusUnauthorized, response.CodeUnauthorized
	case model.ErrorUnavailable:
		return fiber.StatusServiceUnavailable, response.CodeUnavailable
	default:
		return fiber.StatusBadGateway, response.CodeGenerationError
	}
}

func failureDetails(f *model.FailureDetail) fiber.Map {
	details := fiber.Map{
		"stage":     f.Stage,
		"kind":      f.Kind,
		"retryable": f.Retryable,
	}
	if f.PartialSessionID != nil {
		details["partialSessionId"] = *f.PartialSessionID
	}
	if f.PartialAudioRef != "" {
		details["partialAudioRef"] = f.PartialAudioRef
	}
	if f.PartialPrompt != "" {
		details["partialPrompt"] = f.PartialPrompt
	}
	if f.PartialSessionID != nil {
		details["initiatorType"] = f.InitiatorType
		details["hasDialog"] = f.HasDialog
	}
	return details
}

// generationError writes err using the error envelope. Errors outside the
// generation taxonomy become 500s.
func generationError(c *fiber.Ctx, err error) error {
	gerr, ok := pipeline.AsGenerationError(err)
	if !ok {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return response.UpstreamError(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	status, code := statusForKind(gerr.Kind)
	details := failureDetails(gerr.Failure())
	if len(gerr.Details) > 0 {
		details["fields"] = gerr.Details
	}

	msg := gerr.Message
	if msg == "" {
		msg = gerr.Error()
	}
	return response.Error(c, status, code, msg, details)
}

func formatValidationErrors(err error) interface{} {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return pipeline.FormatValidationErrors(verrs)
	}
	return nil
}
