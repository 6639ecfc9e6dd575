package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mindtune/api/internal/middleware"
	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/generations. It runs the whole pipeline and
// answers with the persisted track.
func (h *GenerationHandler) Submit(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.OwnerName = ownerName(c, req.OwnerName, req.OwnerID)

	// validation happens inside the pipeline so rejected requests are recorded
	track, err := h.service.Generate(c.UserContext(), &req, middleware.GetCaller(c))
	if err != nil {
		return generationError(c, err)
	}

	return response.Created(c, track)
}

// SubmitAsync handles POST /api/generations/async
func (h *GenerationHandler) SubmitAsync(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	req.OwnerName = ownerName(c, req.OwnerName, req.OwnerID)
	req.ApplyGuidelineDefaults()
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Enqueue(c.UserContext(), &req, middleware.GetCaller(c))
	if err != nil {
		if errors.Is(err, service.ErrAsyncUnavailable) {
			return response.Unavailable(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// JobStatus handles GET /api/generations/jobs/:jobId
func (h *GenerationHandler) JobStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID, middleware.GetCaller(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// JobResult handles GET /api/generations/jobs/:jobId/result
func (h *GenerationHandler) JobResult(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	track, err := h.service.GetResult(c.UserContext(), jobID, middleware.GetCaller(c))
	if err != nil {
		var failed *service.JobFailedError
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotComplete):
			return response.Conflict(c, "Job not completed yet", nil)
		case errors.As(err, &failed):
			if failed.Failure == nil {
				return response.Error(c, fiber.StatusBadGateway, response.CodeJobFailed, failed.Message, nil)
			}
			status, _ := statusForKind(failed.Failure.Kind)
			return response.Error(c, status, response.CodeJobFailed, failed.Message, failureDetails(failed.Failure))
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, track)
}

// WatchGuard runs before the websocket upgrade on /ws/jobs/:jobId. A job
// the caller may not see answers 404 and is never subscribed to.
func (h *GenerationHandler) WatchGuard(c *fiber.Ctx) error {
	err := h.service.CanWatch(c.UserContext(), c.Params("jobId"), middleware.GetCaller(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return c.Next()
}

// History handles GET /api/generations/history?ownerId=&state=&page=&size=
func (h *GenerationHandler) History(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	size := c.QueryInt("size", 20)
	if page < 1 || size < 1 || size > 100 {
		return response.ValidationError(c, "page must be >= 1 and size between 1 and 100", nil)
	}
	state := model.PipelineState(c.Query("state"))
	if state != "" && !state.Valid() {
		return response.ValidationError(c, "Unknown state", fiber.Map{"state": string(state)})
	}

	result, err := h.service.History(c.UserContext(), middleware.GetCaller(c), c.Query("ownerId"), state, page, size)
	if err != nil {
		if errors.Is(err, service.ErrHistoryUnavailable) {
			return response.Unavailable(c, err.Error())
		}
		return generationError(c, err)
	}

	return response.OK(c, result)
}

// HistoryDetail handles GET /api/generations/history/:attemptId
func (h *GenerationHandler) HistoryDetail(c *fiber.Ctx) error {
	result, err := h.service.HistoryDetail(c.UserContext(), middleware.GetCaller(c), c.Params("attemptId"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			return response.NotFound(c, "Attempt not found")
		case errors.Is(err, service.ErrHistoryUnavailable):
			return response.Unavailable(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Repair handles POST /api/generations/repair. Only the persistence stage is
// re-run, from the audio reference preserved by a failed generation.
func (h *GenerationHandler) Repair(c *fiber.Ctx) error {
	var req model.RepairRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.OwnerName = ownerName(c, req.OwnerName, req.OwnerID)

	track, err := h.service.Repair(c.UserContext(), &req, middleware.GetCaller(c))
	if err != nil {
		return generationError(c, err)
	}

	return response.Created(c, track)
}

// ownerName falls back to the caller's own name when they act for themselves
func ownerName(c *fiber.Ctx, given, ownerID string) string {
	if given != "" || ownerID != middleware.GetUserID(c) {
		return given
	}
	return middleware.GetUserName(c)
}
