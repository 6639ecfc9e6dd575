package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/middleware"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/pkg/response"
)

type TrackHandler struct {
	service *service.TrackService
}

func NewTrackHandler(svc *service.TrackService) *TrackHandler {
	return &TrackHandler{service: svc}
}

// List handles GET /api/tracks?ownerId=
func (h *TrackHandler) List(c *fiber.Ctx) error {
	result, err := h.service.ListByOwner(c.UserContext(), middleware.GetCaller(c), c.Query("ownerId"))
	if err != nil {
		return trackError(c, err)
	}
	return response.OK(c, result)
}

// BySession handles GET /api/sessions/:sessionId/track
func (h *TrackHandler) BySession(c *fiber.Ctx) error {
	sessionID, err := strconv.ParseInt(c.Params("sessionId"), 10, 64)
	if err != nil || sessionID <= 0 {
		return response.ValidationError(c, "Invalid session ID", nil)
	}

	track, err := h.service.BySession(c.UserContext(), middleware.GetCaller(c), sessionID)
	if err != nil {
		return trackError(c, err)
	}
	return response.OK(c, track)
}

// Playback handles GET /api/tracks/:trackId/playback
func (h *TrackHandler) Playback(c *fiber.Ctx) error {
	trackID, err := strconv.ParseInt(c.Params("trackId"), 10, 64)
	if err != nil || trackID <= 0 {
		return response.ValidationError(c, "Invalid track ID", nil)
	}

	result, err := h.service.Playback(c.UserContext(), middleware.GetCaller(c), trackID)
	if err != nil {
		return trackError(c, err)
	}
	return response.OK(c, result)
}

func trackError(c *fiber.Ctx, err error) error {
	if errors.Is(err, client.ErrTrackNotFound) {
		return response.NotFound(c, "Track not found")
	}
	return generationError(c, err)
}
