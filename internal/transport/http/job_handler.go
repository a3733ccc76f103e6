package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/service"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

type importJobRunner interface {
	ExecuteWithToken(ctx context.Context, profileImportID uuid.UUID, token string) error
}

type ImportJobHandler struct {
	service importJobRunner
}

type importJobRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterImportJobs mounts the execution callback. It is authorized by the
// job token in the body rather than a bearer token.
func RegisterImportJobs(e *echo.Echo, svc importJobRunner) {
	h := &ImportJobHandler{service: svc}
	e.POST("/api/v1/jobs/import-profiles/:profileImportId", h.execute)
}

func (h *ImportJobHandler) execute(c echo.Context) error {
	id, err := uuid.Parse(c.Param("profileImportId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid profile import id"))
	}
	var req importJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusUnauthorized, util.Error(service.ErrInvalidJobToken.Error()))
	}

	if err := h.service.ExecuteWithToken(c.Request().Context(), id, req.Token); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, util.Envelope{
		"status":          domain.ImportStatusProcessing,
		"profileImportId": id,
	})
}

func (h *ImportJobHandler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidJobToken):
		return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportAlreadyStarted):
		return c.JSON(http.StatusConflict, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportNotFound):
		return c.JSON(http.StatusNotFound, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportQueueFull), errors.Is(err, service.ErrDispatcherStopped):
		return c.JSON(http.StatusServiceUnavailable, util.Error(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
}
