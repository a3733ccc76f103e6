package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/service"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

type profileManager interface {
	Get(ctx context.Context, id uuid.UUID, organisationID string) (*domain.ProfileView, error)
	Update(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate) (*domain.Profile, error)
	Delete(ctx context.Context, id uuid.UUID) error
	LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error)
}

type ProfileHandler struct {
	service profileManager
}

func RegisterProfiles(e *echo.Echo, tokens *util.JWTManager, svc profileManager) {
	h := &ProfileHandler{service: svc}

	group := e.Group("/api/v1/profiles", RequireAuth(tokens))
	group.GET("/lookup", h.lookup)
	group.GET("/:id", h.get)
	group.PATCH("/:id", h.update)
	group.DELETE("/:id", h.delete)
}

func (h *ProfileHandler) lookup(c echo.Context) error {
	email := strings.TrimSpace(c.QueryParam("email"))
	lookup, err := h.service.LookupByEmail(c.Request().Context(), email)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, lookup)
}

func (h *ProfileHandler) get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid profile id"))
	}
	org := strings.TrimSpace(c.QueryParam("organizationId"))
	if org != "" && !canAccess(c, org) {
		return c.JSON(http.StatusForbidden, util.Error("organization not accessible"))
	}
	view, err := h.service.Get(c.Request().Context(), id, org)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *ProfileHandler) update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid profile id"))
	}
	var req domain.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	profile, err := h.service.Update(c.Request().Context(), id, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Data("profile", profile))
}

func (h *ProfileHandler) delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid profile id"))
	}
	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ProfileHandler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrProfileNotFound):
		return c.JSON(http.StatusNotFound, util.Error(err.Error()))
	case errors.Is(err, service.ErrEmailRequired),
		errors.Is(err, service.ErrInvalidSafeLevel),
		errors.Is(err, service.ErrInvalidLanguage),
		errors.Is(err, service.ErrNoProfileChanges):
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
}
