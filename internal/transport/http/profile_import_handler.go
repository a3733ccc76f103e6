package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/service"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

type profileImporter interface {
	Submit(ctx context.Context, organisationID string, rows []domain.ImportProfileRow) (*domain.ProfileImport, error)
	SubmitCSV(ctx context.Context, organisationID, filename, mimetype string, contents []byte) (*domain.ProfileImport, error)
	GetImport(ctx context.Context, profileImportID uuid.UUID) (*service.ProfileImportReport, error)
	FailedRowsCSV(ctx context.Context, profileImportID uuid.UUID) ([]byte, error)
}

type ProfileImportHandler struct {
	service       profileImporter
	maxUploadSize int64
}

func RegisterProfileImports(e *echo.Echo, tokens *util.JWTManager, svc profileImporter, maxUpload int64) {
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	h := &ProfileImportHandler{service: svc, maxUploadSize: maxUpload}

	group := e.Group("/api/v1/profiles-import", RequireAuth(tokens))
	group.POST("", h.create)
	group.POST("/csv", h.createFromCSV)
	group.GET("/:id", h.get)
	group.GET("/:id/errors", h.downloadErrors)
}

func (h *ProfileImportHandler) create(c echo.Context) error {
	org := strings.TrimSpace(c.QueryParam("organizationId"))
	if status, msg := checkOrganization(c, org); status != 0 {
		return c.JSON(status, util.Error(msg))
	}

	var rows []domain.ImportProfileRow
	if err := c.Bind(&rows); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("request body must be an array of profiles"))
	}
	if len(rows) == 0 {
		return c.JSON(http.StatusBadRequest, util.Error(service.ErrImportEmpty.Error()))
	}

	imp, err := h.service.Submit(c.Request().Context(), org, rows)
	if err != nil {
		return h.writeError(c, err)
	}
	return accepted(c, imp)
}

func (h *ProfileImportHandler) createFromCSV(c echo.Context) error {
	org := strings.TrimSpace(c.QueryParam("organizationId"))
	if status, msg := checkOrganization(c, org); status != 0 {
		return c.JSON(status, util.Error(msg))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("csv file is required"))
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read upload"))
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUploadSize+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("failed reading upload"))
	}
	if int64(len(data)) > h.maxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, util.Error(service.ErrImportTooLarge.Error()))
	}

	imp, err := h.service.SubmitCSV(c.Request().Context(), org, file.Filename, file.Header.Get(echo.HeaderContentType), data)
	if err != nil {
		return h.writeError(c, err)
	}
	return accepted(c, imp)
}

func (h *ProfileImportHandler) get(c echo.Context) error {
	report, err := h.report(c)
	if report == nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *ProfileImportHandler) downloadErrors(c echo.Context) error {
	report, err := h.report(c)
	if report == nil {
		return err
	}
	data, err := h.service.FailedRowsCSV(c.Request().Context(), report.Import.ID)
	if err != nil {
		return h.writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="profile-import-errors.csv"`)
	return c.Blob(http.StatusOK, "text/csv", data)
}

// report loads the import and checks the caller may see it. A nil report
// means the response was already written.
func (h *ProfileImportHandler) report(c echo.Context) (*service.ProfileImportReport, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, c.JSON(http.StatusBadRequest, util.Error("invalid profile import id"))
	}
	report, err := h.service.GetImport(c.Request().Context(), id)
	if err != nil {
		return nil, h.writeError(c, err)
	}
	if !canAccess(c, report.Import.OrganisationID) {
		return nil, c.JSON(http.StatusForbidden, util.Error("organization not accessible"))
	}
	return report, nil
}

// checkOrganization returns a non-zero status when the organizationId query
// parameter is missing or not accessible to the caller.
func checkOrganization(c echo.Context, org string) (int, string) {
	if org == "" {
		return http.StatusBadRequest, service.ErrOrganizationRequired.Error()
	}
	if !canAccess(c, org) {
		return http.StatusForbidden, "organization not accessible"
	}
	return 0, ""
}

func accepted(c echo.Context, imp *domain.ProfileImport) error {
	return c.JSON(http.StatusAccepted, util.Envelope{
		"status":          imp.Status,
		"profileImportId": imp.ID,
	})
}

func (h *ProfileImportHandler) writeError(c echo.Context, err error) error {
	var rowErr *service.ImportRowError
	switch {
	case errors.As(err, &rowErr):
		return c.JSON(http.StatusBadRequest, util.Error(rowErr.Error()).With("position", rowErr.Position))
	case errors.Is(err, service.ErrImportNotFound):
		return c.JSON(http.StatusNotFound, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportEmpty),
		errors.Is(err, service.ErrImportEmptyFile),
		errors.Is(err, service.ErrOrganizationRequired):
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportInvalidHeaders):
		return c.JSON(http.StatusUnprocessableEntity, util.Error(err.Error()))
	case errors.Is(err, service.ErrImportTooLarge), errors.Is(err, service.ErrImportRowLimitExceeded):
		return c.JSON(http.StatusRequestEntityTooLarge, util.Error(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
}
