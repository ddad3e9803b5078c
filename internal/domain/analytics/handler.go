package analytics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/platform/auth"
	"github.com/healz/reports/internal/platform/blobstore"
	"github.com/healz/reports/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	g.GET("/patients/:id/analytics", h.ListAnalytics)
	g.POST("/patients/:id/analytics", h.UploadAnalytics)
	g.GET("/analytics/:id", h.GetAnalytics)
	g.GET("/analytics/:id/file", h.DownloadAnalytics)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "analytics not found")
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Error().Err(err).Msg("analytics request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) UploadAnalytics(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return h.toHTTP(blobstore.ErrFileTooLarge)
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}

	up, err := h.svc.Upload(c.Request().Context(), patientID, fh.Filename, contentType(fh.Header.Get(echo.HeaderContentType), data), data)
	if err != nil {
		if up != nil {
			// Stored but not queued: the practitioner can retry processing.
			h.logger.Error().Err(err).Msg("lab file stored without a processing job")
			return c.JSON(http.StatusAccepted, up)
		}
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusCreated, up)
}

func contentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(data).String()
}

func (h *Handler) ListAnalytics(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetAnalytics(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DownloadAnalytics(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, rc, err := h.svc.Open(c.Request().Context(), id)
	if err != nil {
		return h.toHTTP(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", a.FileName))
	return c.Stream(http.StatusOK, a.MimeType, rc)
}
