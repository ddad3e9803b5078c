package biomarker

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healz/reports/internal/platform/auth"
	"github.com/healz/reports/internal/platform/db"
	"github.com/healz/reports/internal/platform/validation"
	"github.com/healz/reports/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePractitioner))
	g.GET("/patients/:id/biomarkers", h.ListReadings)
	g.POST("/patients/:id/biomarkers", h.RecordReadings)
	g.GET("/biomarkers/:id", h.GetReading)
}

type panelResponse struct {
	Panel
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListReadings returns classified readings sorted for display. latest=true
// keeps one reading per biomarker.
func (h *Handler) ListReadings(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f := ListFilter{PatientID: patientID, Name: c.QueryParam("name")}
	if v := c.QueryParam("analytics_id"); v != "" {
		aid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid analytics_id")
		}
		f.AnalyticsID = &aid
	}
	ctx := c.Request().Context()

	if strings.EqualFold(c.QueryParam("latest"), "true") {
		panel, err := h.svc.LatestPanel(ctx, f)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, panelResponse{Panel: panel, Total: len(panel.Readings), Limit: len(panel.Readings)})
	}

	pg := pagination.FromContext(c)
	panel, total, err := h.svc.ListClassified(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, panelResponse{Panel: panel, Total: total, Limit: pg.Limit, Offset: pg.Offset})
}

type recordRequest struct {
	AnalyticsID *uuid.UUID `json:"analytics_id"`
	Readings    []*Reading `json:"readings" validate:"required,min=1,dive"`
}

func (h *Handler) RecordReadings(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req recordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.RecordBatch(c.Request().Context(), patientID, req.AnalyticsID, req.Readings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, NewPanel(req.Readings))
}

func (h *Handler) GetReading(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetReading(c.Request().Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "reading not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}
