package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healz/reports/internal/domain/patient"
	"github.com/healz/reports/internal/platform/auth"
	"github.com/healz/reports/internal/platform/reporting"
	"github.com/healz/reports/internal/platform/validation"
	"github.com/healz/reports/pkg/pagination"
)

// PatientLookup resolves the name printed on exported reports.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Handler struct {
	svc      *Service
	patients PatientLookup
}

func NewHandler(svc *Service, patients PatientLookup) *Handler {
	return &Handler{svc: svc, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePractitioner))
	g.GET("/patients/:id/reports", h.ListReports)
	g.POST("/patients/:id/reports", h.GenerateReport)
	g.GET("/reports/:id", h.GetReport)
	g.PUT("/reports/:id", h.UpdateReport)
	g.POST("/reports/:id/finalize", h.FinalizeReport)
	g.GET("/reports/:id/pdf", h.ExportPDF)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, ErrReportFinal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) ListReports(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	reports, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GenerateReport(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var in GenerateInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	in.PatientID = patientID
	detail, err := h.svc.Generate(c.Request().Context(), in)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, detail)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetDetail(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) UpdateReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var u DraftUpdate
	if err := validation.BindAndValidate(c, &u); err != nil {
		return err
	}
	detail, err := h.svc.UpdateDraft(c.Request().Context(), id, u)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) FinalizeReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) ExportPDF(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	detail, err := h.svc.GetDetail(ctx, id)
	if err != nil {
		return toHTTP(err)
	}
	name := detail.PatientID.String()
	if p, err := h.patients.GetPatient(ctx, detail.PatientID); err == nil {
		name = p.FullName()
	}

	var buf bytes.Buffer
	if err := reporting.RenderPDF(&buf, detail.Document(name, auth.UserIDFromContext(ctx), time.Now())); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="informe-%s.pdf"`, id))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}
