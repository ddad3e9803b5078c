package form

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healz/reports/internal/domain/questionnaire"
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
	read := api.Group("", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	read.POST("/patients/:id/forms", h.CreateForm)
	read.GET("/patients/:id/forms", h.ListPatientForms)
	read.GET("/forms/:id", h.GetForm)
	read.GET("/forms/:id/submission", h.GetSubmission)
	read.GET("/questions", h.ListQuestions)
	read.GET("/questions/:id", h.GetQuestion)

	// Only practitioners edit the catalog.
	write := api.Group("", auth.RequireRole(auth.RolePractitioner))
	write.POST("/questions", h.CreateQuestion)
	write.PUT("/questions/:id", h.UpdateQuestion)
	write.DELETE("/questions/:id", h.DeleteQuestion)
}

// TerminalError maps the three terminal form errors to distinct HTTP
// responses. It returns nil for any other error.
func TerminalError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrFormNotFound):
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{
			"code": "form_not_found", "message": "El formulario no existe.",
		})
	case errors.Is(err, ErrFormExpired):
		return echo.NewHTTPError(http.StatusGone, map[string]string{
			"code": "form_expired", "message": "El enlace del formulario ha caducado.",
		})
	case errors.Is(err, ErrFormCompleted):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"code": "form_completed", "message": "Este formulario ya fue enviado.",
		})
	}
	return nil
}

type createFormRequest struct {
	TTLHours int `json:"ttl_hours" validate:"omitempty,min=1,max=8760"`
}

type createFormResponse struct {
	*Instance
	Path string `json:"path"`
}

// -- Form Handlers --

func (h *Handler) CreateForm(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req createFormRequest
	if c.Request().ContentLength > 0 {
		if err := validation.BindAndValidate(c, &req); err != nil {
			return err
		}
	}
	f, err := h.svc.CreateForm(c.Request().Context(), patientID, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, createFormResponse{Instance: f, Path: "/form/" + f.Token})
}

func (h *Handler) ListPatientForms(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	forms, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(forms, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetForm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f, err := h.svc.GetForm(c.Request().Context(), id)
	if err != nil {
		if he := TerminalError(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) GetSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sub, err := h.svc.GetSubmission(c.Request().Context(), id)
	if err != nil {
		if he := TerminalError(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

// -- Question Handlers --

func (h *Handler) ListQuestions(c echo.Context) error {
	cat, err := h.svc.Catalog(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cat.All())
}

func (h *Handler) GetQuestion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	q, err := h.svc.GetQuestion(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "question not found")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) CreateQuestion(c echo.Context) error {
	var q questionnaire.Question
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateQuestion(c.Request().Context(), &q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) UpdateQuestion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var q questionnaire.Question
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = id
	if err := h.svc.UpdateQuestion(c.Request().Context(), &q); err != nil {
		if db.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "question not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQuestion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteQuestion(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
