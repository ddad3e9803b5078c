package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healz/reports/internal/platform/auth"
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
	g := api.Group("", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	g.GET("/appointments", h.ListAppointments)
	g.GET("/appointments/week", h.GetWeek)
	g.POST("/appointments", h.CreateAppointment)
	g.GET("/appointments/:id", h.GetAppointment)
	g.PUT("/appointments/:id", h.UpdateAppointment)
	g.POST("/appointments/:id/status", h.TransitionAppointment)

	clinical := api.Group("", auth.RequireRole(auth.RolePractitioner))
	clinical.DELETE("/appointments/:id", h.DeleteAppointment)
}

func toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrOverlap), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// practitioner returns the practitioner_id query value, defaulting to the
// caller.
func practitioner(c echo.Context) string {
	if p := c.QueryParam("practitioner_id"); p != "" {
		return p
	}
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var a Appointment
	if err := validation.BindAndValidate(c, &a); err != nil {
		return err
	}
	if a.PractitionerID == "" {
		a.PractitionerID = auth.UserIDFromContext(c.Request().Context())
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), &a); err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := RangeFilter{PractitionerID: c.QueryParam("practitioner_id"), Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	for param, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(param); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = t
		}
	}
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// GetWeek renders the calendar for the week containing ?date (default
// today). ?tz selects the calendar's time zone.
func (h *Handler) GetWeek(c echo.Context) error {
	loc := time.UTC
	if tz := c.QueryParam("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tz")
		}
		loc = l
	}
	day := time.Now().In(loc)
	if v := c.QueryParam("date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		day = d
	}
	w, err := h.svc.Week(c.Request().Context(), practitioner(c), day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var u AppointmentUpdate
	if err := validation.BindAndValidate(c, &u); err != nil {
		return err
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, u)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed completed cancelled no_show"`
}

func (h *Handler) TransitionAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Transition(c.Request().Context(), id, req.Status)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
