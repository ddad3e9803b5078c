package processing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/platform/auth"
	"github.com/healz/reports/internal/platform/workflow"
	"github.com/healz/reports/pkg/pagination"
)

const maxCallbackBody = 4 << 20

type Handler struct {
	svc    *Service
	poller *Poller
	secret string
	logger zerolog.Logger
}

// NewHandler builds the processing routes. Callbacks are rejected unless
// secret is set and the request carries a matching signature.
func NewHandler(svc *Service, poller *Poller, secret string, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, poller: poller, secret: secret, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/processing/callback", h.Callback)

	g := api.Group("", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	g.GET("/processing", h.ListJobs)
	g.GET("/processing/:id", h.GetJob)
	g.GET("/processing/:id/wait", h.WaitJob)
	g.POST("/processing/:id/retry", h.RetryJob)
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
	case errors.Is(err, ErrJobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "processing job not found")
	case errors.Is(err, ErrNotRetryable), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListJobs(c echo.Context) error {
	f := ListFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	pg := pagination.FromContext(c)
	jobs, total, err := h.svc.ListJobs(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(jobs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	j, err := h.svc.GetJob(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, j)
}

// WaitJob long-polls until the job settles. A job still running when the
// poll window closes is returned with 202.
func (h *Handler) WaitJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	j, err := h.poller.Wait(c.Request().Context(), id, nil)
	switch {
	case errors.Is(err, ErrPollTimeout):
		return c.JSON(http.StatusAccepted, j)
	case err != nil && j != nil:
		return c.JSON(http.StatusAccepted, j)
	case err != nil:
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) RetryJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	j, err := h.svc.Retry(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusAccepted, j)
}

func (h *Handler) Callback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if h.secret == "" || !workflow.VerifySignature(body, h.secret, c.Request().Header.Get(workflow.SignatureHeader)) {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected workflow callback")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrBadSignature.Error())
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(&cb); err != nil {
			return err
		}
	}

	j, err := h.svc.ApplyCallback(c.Request().Context(), cb)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrInvalidTransition) {
			return toHTTP(err)
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, j)
}
