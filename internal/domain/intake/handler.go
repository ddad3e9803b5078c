package intake

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/blobstore"
)

// Handler serves the public questionnaire. Routes are unauthenticated; the
// token in the path is the only credential.
type Handler struct {
	registry  *Registry
	assembler *Assembler
	logger    zerolog.Logger
}

func NewHandler(registry *Registry, assembler *Assembler, logger zerolog.Logger) *Handler {
	return &Handler{registry: registry, assembler: assembler, logger: logger}
}

// RegisterRoutes mounts the form routes on g, which the caller prefixes
// with /form and wraps with the public rate limit.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:token", h.GetForm)
	g.PUT("/:token/answers/:questionId", h.SetAnswer)
	g.POST("/:token/files/:questionId", h.UploadFile)
	g.DELETE("/:token/files/:questionId", h.ClearFile)
	g.POST("/:token/next", h.Next)
	g.POST("/:token/previous", h.Previous)
	g.POST("/:token/submit", h.Submit)
}

func (h *Handler) open(c echo.Context) (*Session, error) {
	s, err := h.registry.Open(c.Request().Context(), c.Param("token"))
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return s, nil
}

func questionParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("questionId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid question id")
	}
	return id, nil
}

func (h *Handler) toHTTP(err error) error {
	if he := form.TerminalError(err); he != nil {
		return he
	}
	var verr *ValidationError
	var serr *SubmissionError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"code": "missing_required", "missing": verr.Missing,
		})
	case errors.As(err, &serr):
		return echo.NewHTTPError(http.StatusBadGateway, map[string]string{
			"code":    "submission_failed",
			"message": "No se pudo enviar el formulario. Inténtalo de nuevo.",
		})
	case errors.Is(err, ErrSessionConsumed):
		return form.TerminalError(form.ErrFormCompleted)
	case errors.Is(err, ErrSubmitInProgress):
		return echo.NewHTTPError(http.StatusConflict, "submission already in progress")
	case errors.Is(err, ErrUnknownQuestion):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrNotFileQuestion), errors.Is(err, ErrFileQuestion), errors.Is(err, ErrEmptyFile),
		errors.Is(err, questionnaire.ErrWrongShape), errors.Is(err, questionnaire.ErrNotAnOption),
		errors.Is(err, questionnaire.ErrOutOfScale), errors.Is(err, questionnaire.ErrNilAnswer):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Error().Err(err).Msg("intake request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (h *Handler) GetForm(c echo.Context) error {
	s, err := h.open(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

type answerRequest struct {
	Value any `json:"value"`
}

func (h *Handler) SetAnswer(c echo.Context) error {
	qid, err := questionParam(c)
	if err != nil {
		return err
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.open(c)
	if err != nil {
		return err
	}
	if err := s.SetAnswer(qid, req.Value); err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) UploadFile(c echo.Context) error {
	qid, err := questionParam(c)
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

	s, err := h.open(c)
	if err != nil {
		return err
	}
	if err := s.StageFile(qid, fh.Filename, contentType(fh.Header.Get(echo.HeaderContentType), data), data); err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

// contentType trusts a specific declared type and sniffs generic ones.
func contentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(data).String()
}

func (h *Handler) ClearFile(c echo.Context) error {
	qid, err := questionParam(c)
	if err != nil {
		return err
	}
	s, err := h.open(c)
	if err != nil {
		return err
	}
	if err := s.ClearFile(qid); err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

// Next advances only when the current step has no missing required answers.
func (h *Handler) Next(c echo.Context) error {
	s, err := h.open(c)
	if err != nil {
		return err
	}
	if missing := s.MissingRequired(); len(missing) > 0 {
		return h.toHTTP(&ValidationError{Missing: missing})
	}
	if err := s.Next(); err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) Previous(c echo.Context) error {
	s, err := h.open(c)
	if err != nil {
		return err
	}
	if err := s.Previous(); err != nil {
		return h.toHTTP(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

type submitResponse struct {
	Status   string              `json:"status"`
	Degraded []form.FileMetadata `json:"degraded,omitempty"`
}

func (h *Handler) Submit(c echo.Context) error {
	token := c.Param("token")
	s, err := h.open(c)
	if err != nil {
		return err
	}
	res, err := h.assembler.Submit(c.Request().Context(), s)
	if err != nil {
		if s.Consumed() {
			h.registry.Discard(token)
		}
		return h.toHTTP(err)
	}
	h.registry.Discard(token)
	return c.JSON(http.StatusOK, submitResponse{Status: res.Form.Status, Degraded: res.Degraded})
}
