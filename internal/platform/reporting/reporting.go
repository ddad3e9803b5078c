package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/healz/reports/internal/platform/auth"
)

// MeasureDefinition defines a dashboard measure with its SQL query. Parameters
// are bound positionally from query string values; absent values bind NULL.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available practice dashboard measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Total number of patients and how many registered since the given date",
		SQL: `SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE created_at >= COALESCE($1::timestamptz, '-infinity')) AS registered_since
			FROM patients`,
		Parameters: []string{"since"},
	},
	{
		ID:          "forms-by-status",
		Name:        "Forms by Status",
		Description: "Questionnaires sent to patients grouped by status",
		SQL:         `SELECT status, COUNT(*) AS total FROM forms GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{},
	},
	{
		ID:          "processing-queue",
		Name:        "Processing Queue",
		Description: "Workflow jobs grouped by status with their retry attempts",
		SQL:         `SELECT status, COUNT(*) AS total, COALESCE(SUM(attempts), 0) AS attempts FROM processing_queue GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{},
	},
	{
		ID:          "reports-by-risk",
		Name:        "Reports by Risk Level",
		Description: "Clinical reports grouped by computed risk level",
		SQL:         `SELECT risk_level, COUNT(*) AS total, ROUND(AVG(risk_score)) AS avg_score FROM reports GROUP BY risk_level ORDER BY total DESC`,
		Parameters:  []string{},
	},
	{
		ID:          "upcoming-appointments",
		Name:        "Upcoming Appointments",
		Description: "Appointments starting from the given date grouped by status",
		SQL:         `SELECT status, COUNT(*) AS total FROM appointments WHERE starts_at >= COALESCE($1::timestamptz, NOW()) GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{"from"},
	},
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the dashboard API.
type Handler struct {
	db Querier
}

func NewHandler(db Querier) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes registers the dashboard API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dashboard", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	args := make([]any, len(measure.Parameters))
	for i, p := range measure.Parameters {
		v := c.QueryParam(p)
		if v == "" {
			continue
		}
		ts, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", p))
		}
		params[p] = v
		args[i] = ts
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "measure query failed")
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

// executeSQL runs a query and returns rows as maps keyed by column name.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...any) ([]map[string]interface{}, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
