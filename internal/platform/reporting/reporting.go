package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/rvu/rvu/internal/platform/auth"
	"github.com/rvu/rvu/pkg/pagination"
)

// MeasureDefinition defines a reporting measure with its SQL query. Every
// measure takes the same positional arguments: $1 from (inclusive), $2 to
// (exclusive), $3 import id. A NULL argument disables that filter.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
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

const window = `($1::timestamp IS NULL OR dictated_at >= $1::timestamp)
  AND ($2::timestamp IS NULL OR dictated_at < $2::timestamp)
  AND ($3::uuid IS NULL OR import_id = $3::uuid)`

var measureParameters = []string{"from", "to", "import_id"}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "rvu-by-modality",
		Name:        "RVU by Modality",
		Description: "Exam count, total and mean wRVU per modality",
		SQL: `SELECT modality, COUNT(*) AS exams, SUM(wrvu) AS total_rvu, AVG(wrvu) AS mean_rvu
FROM exam_record
WHERE ` + window + `
GROUP BY modality ORDER BY total_rvu DESC`,
		Parameters: measureParameters,
	},
	{
		ID:          "case-mix",
		Name:        "Case Mix",
		Description: "Top 5 modality and body part combinations by total wRVU",
		SQL: `SELECT modality, body_part, COUNT(*) AS exams, SUM(wrvu) AS total_rvu
FROM exam_record
WHERE ` + window + `
GROUP BY modality, body_part ORDER BY total_rvu DESC, exams DESC LIMIT 5`,
		Parameters: measureParameters,
	},
	{
		ID:          "daily-rvu",
		Name:        "Daily RVU",
		Description: "Exam count and total wRVU per calendar day",
		SQL: `SELECT dictated_at::date AS day, COUNT(*) AS exams, SUM(wrvu) AS total_rvu
FROM exam_record
WHERE ` + window + `
GROUP BY day ORDER BY day`,
		Parameters: measureParameters,
	},
	{
		ID:          "hourly-rvu",
		Name:        "Hourly RVU",
		Description: "Total wRVU per hour of day and its average across the days worked",
		SQL: `SELECT EXTRACT(HOUR FROM dictated_at)::int AS hour, COUNT(*) AS exams, SUM(wrvu) AS total_rvu,
  SUM(wrvu) / COUNT(DISTINCT dictated_at::date) AS mean_rvu_per_day
FROM exam_record
WHERE ` + window + `
GROUP BY hour ORDER BY hour`,
		Parameters: measureParameters,
	},
	{
		ID:          "weekday-hour-rvu",
		Name:        "Weekday by Hour RVU",
		Description: "Total wRVU per weekday (0 = Sunday) and hour of day",
		SQL: `SELECT EXTRACT(DOW FROM dictated_at)::int AS weekday, EXTRACT(HOUR FROM dictated_at)::int AS hour,
  COUNT(*) AS exams, SUM(wrvu) AS total_rvu
FROM exam_record
WHERE ` + window + `
GROUP BY weekday, hour ORDER BY weekday, hour`,
		Parameters: measureParameters,
	},
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db Querier
}

// NewHandler creates a new reporting handler. A nil querier makes every
// evaluation answer 503.
func NewHandler(db Querier) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("admin", "radiologist"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	from, err := pagination.TimeParam(c, "from")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := pagination.TimeParam(c, "to")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	importID, err := pagination.UUIDParam(c, "import_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if h.db == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reporting requires a database")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, from, to, importID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	report := MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	}

	return c.JSON(http.StatusOK, report)
}

// executeSQL runs a SQL query and returns results as a slice of maps.
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
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
