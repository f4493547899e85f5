package exam

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rvu/rvu/internal/platform/auth"
	"github.com/rvu/rvu/internal/platform/ingest"
	"github.com/rvu/rvu/pkg/pagination"
)

// MaxEnrichRecords caps the records accepted by one enrich request.
const MaxEnrichRecords = 100_000

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/exams", auth.RequireRole(auth.RoleRadiologist, auth.RoleViewer))
	readGroup.POST("/classify", h.Classify)
	readGroup.POST("/enrich", h.Enrich)
	readGroup.GET("/rules", h.Rules)
	readGroup.GET("", h.List)
	readGroup.GET("/:id", h.Get)

	writeGroup := api.Group("/exams", auth.RequireRole(auth.RoleRadiologist))
	writeGroup.POST("/import", h.Import)
}

type classifyRequest struct {
	Code        *string `json:"code"`
	Description string  `json:"description"`
}

type enrichRequest struct {
	Records []RawRecord `json:"records"`
}

type enrichResponse struct {
	RulesVersion string           `json:"rules_version"`
	Records      []EnrichedRecord `json:"records"`
}

type rulesResponse struct {
	Version        string     `json:"version"`
	ContrastPolicy string     `json:"contrast_policy"`
	Rules          []RuleInfo `json:"rules"`
}

func (h *Handler) Classify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Classify(req.Code, req.Description))
}

func (h *Handler) Enrich(c echo.Context) error {
	var req enrichRequest
	if err := c.Bind(&req); err != nil {
		return httpError(err)
	}
	if len(req.Records) > MaxEnrichRecords {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			"too many records: "+strconv.Itoa(len(req.Records))+" (max "+strconv.Itoa(MaxEnrichRecords)+")")
	}
	out, err := h.svc.Enrich(c.Request().Context(), req.Records)
	if err != nil {
		return httpError(err)
	}
	if out == nil {
		out = []EnrichedRecord{}
	}
	return c.JSON(http.StatusOK, enrichResponse{RulesVersion: h.svc.RulesVersion(), Records: out})
}

// Import accepts one or more spreadsheets in the multipart field "files".
// include_records=true returns the enriched rows even when they are stored.
func (h *Handler) Import(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form: "+err.Error())
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded in field \"files\"")
	}

	sources := make([]ingest.Source, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "open "+fh.Filename+": "+err.Error())
		}
		defer f.Close()
		sources = append(sources, ingest.Source{Name: fh.Filename, Reader: f})
	}

	includeRecords, _ := strconv.ParseBool(c.QueryParam("include_records"))
	result, err := h.svc.Import(c.Request().Context(), sources, includeRecords)
	if err != nil {
		return httpError(err)
	}

	status := http.StatusOK
	if result.Stored > 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

func (h *Handler) List(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := pagination.FromContext(c)
	exams, total, err := h.svc.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if exams == nil {
		exams = []*StoredExam{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(exams, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Rules(c echo.Context) error {
	return c.JSON(http.StatusOK, rulesResponse{
		Version:        h.svc.RulesVersion(),
		ContrastPolicy: string(h.svc.ContrastPolicy()),
		Rules:          h.svc.Rules(),
	})
}

func filterFromQuery(c echo.Context) (ExamFilter, error) {
	f := ExamFilter{
		Modality: c.QueryParam("modality"),
		BodyPart: c.QueryParam("body_part"),
	}
	var err error
	if f.From, err = pagination.TimeParam(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = pagination.TimeParam(c, "to"); err != nil {
		return f, err
	}
	if f.Hour, err = pagination.IntParam(c, "hour", 0, 23); err != nil {
		return f, err
	}
	wd, err := pagination.IntParam(c, "weekday", 0, 6)
	if err != nil {
		return f, err
	}
	if wd != nil {
		w := time.Weekday(*wd)
		f.Weekday = &w
	}
	if f.ImportID, err = pagination.UUIDParam(c, "import_id"); err != nil {
		return f, err
	}
	return f, nil
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var he *echo.HTTPError
	var schemaErr *ingest.SchemaError
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &schemaErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": schemaErr.Error(),
			"missing": schemaErr.Missing,
		})
	case errors.Is(err, ErrNoInput), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoStore):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
