package reporting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// fakeRows serves a fixed result set.
type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(dest ...any) error                       { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.pos-1], nil
}

type fakeQuerier struct {
	sql  string
	args []any
	rows *fakeRows
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql = sql
	q.args = args
	return q.rows, nil
}

func evaluate(t *testing.T, h *Handler, id, query string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/reports/measures/"+id+"/evaluate"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.EvaluateMeasure(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestPredefinedMeasures(t *testing.T) {
	want := []string{"rvu-by-modality", "case-mix", "daily-rvu", "hourly-rvu", "weekday-hour-rvu"}
	if len(PredefinedMeasures) != len(want) {
		t.Fatalf("expected %d measures, got %d", len(want), len(PredefinedMeasures))
	}
	for i, id := range want {
		m := PredefinedMeasures[i]
		if m.ID != id {
			t.Errorf("measure %d: expected %s, got %s", i, id, m.ID)
		}
		if m.Name == "" || m.Description == "" {
			t.Errorf("measure %s: missing name or description", m.ID)
		}
		if !strings.Contains(m.SQL, "FROM exam_record") {
			t.Errorf("measure %s: expected to read exam_record", m.ID)
		}
		for _, ph := range []string{"$1", "$2", "$3"} {
			if !strings.Contains(m.SQL, ph) {
				t.Errorf("measure %s: missing placeholder %s", m.ID, ph)
			}
		}
	}
}

func TestCaseMixLimitsToTopFive(t *testing.T) {
	m := FindMeasure("case-mix")
	if m == nil {
		t.Fatal("expected case-mix measure")
	}
	if !strings.Contains(m.SQL, "GROUP BY modality, body_part") || !strings.Contains(m.SQL, "LIMIT 5") {
		t.Errorf("unexpected case-mix SQL: %s", m.SQL)
	}
}

func TestFindMeasure(t *testing.T) {
	for _, def := range PredefinedMeasures {
		found := FindMeasure(def.ID)
		if found == nil || found.ID != def.ID {
			t.Errorf("expected to find measure %s", def.ID)
		}
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for unknown measure")
	}
}

func TestListMeasures(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/reports/measures", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := NewHandler(nil).ListMeasures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var defs []MeasureDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defs) != len(PredefinedMeasures) {
		t.Errorf("expected %d measures, got %d", len(PredefinedMeasures), len(defs))
	}
}

func TestEvaluateMeasure_NotFound(t *testing.T) {
	rec := evaluate(t, NewHandler(&fakeQuerier{}), "nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEvaluateMeasure_NoDatabase(t *testing.T) {
	rec := evaluate(t, NewHandler(nil), "daily-rvu", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestEvaluateMeasure_BadParameters(t *testing.T) {
	h := NewHandler(&fakeQuerier{rows: &fakeRows{}})
	for _, q := range []string{"?from=soon", "?to=2024-13-40", "?import_id=xyz"} {
		rec := evaluate(t, h, "daily-rvu", q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestEvaluateMeasure_PassesWindow(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "modality"}, {Name: "exams"}, {Name: "total_rvu"}},
		data: [][]any{
			{"CT", int64(12), 18.5},
			{"MRI", int64(4), 9.0},
		},
	}}
	importID := uuid.New()
	rec := evaluate(t, NewHandler(q), "rvu-by-modality", "?from=2024-03-01&to=2024-04-01&import_id="+importID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(q.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(q.args))
	}
	from, ok := q.args[0].(*time.Time)
	if !ok || from == nil || !from.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected from arg: %v", q.args[0])
	}
	id, ok := q.args[2].(*uuid.UUID)
	if !ok || id == nil || *id != importID {
		t.Errorf("unexpected import_id arg: %v", q.args[2])
	}

	var report MeasureReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.MeasureID != "rvu-by-modality" {
		t.Errorf("unexpected measure id: %s", report.MeasureID)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Results))
	}
	if report.Results[0]["modality"] != "CT" {
		t.Errorf("unexpected first row: %v", report.Results[0])
	}
	if report.Parameters["from"] != "2024-03-01" {
		t.Errorf("expected echoed from parameter, got %v", report.Parameters)
	}
}

func TestEvaluateMeasure_OpenWindow(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{}}
	rec := evaluate(t, NewHandler(q), "hourly-rvu", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for i, a := range q.args {
		switch v := a.(type) {
		case *time.Time:
			if v != nil {
				t.Errorf("arg %d: expected nil time", i)
			}
		case *uuid.UUID:
			if v != nil {
				t.Errorf("arg %d: expected nil uuid", i)
			}
		default:
			t.Errorf("arg %d: unexpected type %T", i, a)
		}
	}

	var report MeasureReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Results == nil || len(report.Results) != 0 {
		t.Errorf("expected empty results, got %v", report.Results)
	}
}
