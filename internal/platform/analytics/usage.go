package analytics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"

	"github.com/rvu/rvu/internal/platform/auth"
)

// latencyWindow is the number of recent durations kept per endpoint for
// percentile estimates.
const latencyWindow = 256

// RequestMetric captures a single API request for usage tracking. Route is
// the registered route template, not the raw URL.
type RequestMetric struct {
	Timestamp  time.Time
	Method     string
	Route      string
	StatusCode int
	Duration   time.Duration
	ClientID   string
	BytesIn    int64
	BytesOut   int64
}

type endpointStats struct {
	key           string
	totalRequests int64
	totalErrors   int64
	totalDuration time.Duration
	statusCounts  map[int]int64
	recent        []time.Duration
	next          int
}

type clientStats struct {
	totalRequests int64
	totalErrors   int64
	lastSeen      time.Time
	bytesIn       int64
	bytesOut      int64
}

// EndpointSummary aggregates one "METHOD /route" pair.
type EndpointSummary struct {
	Endpoint        string        `json:"endpoint"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

type ClientSummary struct {
	ClientID      string    `json:"client_id"`
	TotalRequests int64     `json:"total_requests"`
	ErrorRate     float64   `json:"error_rate"`
	LastSeen      time.Time `json:"last_seen"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
}

type UsageOverview struct {
	Since           time.Time          `json:"since"`
	TotalRequests   int64              `json:"total_requests"`
	TotalErrors     int64              `json:"total_errors"`
	ErrorRate       float64            `json:"error_rate"`
	AvgLatency      time.Duration      `json:"avg_latency"`
	UniqueClients   int                `json:"unique_clients"`
	UniqueEndpoints int                `json:"unique_endpoints"`
	TopEndpoints    []*EndpointSummary `json:"top_endpoints"`
	TopClients      []*ClientSummary   `json:"top_clients"`
}

// UsageTracker aggregates request counters per endpoint and per client.
// Clients are held in an LRU so the least recently seen are forgotten once
// maxClients is reached.
type UsageTracker struct {
	since         time.Time
	mu            sync.Mutex
	endpoints     map[string]*endpointStats
	clients       *lru.Cache[string, *clientStats]
	totalRequests int64
	totalErrors   int64
	totalDuration int64
}

func NewUsageTracker(maxClients int) *UsageTracker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	clients, _ := lru.New[string, *clientStats](maxClients)
	return &UsageTracker{
		since:     time.Now(),
		endpoints: make(map[string]*endpointStats),
		clients:   clients,
	}
}

// Record updates every counter for one request. Status codes of 400 and
// above count as errors.
func (ut *UsageTracker) Record(m *RequestMetric) {
	isError := m.StatusCode >= 400
	atomic.AddInt64(&ut.totalRequests, 1)
	atomic.AddInt64(&ut.totalDuration, int64(m.Duration))
	if isError {
		atomic.AddInt64(&ut.totalErrors, 1)
	}

	key := m.Method + " " + m.Route
	ut.mu.Lock()
	defer ut.mu.Unlock()

	ep, ok := ut.endpoints[key]
	if !ok {
		ep = &endpointStats{key: key, statusCounts: make(map[int]int64)}
		ut.endpoints[key] = ep
	}
	ep.totalRequests++
	ep.totalDuration += m.Duration
	ep.statusCounts[m.StatusCode]++
	if isError {
		ep.totalErrors++
	}
	if len(ep.recent) < latencyWindow {
		ep.recent = append(ep.recent, m.Duration)
	} else {
		ep.recent[ep.next] = m.Duration
		ep.next = (ep.next + 1) % latencyWindow
	}

	if m.ClientID == "" {
		return
	}
	cs, ok := ut.clients.Get(m.ClientID)
	if !ok {
		cs = &clientStats{}
		ut.clients.Add(m.ClientID, cs)
	}
	cs.totalRequests++
	if isError {
		cs.totalErrors++
	}
	if m.Timestamp.After(cs.lastSeen) {
		cs.lastSeen = m.Timestamp
	}
	cs.bytesIn += m.BytesIn
	cs.bytesOut += m.BytesOut
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// Overview returns totals plus the five busiest endpoints and clients.
func (ut *UsageTracker) Overview() *UsageOverview {
	total := atomic.LoadInt64(&ut.totalRequests)
	errs := atomic.LoadInt64(&ut.totalErrors)
	dur := atomic.LoadInt64(&ut.totalDuration)

	var avg time.Duration
	if total > 0 {
		avg = time.Duration(dur / total)
	}

	ut.mu.Lock()
	uniqueEndpoints := len(ut.endpoints)
	ut.mu.Unlock()

	return &UsageOverview{
		Since:           ut.since,
		TotalRequests:   total,
		TotalErrors:     errs,
		ErrorRate:       rate(errs, total),
		AvgLatency:      avg,
		UniqueClients:   ut.clients.Len(),
		UniqueEndpoints: uniqueEndpoints,
		TopEndpoints:    ut.TopEndpoints(5),
		TopClients:      ut.TopClients(5),
	}
}

// TopEndpoints returns up to limit endpoints by request count, ties broken
// by name.
func (ut *UsageTracker) TopEndpoints(limit int) []*EndpointSummary {
	ut.mu.Lock()
	out := make([]*EndpointSummary, 0, len(ut.endpoints))
	for _, ep := range ut.endpoints {
		out = append(out, ep.summary())
	}
	ut.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopClients returns up to limit clients by request count.
func (ut *UsageTracker) TopClients(limit int) []*ClientSummary {
	ut.mu.Lock()
	out := make([]*ClientSummary, 0, ut.clients.Len())
	for _, id := range ut.clients.Keys() {
		cs, ok := ut.clients.Peek(id)
		if !ok {
			continue
		}
		out = append(out, &ClientSummary{
			ClientID:      id,
			TotalRequests: cs.totalRequests,
			ErrorRate:     rate(cs.totalErrors, cs.totalRequests),
			LastSeen:      cs.lastSeen,
			BytesIn:       cs.bytesIn,
			BytesOut:      cs.bytesOut,
		})
	}
	ut.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].ClientID < out[j].ClientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// summary must be called with the tracker lock held.
func (ep *endpointStats) summary() *EndpointSummary {
	s := &EndpointSummary{
		Endpoint:        ep.key,
		TotalRequests:   ep.totalRequests,
		ErrorRate:       rate(ep.totalErrors, ep.totalRequests),
		StatusBreakdown: make(map[int]int64, len(ep.statusCounts)),
	}
	if ep.totalRequests > 0 {
		s.AvgLatency = ep.totalDuration / time.Duration(ep.totalRequests)
	}
	for code, n := range ep.statusCounts {
		s.StatusBreakdown[code] = n
	}
	s.P95Latency = percentile(ep.recent, 0.95)
	return s
}

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// UsageMiddleware records every routed request. Requests that match no
// route are skipped.
func UsageMiddleware(tracker *UsageTracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				return err
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			req := c.Request()
			var bytesIn int64
			if req.ContentLength > 0 {
				bytesIn = req.ContentLength
			}
			tracker.Record(&RequestMetric{
				Timestamp:  start,
				Method:     req.Method,
				Route:      route,
				StatusCode: status,
				Duration:   time.Since(start),
				ClientID:   auth.UserIDFromContext(req.Context()),
				BytesIn:    bytesIn,
				BytesOut:   c.Response().Size,
			})
			return err
		}
	}
}

type UsageHandler struct {
	tracker *UsageTracker
}

func NewUsageHandler(tracker *UsageTracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

// RegisterRoutes registers the admin usage endpoints on the provided group.
func (h *UsageHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/usage", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.Overview)
	g.GET("/endpoints", h.Endpoints)
	g.GET("/clients", h.Clients)
}

func (h *UsageHandler) Overview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Overview())
}

func (h *UsageHandler) Endpoints(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.TopEndpoints(limitParam(c)))
}

func (h *UsageHandler) Clients(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.TopClients(limitParam(c)))
}

func limitParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return 20
	}
	return n
}
