package db

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// Health is the body of GET /health/db.
type Health struct {
	Status string     `json:"status"`
	Schema string     `json:"schema,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// PoolStats is a snapshot of the pgxpool counters.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	EmptyAcquires int64  `json:"empty_acquires"`
	AcquireWait   string `json:"acquire_wait"`
}

func statsOf(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		AcquireCount:  s.AcquireCount(),
		EmptyAcquires: s.EmptyAcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// schemaOf reads the exam schema back from the search_path set by NewPool.
func schemaOf(pool *pgxpool.Pool) string {
	first, _, _ := strings.Cut(pool.Config().ConnConfig.RuntimeParams["search_path"], ",")
	return strings.TrimSpace(first)
}

// HealthHandler serves GET /health/db. A nil pool means storage is off and
// answers 200 "disabled"; a failed ping answers 503 "down".
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if pool == nil {
			return c.JSON(http.StatusOK, Health{Status: "disabled"})
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		h := Health{Status: "up", Schema: schemaOf(pool)}
		err := pool.Ping(ctx)
		h.Pool = statsOf(pool)
		if err != nil {
			h.Status = "down"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
