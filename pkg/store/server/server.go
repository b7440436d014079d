package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Baizx98/PaGraph/pkg/store"
)

type config struct {
	authSecret     string
	logLevel       log.Lvl
	gracefulPeriod time.Duration
}

func defaultConfig() config {
	return config{
		logLevel:       log.INFO,
		gracefulPeriod: 10 * time.Second,
	}
}

type Option func(*config) *config

// WithAuthSecret requires a bearer token signed with secret on the fetch
// API. Empty secret leaves the API open (single-host runs).
func WithAuthSecret(secret string) Option {
	return func(c *config) *config {
		c.authSecret = secret
		return c
	}
}

func WithLogLevel(lvl log.Lvl) Option {
	return func(c *config) *config {
		c.logLevel = lvl
		return c
	}
}

// Server is a running store server.
type Server struct {
	// ServerStop yields the serve loop's exit error once.
	ServerStop <-chan error

	e *echo.Echo
}

// Start serves the registry on port. The server stops when ctx is done
// (graceful, bounded) or on a serve error, reported via ServerStop.
func Start(ctx context.Context, port int, reg *Registry, options ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range options {
		cfg = *opt(&cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.logLevel)

	metrics := NewMetrics()

	e.GET("/api/health", Health(reg))
	e.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}),
	))

	var guards []echo.MiddlewareFunc
	if cfg.authSecret != "" {
		guards = append(guards, BearerAuth(cfg.authSecret))
	}
	e.POST("/api/features/:name", Fetch(reg, metrics), guards...)

	stop := make(chan error, 1)
	go func() {
		err := e.Start(fmt.Sprintf(":%d", port))
		if err != nil && err != http.ErrServerClosed {
			stop <- err
		}
		close(stop)
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.gracefulPeriod)
		defer cancel()
		e.Shutdown(sctx)
	}()

	return &Server{ServerStop: stop, e: e}
}

type Metrics struct {
	registry      *prometheus.Registry
	fetchRequests *prometheus.CounterVec
	fetchRows     prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagraph_store_fetch_requests_total",
			Help: "Fetch requests served, by tensor name and outcome.",
		}, []string{"tensor", "outcome"}),
		fetchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagraph_store_fetch_rows",
			Help:    "Rows gathered per fetch request.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	reg.MustRegister(m.fetchRequests, m.fetchRows)
	return m
}

// Fetch answers a batched row gather on the named tensor.
func Fetch(reg *Registry, m *Metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")

		tensor, ok := reg.Get(name)
		if !ok {
			m.fetchRequests.WithLabelValues(name, "missing").Inc()
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no tensor %q", name))
		}

		var req store.FetchRequest
		if err := c.Bind(&req); err != nil {
			m.fetchRequests.WithLabelValues(name, "bad_request").Inc()
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		rows := make([][]float32, len(req.IDs))
		for nth, gid := range req.IDs {
			row, ok := tensor.Row(gid)
			if !ok {
				m.fetchRequests.WithLabelValues(name, "bad_request").Inc()
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(
					"tensor %q has no row %d", name, gid,
				))
			}
			rows[nth] = row
		}

		m.fetchRequests.WithLabelValues(name, "ok").Inc()
		m.fetchRows.Observe(float64(len(rows)))
		return c.JSON(http.StatusOK, store.FetchResponse{Rows: rows})
	}
}

// Health reports readiness and the served tensor names.
func Health(reg *Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"tensors": reg.Names(),
		})
	}
}
