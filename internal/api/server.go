// Package api exposes the service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yairfalse/allot/internal/service"
	"github.com/yairfalse/allot/telemetry"
)

// Server is the HTTP API
type Server struct {
	echo   *echo.Echo
	svc    *service.Service
	logger *telemetry.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger overrides the request logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds the router
func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		echo:   echo.New(),
		svc:    svc,
		logger: telemetry.NewLogger("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.WithContext(c.Request().Context()).Info()
			if v.Error != nil {
				event = s.logger.WithContext(c.Request().Context()).Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request handled")
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "status": "ok"})
	})

	t := e.Group("/api/v1/tenants/:tenant")
	t.GET("/allocation", s.allocate)
	t.POST("/enforce", s.enforce)
	t.GET("/events", s.events)
	t.GET("/reports", s.listReports)
	t.POST("/reports", s.generateReport)
	t.DELETE("/reports", s.deleteReports)
	t.POST("/reports/export", s.exportReports)
	t.GET("/reports/:id", s.report)
	t.GET("/rules", s.listRules)
	t.POST("/rules", s.createRule)
	t.DELETE("/rules/:id", s.deleteRule)
	t.GET("/policies", s.listPolicies)
	t.POST("/policies", s.createPolicy)
	t.PUT("/policies/:id/active", s.togglePolicy)
	t.POST("/records", s.importRecords)

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// errorHandler renders every error as {success:false,error}
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}

	if err := c.JSON(code, service.Status{Error: msg}); err != nil {
		s.logger.Error().Err(err).Msg("failed to write error response")
	}
}

// tenantID parses the :tenant path parameter
func tenantID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("tenant"), 10, 64)
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	return id, nil
}

// respond writes a service response with a status code derived from its outcome
func respond(c echo.Context, st service.Status, okCode int, body any) error {
	code := okCode
	switch {
	case st.Success:
	case service.IsNotFound(st):
		code = http.StatusNotFound
	case service.IsInvalid(st):
		code = http.StatusBadRequest
	case errors.Is(st.Err, service.ErrExportDisabled):
		code = http.StatusNotImplemented
	default:
		code = http.StatusInternalServerError
	}
	return c.JSON(code, body)
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
	}
	return t, nil
}
