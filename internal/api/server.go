// Package api provides the HTTP API server.
package api //nolint:revive // api is a common, well-understood package name

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ghermez/ariabridge/apitypes"
	"github.com/ghermez/ariabridge/internal/category"
	"github.com/ghermez/ariabridge/internal/controller"
	"github.com/ghermez/ariabridge/internal/speedlimit"
	"github.com/ghermez/ariabridge/internal/timeline"
)

// validGIDPattern matches aria2 gids: up to 64 alphanumeric characters.
var validGIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,64}$`)

// validateGID checks that a gid parameter is well formed.
func validateGID(gid string) error {
	if gid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "gid is required")
	}
	if !validGIDPattern.MatchString(gid) {
		return echo.NewHTTPError(http.StatusBadRequest, "gid must be 1-64 alphanumeric characters")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	controller *controller.Controller
	timeline   timeline.Recorder
	basePath   string
	subfolder  bool
	rateLimit  float64
	logger     zerolog.Logger
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTimeline exposes the recorder under /api/timeline.
func WithTimeline(recorder timeline.Recorder) Option {
	return func(s *Server) {
		s.timeline = recorder
	}
}

// WithDestination sets the defaults of the destination lookup.
func WithDestination(basePath string, subfolder bool) Option {
	return func(s *Server) {
		s.basePath = basePath
		s.subfolder = subfolder
	}
}

// WithRateLimit limits each client to perSecond requests. Zero disables
// the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(s *Server) {
		s.rateLimit = perSecond
	}
}

// New creates a new API server.
func New(ctrl *controller.Controller, opts ...Option) *Server {
	s := &Server{
		echo:       echo.New(),
		controller: ctrl,
		subfolder:  true,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	// Recovery
	s.echo.Use(middleware.Recover())

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))

	if s.rateLimit > 0 {
		s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(s.rateLimit)),
		}))
	}
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", s.healthHandler)
	api.GET("/version", s.versionHandler)

	// Downloads
	api.GET("/downloads", s.listDownloadsHandler)
	api.GET("/downloads/gids", s.listGIDsHandler)
	api.POST("/downloads", s.addDownloadHandler)
	api.GET("/downloads/:gid", s.getDownloadHandler)
	api.DELETE("/downloads/:gid", s.removeDownloadHandler)
	api.POST("/downloads/:gid/pause", s.pauseDownloadHandler)
	api.POST("/downloads/:gid/resume", s.resumeDownloadHandler)
	api.PUT("/downloads/:gid/limit", s.limitDownloadHandler)
	api.GET("/downloads/:gid/timeline", s.downloadTimelineHandler)

	// Daemon
	api.POST("/daemon/shutdown", s.shutdownHandler)

	api.GET("/destination", s.destinationHandler)
	api.GET("/timeline", s.timelineHandler)

	s.echo.GET("/", s.indexHandler)
}

// Start starts the server.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Handlers

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.HealthResponse{Status: "ok"})
}

func (s *Server) versionHandler(c echo.Context) error {
	v := s.controller.Version(c.Request().Context())
	return c.JSON(http.StatusOK, apitypes.VersionResponse{Version: v})
}

func (s *Server) listDownloadsHandler(c echo.Context) error {
	gids, tasks, ok := s.controller.ListActive(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, apitypes.ErrorResponse{Error: "active downloads unavailable"})
	}
	return c.JSON(http.StatusOK, apitypes.DownloadList{GIDs: gids, Downloads: tasks})
}

func (s *Server) listGIDsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.GIDList{GIDs: s.controller.ListActiveGIDs(c.Request().Context())})
}

func (s *Server) getDownloadHandler(c echo.Context) error {
	gid := c.Param("gid")
	if err := validateGID(gid); err != nil {
		return err
	}

	task, ok := s.controller.Status(c.Request().Context(), gid)
	if !ok {
		return c.JSON(http.StatusBadGateway, apitypes.ErrorResponse{Error: "download status unavailable"})
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) addDownloadHandler(c echo.Context) error {
	var req apitypes.AddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	if req.Limit != "" {
		if _, err := speedlimit.Normalize(req.Limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	gid, ok := s.controller.Add(c.Request().Context(), req.URL, controller.AddOptions{
		Dir:           req.Dir,
		Out:           req.Out,
		Headers:       req.Headers,
		Cookies:       req.Cookies,
		UserAgent:     req.UserAgent,
		Referer:       req.Referer,
		Connections:   req.Connections,
		Limit:         req.Limit,
		Proxy:         req.Proxy,
		ProxyUser:     req.ProxyUser,
		ProxyPassword: req.ProxyPassword,
		HTTPUser:      req.HTTPUser,
		HTTPPassword:  req.HTTPPassword,
	})
	if !ok {
		return c.JSON(http.StatusBadGateway, apitypes.ErrorResponse{Error: "download not added"})
	}
	return c.JSON(http.StatusCreated, apitypes.AddResponse{GID: gid})
}

func (s *Server) pauseDownloadHandler(c echo.Context) error {
	return s.control(c, s.controller.Pause)
}

func (s *Server) resumeDownloadHandler(c echo.Context) error {
	return s.control(c, s.controller.Resume)
}

func (s *Server) removeDownloadHandler(c echo.Context) error {
	return s.control(c, s.controller.Remove)
}

func (s *Server) control(c echo.Context, op func(context.Context, string) (string, bool)) error {
	gid := c.Param("gid")
	if err := validateGID(gid); err != nil {
		return err
	}

	result, ok := op(c.Request().Context(), gid)
	if !ok {
		return c.JSON(http.StatusBadGateway, apitypes.ErrorResponse{Error: "operation failed"})
	}
	return c.JSON(http.StatusOK, apitypes.ControlResponse{GID: gid, Result: result})
}

func (s *Server) limitDownloadHandler(c echo.Context) error {
	gid := c.Param("gid")
	if err := validateGID(gid); err != nil {
		return err
	}

	var req apitypes.LimitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	limit, err := speedlimit.Normalize(req.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// The outcome of the daemon call is only logged and published.
	s.controller.SetSpeedLimit(c.Request().Context(), gid, limit)
	return c.JSON(http.StatusAccepted, apitypes.LimitResponse{GID: gid, Limit: limit})
}

func (s *Server) shutdownHandler(c echo.Context) error {
	if !s.controller.Shutdown(c.Request().Context()) {
		return c.JSON(http.StatusBadGateway, apitypes.ShutdownResponse{Accepted: false})
	}
	return c.JSON(http.StatusOK, apitypes.ShutdownResponse{Accepted: true})
}

func (s *Server) destinationHandler(c echo.Context) error {
	file := c.QueryParam("file")
	if file == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	base := c.QueryParam("base")
	if base == "" {
		base = s.basePath
	}

	subfolder := s.subfolder
	if raw := c.QueryParam("subfolder"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "subfolder must be a boolean")
		}
		subfolder = v
	}

	return c.JSON(http.StatusOK, apitypes.DestinationResponse{
		File:        file,
		Category:    category.Classify(file).String(),
		Destination: s.controller.FindDestinationFolder(file, base, subfolder),
	})
}

func (s *Server) timelineHandler(c echo.Context) error {
	if s.timeline == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.timeline.All())
}

func (s *Server) downloadTimelineHandler(c echo.Context) error {
	gid := c.Param("gid")
	if err := validateGID(gid); err != nil {
		return err
	}

	if s.timeline == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.timeline.ByGID(gid))
}

func (s *Server) indexHandler(c echo.Context) error {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>ariabridge</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 40px; }
        h1 { color: #333; }
        .status { color: #28a745; }
        a { color: #007bff; }
    </style>
</head>
<body>
    <h1>ariabridge</h1>
    <p class="status">Status: Running</p>
    <h2>API Endpoints</h2>
    <ul>
        <li><a href="/api/health">/api/health</a> - Health check</li>
        <li><a href="/api/version">/api/version</a> - aria2 version</li>
        <li><a href="/api/downloads">/api/downloads</a> - Active downloads</li>
        <li><a href="/api/downloads/gids">/api/downloads/gids</a> - Active gids</li>
        <li><a href="/api/timeline">/api/timeline</a> - Recent operations</li>
    </ul>
</body>
</html>`
	return c.HTML(http.StatusOK, html)
}
