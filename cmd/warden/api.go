package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

const authorizationBearerPrefix = "Bearer "

// registers its collectors, so only build it once per process
var apiMetricsMiddleware = echoprometheus.NewMiddleware("warden_api")

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) apiRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(apiMetricsMiddleware)

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := any(err.Error())
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = he.Message
		} else {
			s.logger.Warn("api handler error", "path", c.Path(), "err", err)
		}
		if err2 := c.JSON(code, map[string]any{"error": msg}); err2 != nil {
			s.logger.Error("failed to write http error", "err", err2)
		}
	}

	e.GET("/_health", s.HandleHealthCheck)

	// admin routes only exist when a token is configured
	if s.config.AdminToken != "" {
		admin := e.Group("/admin", s.checkAdminAuth)
		admin.GET("/users/:nick", s.handleGetUser)
		admin.DELETE("/users/:nick", s.handleClearUser)
		admin.DELETE("/users", s.handleClearAllUsers)
		admin.GET("/stats", s.handleStats)
		admin.GET("/incidents", s.handleIncidents)
	}
	return e
}

// Serves the API until ctx is done.
func (s *Server) RunAPI(ctx context.Context, listen string) error {
	e := s.apiRouter()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", "bind", listen)
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	}
}

func (s *Server) checkAdminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authheader := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authheader, authorizationBearerPrefix) {
			return echo.ErrForbidden
		}
		if authheader[len(authorizationBearerPrefix):] != s.config.AdminToken {
			return echo.ErrForbidden
		}
		return next(c)
	}
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if !s.irc.IsConnected() {
		return c.JSON(http.StatusServiceUnavailable, HealthStatus{Status: "error", Version: versioninfo.Short(), Message: "not connected to irc"})
	}
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok", Version: versioninfo.Short()})
}

func (s *Server) handleGetUser(c echo.Context) error {
	ctx := c.Request().Context()
	st, found, err := s.engine.GetUserStatus(ctx, c.Param("nick"), time.Now())
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no history for user")
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleClearUser(c echo.Context) error {
	ctx := c.Request().Context()
	cleared, err := s.engine.ClearUserHistory(ctx, c.Param("nick"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleClearAllUsers(c echo.Context) error {
	if err := s.engine.ClearAllHistory(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.engine.Stats(c.Request().Context(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleIncidents(c echo.Context) error {
	if s.audit == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit log not configured")
	}
	limit := 20
	if q := c.QueryParam("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit param")
		}
		limit = n
	}
	incidents, err := s.audit.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"incidents": incidents})
}
