// Package server hosts the HTTP surface: REST + SSE API, health and
// metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/internal/profile"
	apiv1 "github.com/KDmytro/k-base/server/router/api/v1"
	"github.com/KDmytro/k-base/store"
)

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	apiService *apiv1.APIV1Service
}

// NewServer creates the HTTP server and wires the API service.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("HTTP request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))

	s := &Server{
		Profile:    profile,
		Store:      store,
		echoServer: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiService, err := apiv1.NewAPIV1Service(ctx, profile, store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create API v1 service")
	}
	s.apiService = apiService
	apiService.RegisterRoutes(e)

	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server shutdown")
}
