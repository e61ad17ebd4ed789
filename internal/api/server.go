// Package api provides the HTTP REST API for TVBridge Core.
//
// It exposes the device registry (list, add, enable, remove), persisted
// device state, and a direct command endpoint mirroring the MQTT
// command surface.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tvbridge/core/internal/bridges/androidtv"
	"github.com/tvbridge/core/internal/device"
	"github.com/tvbridge/core/internal/infrastructure/config"
	"github.com/tvbridge/core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *androidtv.Registry
	Repo     device.Repository
	Version  string
}

// Server is the HTTP API server for TVBridge Core.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *androidtv.Registry
	repo     device.Repository
	version  string
	started  time.Time
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("device repository is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		repo:     deps.Repo,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.started = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
