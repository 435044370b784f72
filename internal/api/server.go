// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the local control API over the instance store and the
// grid view.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/api/handlers"
	"github.com/autobrr/ratiosync/internal/api/middleware"
	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/config"
	"github.com/autobrr/ratiosync/internal/grid"
	"github.com/autobrr/ratiosync/internal/instances"
	"github.com/autobrr/ratiosync/internal/metrics"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	runtime   backend.Runtime
	instances *instances.Store
	viewer    *grid.Viewer
	metrics   *metrics.Metrics
}

type Dependencies struct {
	Config    *config.AppConfig
	Version   string
	Runtime   backend.Runtime
	Instances *instances.Store
	Viewer    *grid.Viewer
	Metrics   *metrics.Metrics
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:    log.Logger.With().Str("module", "api").Logger(),
		config:    deps.Config,
		version:   deps.Version,
		runtime:   deps.Runtime,
		instances: deps.Instances,
		viewer:    deps.Viewer,
		metrics:   deps.Metrics,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msgf("Starting control API - Open: http://%s/api", host)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods:  []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:  []string{"Accept", "Content-Type"},
		AllowOriginFunc: func(origin string) bool { return true },
		MaxAge:          300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.version, s.runtime)
	instancesHandler := handlers.NewInstancesHandler(s.instances)
	gridHandler := handlers.NewGridHandler(s.viewer)

	r.Get("/health", healthHandler.HandleHealth)

	if s.metrics != nil && s.config.Config.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", instancesHandler.ListInstances)
			r.Post("/", instancesHandler.CreateInstance)

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Delete("/", instancesHandler.DeleteInstance)
				r.Put("/active", instancesHandler.SetActive)
				r.Post("/ensure", instancesHandler.EnsureInstance)
				r.Put("/settings", instancesHandler.UpdateSettings)
				r.Put("/torrent", instancesHandler.SelectTorrent)
			})
		})

		r.Route("/grid", func(r chi.Router) {
			r.Get("/", gridHandler.List)
			r.Post("/refresh", gridHandler.Refresh)
			r.Post("/selection", gridHandler.Selection)
			r.Get("/tags", gridHandler.TagSuggestions)

			r.Post("/start", gridHandler.Start)
			r.Post("/stop", gridHandler.Stop)
			r.Post("/pause", gridHandler.Pause)
			r.Post("/resume", gridHandler.Resume)
			r.Post("/delete", gridHandler.Delete)
			r.Post("/tag", gridHandler.Tag)
			r.Post("/update-config", gridHandler.UpdateConfig)
			r.Post("/import", gridHandler.Import)
		})
	})

	return r
}
