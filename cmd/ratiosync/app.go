// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/api"
	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/buildinfo"
	"github.com/autobrr/ratiosync/internal/config"
	"github.com/autobrr/ratiosync/internal/domain"
	"github.com/autobrr/ratiosync/internal/grid"
	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/instances"
	"github.com/autobrr/ratiosync/internal/localstore"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
	"github.com/autobrr/ratiosync/internal/session"
)

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	runtime   string
}

func NewApplication(configDir, dataDir, logPath, runtime string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		runtime:   runtime,
	}
}

// runtimeBackend owns the backend together with whatever must be released
// when the process exits.
type runtimeBackend struct {
	backend.Backend
	closers []func() error
}

func (rb *runtimeBackend) Close() {
	for i := len(rb.closers) - 1; i >= 0; i-- {
		if err := rb.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to release backend resource")
		}
	}
}

func newBackend(ctx context.Context, cfg *config.AppConfig, kv *localstore.Store) (*runtimeBackend, error) {
	rb := &runtimeBackend{}

	switch cfg.Config.Runtime {
	case config.RuntimeServer:
		srv, err := backend.NewServer(backend.ServerOptions{
			BaseURL: cfg.Config.ServerURL,
			Token:   cfg.Config.ServerToken,
		})
		if err != nil {
			return nil, err
		}
		rb.Backend = srv

	case config.RuntimeBrowser:
		engine := host.NewEngine()
		rb.Backend = backend.NewBrowser(engine)
		rb.closers = append(rb.closers, func() error { engine.Close(); return nil })

	case config.RuntimeDesktop:
		engine := host.NewEngine()
		preset, err := models.PresetFile{Path: cfg.PresetPath()}.Load()
		if err != nil {
			log.Warn().Err(err).Msg("failed to load preset, watch folder imports use built-in defaults")
		}
		desktop := backend.NewDesktop(ctx, backend.DesktopOptions{
			ConfigPath: cfg.DesktopConfigPath(),
			StatePath:  cfg.DesktopStatePath(),
			WatchDir:   cfg.Config.WatchDir,
			WatchSettings: models.GridImportSettings{
				BaseConfig: preset,
				Mode:       models.GridMode{Kind: models.GridModeSeed},
				AutoStart:  true,
			},
			Engine: engine,
		})
		rb.Backend = desktop
		rb.closers = append(rb.closers, func() error { engine.Close(); return nil }, desktop.Close)

	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Config.Runtime)
	}

	if kv != nil {
		rb.closers = append([]func() error{kv.Close}, rb.closers...)
	}

	return rb, nil
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("RATIOSYNC__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("RATIOSYNC__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	configuredRuntime := cfg.Config.Runtime
	if app.runtime != "" {
		cfg.Config.Runtime = app.runtime
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Str("runtime", cfg.Config.Runtime).Msg("Starting ratiosync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())

	var kv *localstore.Store
	if cfg.Config.Runtime != config.RuntimeDesktop {
		kv, err = localstore.Open(ctx, cfg.LocalStoragePath())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open local storage")
		}
	}

	rb, err := newBackend(ctx, cfg, kv)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backend")
	}
	defer rb.Close()

	var sessionKV session.KV
	if kv != nil {
		sessionKV = kv
	}
	adapter, err := session.ForBackend(rb.Backend, sessionKV, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session persistence")
	}

	store := instances.New(rb.Backend,
		instances.WithSession(adapter),
		instances.WithPresets(models.PresetFile{Path: cfg.PresetPath()}),
		instances.WithRestorePolling(uint(max(cfg.Config.RestorePollAttempts, 0)), cfg.Config.RestorePollInterval),
		instances.WithRestorationTimeout(cfg.Config.RestorationTimeout),
		instances.WithMetrics(m),
	)

	initCtx, initCancel := context.WithTimeout(ctx, 60*time.Second)
	err = store.Initialize(initCtx)
	initCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize instance store")
	}

	stopPersist := instances.PersistOnChange(store, adapter)
	defer stopPersist()

	viewer, err := grid.NewViewer(ctx, rb.Backend, grid.ViewerOptions{
		PollInterval:  cfg.Config.GridPollInterval,
		CoalesceDelay: cfg.Config.EventDebounce,
		Syncer:        store,
		Metrics:       m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start grid view")
	}
	defer viewer.Close()

	go syncInstanceStates(ctx, store, cfg.Config.DefaultPollInterval)

	runtime := rb.Runtime()
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if conf.Runtime != configuredRuntime {
			log.Warn().Str("configured", conf.Runtime).Str("running", string(runtime)).Msg("runtime change requires a restart")
			configuredRuntime = conf.Runtime
		}
	})

	httpServer := api.NewServer(&api.Dependencies{
		Config:    cfg,
		Version:   buildinfo.Version,
		Runtime:   runtime,
		Instances: store,
		Viewer:    viewer,
		Metrics:   m,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
	}

	cancel()
	log.Info().Msg("Server stopped")
}

// syncInstanceStates keeps the standard view's runtime flags in line with the
// backend between grid fetches.
func syncInstanceStates(ctx context.Context, store *instances.Store, interval time.Duration) {
	if interval <= 0 {
		interval = grid.DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.SyncAllInstanceStates(ctx); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Msg("instance state sync failed")
			}
		}
	}
}
