// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backend talks to whatever hosts the emulated instances: the
// multi-client server over HTTP, or an in-process engine on desktop and browser.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

type Runtime string

const (
	RuntimeDesktop Runtime = "desktop"
	RuntimeServer  Runtime = "server"
	RuntimeBrowser Runtime = "browser"
)

// ErrUnsupported is returned by operations a runtime does not provide.
var ErrUnsupported = errors.New("operation not supported by this runtime")

// Backend is the authoritative store of instances.
type Backend interface {
	Runtime() Runtime
	// AutonomousScheduler reports whether the backend advances running
	// instances by itself. When false, callers drive UpdateStatsOnly.
	AutonomousScheduler() bool

	CreateInstance(ctx context.Context) (string, error)
	DeleteInstance(ctx context.Context, id string, force bool) error
	ListInstances(ctx context.Context) ([]models.ServerInstance, error)
	GetInstance(ctx context.Context, id string) (*models.ServerInstance, error)
	ListSummaries(ctx context.Context) ([]models.InstanceSummary, error)
	GetInstanceTorrent(ctx context.Context, id string) (*models.TorrentInfo, error)
	LoadInstanceTorrent(ctx context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error)
	UpdateInstanceConfig(ctx context.Context, id string, cfg models.InstanceConfig) error
	UpdateStatsOnly(ctx context.Context, id string) (*models.InstanceStats, error)

	GridStart(ctx context.Context, ids []string) (models.GridActionResult, error)
	GridStop(ctx context.Context, ids []string) (models.GridActionResult, error)
	GridPause(ctx context.Context, ids []string) (models.GridActionResult, error)
	GridResume(ctx context.Context, ids []string) (models.GridActionResult, error)
	GridDelete(ctx context.Context, ids []string) (models.GridActionResult, error)
	GridTag(ctx context.Context, ids []string, add, remove []string) (models.GridActionResult, error)
	GridUpdateConfig(ctx context.Context, ids []string, preset models.PresetSettings) (models.GridActionResult, error)
	GridImport(ctx context.Context, files []models.ImportFile, settings models.GridImportSettings) (models.GridImportResult, error)
	GridImportFolder(ctx context.Context, path string, settings models.GridImportSettings) (models.GridImportResult, error)

	// Subscribe delivers instance events until the returned cancel func is
	// called or ctx ends.
	Subscribe(ctx context.Context, fn func(models.InstanceEvent)) (func(), error)
}

// ConfigHost is implemented by backends that own a structured config document.
type ConfigHost interface {
	GetConfig(ctx context.Context) (models.HostConfig, error)
	UpdateConfig(ctx context.Context, cfg models.HostConfig) error
}

// RestorationSignal is implemented by backends that restore instances
// asynchronously after start-up. The channel is closed once restoration ends.
type RestorationSignal interface {
	RestorationDone() <-chan struct{}
}
