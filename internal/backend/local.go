// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"
	"sync"

	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/models"
)

// local adapts an in-process engine to Backend. Desktop and Browser embed it.
type local struct {
	engine *host.Engine
}

func (l *local) Engine() *host.Engine { return l.engine }

// AutonomousScheduler is false: the engine only advances when asked to.
func (l *local) AutonomousScheduler() bool { return false }

func (l *local) CreateInstance(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.engine.CreateInstance(), nil
}

func (l *local) DeleteInstance(_ context.Context, id string, force bool) error {
	return l.engine.DeleteInstance(id, force)
}

func (l *local) ListInstances(context.Context) ([]models.ServerInstance, error) {
	return nil, ErrUnsupported
}

func (l *local) GetInstance(context.Context, string) (*models.ServerInstance, error) {
	return nil, ErrUnsupported
}

func (l *local) ListSummaries(context.Context) ([]models.InstanceSummary, error) {
	return l.engine.Summaries(), nil
}

func (l *local) GetInstanceTorrent(_ context.Context, id string) (*models.TorrentInfo, error) {
	return l.engine.Torrent(id)
}

func (l *local) LoadInstanceTorrent(_ context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	return l.engine.LoadTorrent(id, src)
}

func (l *local) UpdateInstanceConfig(_ context.Context, id string, cfg models.InstanceConfig) error {
	return l.engine.UpdateConfig(id, cfg)
}

func (l *local) UpdateStatsOnly(_ context.Context, id string) (*models.InstanceStats, error) {
	stats, err := l.engine.Advance(id)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (l *local) GridStart(_ context.Context, ids []string) (models.GridActionResult, error) {
	return l.engine.GridStart(ids), nil
}

func (l *local) GridStop(_ context.Context, ids []string) (models.GridActionResult, error) {
	return l.engine.GridStop(ids), nil
}

func (l *local) GridPause(_ context.Context, ids []string) (models.GridActionResult, error) {
	return l.engine.GridPause(ids), nil
}

func (l *local) GridResume(_ context.Context, ids []string) (models.GridActionResult, error) {
	return l.engine.GridResume(ids), nil
}

func (l *local) GridDelete(_ context.Context, ids []string) (models.GridActionResult, error) {
	return l.engine.GridDelete(ids), nil
}

func (l *local) GridTag(_ context.Context, ids []string, add, remove []string) (models.GridActionResult, error) {
	return l.engine.GridTag(ids, add, remove), nil
}

func (l *local) GridUpdateConfig(_ context.Context, ids []string, preset models.PresetSettings) (models.GridActionResult, error) {
	return l.engine.GridUpdateConfig(ids, preset), nil
}

func (l *local) GridImport(_ context.Context, files []models.ImportFile, settings models.GridImportSettings) (models.GridImportResult, error) {
	return l.engine.Import(files, settings), nil
}

func (l *local) GridImportFolder(_ context.Context, path string, settings models.GridImportSettings) (models.GridImportResult, error) {
	return l.engine.ImportFolder(path, settings), nil
}

func (l *local) Subscribe(ctx context.Context, fn func(models.InstanceEvent)) (func(), error) {
	unsubscribe := l.engine.Subscribe(fn)

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			close(stop)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	return cancel, nil
}
