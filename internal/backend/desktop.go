// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/models"
)

type DesktopOptions struct {
	// ConfigPath is the TOML document served by GetConfig/UpdateConfig.
	ConfigPath string
	// StatePath is the JSON file holding the engine's instances across restarts.
	StatePath string
	// WatchDir, when set, is watched for .torrent files once restoration ends.
	WatchDir      string
	WatchSettings models.GridImportSettings
	Engine        *host.Engine
}

// Desktop is the embedded host: an in-process engine whose instances survive
// restarts, plus the host config document used for session persistence.
type Desktop struct {
	local

	configPath string
	statePath  string
	watchDir   string
	watch      models.GridImportSettings

	configMu sync.Mutex
	stateMu  sync.Mutex

	restoring   atomic.Bool
	restored    chan struct{}
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	logger zerolog.Logger
}

// NewDesktop starts restoring persisted instances in the background.
// RestorationDone is closed when that has finished.
func NewDesktop(ctx context.Context, opts DesktopOptions) *Desktop {
	engine := opts.Engine
	if engine == nil {
		engine = host.NewEngine()
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Desktop{
		local:      local{engine: engine},
		configPath: opts.ConfigPath,
		statePath:  opts.StatePath,
		watchDir:   opts.WatchDir,
		watch:      opts.WatchSettings,
		restored:   make(chan struct{}),
		cancel:     cancel,
		logger:     log.Logger.With().Str("module", "desktop").Logger(),
	}
	d.restoring.Store(true)
	d.unsubscribe = engine.Subscribe(d.onEvent)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.restore(ctx)
	}()

	return d
}

func (d *Desktop) Runtime() Runtime { return RuntimeDesktop }

func (d *Desktop) RestorationDone() <-chan struct{} { return d.restored }

func (d *Desktop) restore(ctx context.Context) {
	state, err := d.readState()
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to read persisted instances")
	}

	var restart []string
	for _, p := range state.Instances {
		wasRunning, err := d.engine.Restore(p)
		if err != nil {
			d.logger.Warn().Err(err).Str("instanceID", p.ID).Msg("failed to restore instance")
			continue
		}
		if wasRunning {
			restart = append(restart, p.ID)
		}
	}

	d.restoring.Store(false)

	for _, id := range restart {
		if err := d.engine.Start(id); err != nil {
			d.logger.Warn().Err(err).Str("instanceID", id).Msg("failed to auto-start restored instance")
		}
	}

	d.logger.Info().Int("restored", len(state.Instances)).Int("started", len(restart)).Msg("instance restoration complete")
	close(d.restored)

	if d.watchDir != "" {
		if err := d.engine.WatchFolder(ctx, d.watchDir, d.watch); err != nil {
			d.logger.Error().Err(err).Str("watchDir", d.watchDir).Msg("watch folder stopped")
		}
	}
}

func (d *Desktop) onEvent(models.InstanceEvent) {
	if d.restoring.Load() {
		return
	}
	if err := d.SaveState(); err != nil {
		d.logger.Error().Err(err).Msg("failed to persist instances")
	}
}

func (d *Desktop) UpdateInstanceConfig(ctx context.Context, id string, cfg models.InstanceConfig) error {
	if err := d.local.UpdateInstanceConfig(ctx, id, cfg); err != nil {
		return err
	}
	d.onEvent(models.InstanceEvent{})
	return nil
}

func (d *Desktop) LoadInstanceTorrent(ctx context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	info, err := d.local.LoadInstanceTorrent(ctx, id, src)
	if err != nil {
		return nil, err
	}
	d.onEvent(models.InstanceEvent{})
	return info, nil
}

func (d *Desktop) GridTag(ctx context.Context, ids []string, add, remove []string) (models.GridActionResult, error) {
	result, err := d.local.GridTag(ctx, ids, add, remove)
	d.onEvent(models.InstanceEvent{})
	return result, err
}

func (d *Desktop) GridUpdateConfig(ctx context.Context, ids []string, preset models.PresetSettings) (models.GridActionResult, error) {
	result, err := d.local.GridUpdateConfig(ctx, ids, preset)
	d.onEvent(models.InstanceEvent{})
	return result, err
}

// SaveState writes every engine instance to the state file.
func (d *Desktop) SaveState() error {
	if d.statePath == "" {
		return nil
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	data, err := json.MarshalIndent(d.engine.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode instance state")
	}
	return writeFileAtomic(d.statePath, data, 0o600)
}

func (d *Desktop) readState() (host.PersistedState, error) {
	var state host.PersistedState
	if d.statePath == "" {
		return state, nil
	}

	data, err := os.ReadFile(d.statePath)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return state, errors.Wrap(err, "read instance state")
	}

	if err := json.Unmarshal(data, &state); err != nil {
		backup := d.statePath + ".corrupted"
		if rerr := os.Rename(d.statePath, backup); rerr != nil {
			d.logger.Error().Err(rerr).Msg("failed to move corrupted state aside")
		}
		d.logger.Warn().Err(err).Str("backup", backup).Msg("instance state was corrupted, starting fresh")
		return host.PersistedState{}, nil
	}
	return state, nil
}

// GetConfig reads the host config document. A missing file is an empty config.
func (d *Desktop) GetConfig(context.Context) (models.HostConfig, error) {
	d.configMu.Lock()
	defer d.configMu.Unlock()

	var cfg models.HostConfig
	data, err := os.ReadFile(d.configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrap(err, "read host config")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "decode host config")
	}
	return cfg, nil
}

func (d *Desktop) UpdateConfig(_ context.Context, cfg models.HostConfig) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode host config")
	}
	return writeFileAtomic(d.configPath, data, 0o644)
}

// Close stops the watcher, waits for restoration and writes a final snapshot
// so counters advanced since the last event are kept.
func (d *Desktop) Close() error {
	d.cancel()
	d.wg.Wait()
	d.unsubscribe()
	d.engine.Close()
	return d.SaveState()
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	return errors.Wrapf(os.Rename(tmpName, path), "replace %s", path)
}

var (
	_ Backend           = (*Desktop)(nil)
	_ ConfigHost        = (*Desktop)(nil)
	_ RestorationSignal = (*Desktop)(nil)
)
