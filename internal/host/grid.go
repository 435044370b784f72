// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

func (e *Engine) each(ids []string, fn func(string) error) models.GridActionResult {
	result := models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
	for _, id := range ids {
		if err := fn(id); err != nil {
			result.Fail(id, err)
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (e *Engine) GridStart(ids []string) models.GridActionResult  { return e.each(ids, e.Start) }
func (e *Engine) GridStop(ids []string) models.GridActionResult   { return e.each(ids, e.Stop) }
func (e *Engine) GridPause(ids []string) models.GridActionResult  { return e.each(ids, e.Pause) }
func (e *Engine) GridResume(ids []string) models.GridActionResult { return e.each(ids, e.Resume) }

// GridDelete force-deletes every id.
func (e *Engine) GridDelete(ids []string) models.GridActionResult {
	return e.each(ids, func(id string) error { return e.DeleteInstance(id, true) })
}

// GridUpdateConfig applies preset on top of each instance's current settings.
func (e *Engine) GridUpdateConfig(ids []string, preset models.PresetSettings) models.GridActionResult {
	return e.each(ids, func(id string) error {
		e.mu.RLock()
		inst, ok := e.instances[id]
		var cfg models.InstanceConfig
		if ok {
			cfg = inst.config
		}
		e.mu.RUnlock()
		if !ok {
			return models.ErrInstanceNotFound
		}

		settings := preset.Apply(models.SettingsFromConfig(cfg))
		next := settings.ToConfig(0, 0)
		next.InitialUploaded = cfg.InitialUploaded
		next.InitialDownloaded = cfg.InitialDownloaded
		return e.UpdateConfig(id, next)
	})
}

// GridTag adds missing tags and removes the listed ones.
func (e *Engine) GridTag(ids []string, add, remove []string) models.GridActionResult {
	add = normalizeTags(add)
	remove = normalizeTags(remove)

	return e.each(ids, func(id string) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		inst, ok := e.instances[id]
		if !ok {
			return models.ErrInstanceNotFound
		}
		tags := slices.Clone(inst.tags)
		for _, tag := range add {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
		tags = slices.DeleteFunc(tags, func(tag string) bool { return slices.Contains(remove, tag) })
		inst.tags = tags
		return nil
	})
}

// Import creates one instance per file. Problems are reported per file in the result.
func (e *Engine) Import(files []models.ImportFile, settings models.GridImportSettings) models.GridImportResult {
	if len(files) == 0 {
		return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{models.ErrNoFilesSelected}}
	}

	sources := make([]importSource, 0, len(files))
	for _, f := range files {
		sources = append(sources, importSource{name: f.Name, data: f.Data})
	}
	return e.importAll(sources, settings, models.SourceManual)
}

// ImportFolder imports every .torrent file directly inside dir.
func (e *Engine) ImportFolder(dir string, settings models.GridImportSettings) models.GridImportResult {
	paths, err := torrentFiles(dir)
	if err != nil {
		return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{err.Error()}}
	}
	if len(paths) == 0 {
		return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{fmt.Sprintf("no torrent files found in %s", dir)}}
	}

	sources := make([]importSource, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, importSource{name: filepath.Base(p), path: p})
	}
	return e.importAll(sources, settings, models.SourceManual)
}

// ImportWatchFile creates a watch-folder instance for path.
func (e *Engine) ImportWatchFile(path string, settings models.GridImportSettings) (models.GridImportedInstance, error) {
	result := e.importAll([]importSource{{name: filepath.Base(path), path: path}}, settings, models.SourceWatchFolder)
	if len(result.Imported) == 0 {
		if len(result.Errors) > 0 {
			return models.GridImportedInstance{}, errors.New(result.Errors[0])
		}
		return models.GridImportedInstance{}, errors.New("import failed")
	}
	return result.Imported[0], nil
}

// RemoveWatchFile deletes the watch-folder instance created from path, if any.
func (e *Engine) RemoveWatchFile(path string) (string, bool) {
	e.mu.RLock()
	var id string
	for _, candidate := range e.order {
		inst := e.instances[candidate]
		if inst.source == models.SourceWatchFolder && inst.path == path {
			id = candidate
			break
		}
	}
	e.mu.RUnlock()

	if id == "" {
		return "", false
	}
	return id, e.DeleteInstance(id, true) == nil
}

type importSource struct {
	name string
	path string
	data []byte
}

func (e *Engine) importAll(sources []importSource, settings models.GridImportSettings, source models.Source) models.GridImportResult {
	result := models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{}}
	cfg := settings.ResolveForInstance().Apply(models.BuiltinDefaults()).ToConfig(0, 0)
	tags := normalizeTags(settings.Tags)

	var events []models.InstanceEvent
	for _, src := range sources {
		imported, err := e.importOne(src, cfg, tags, source)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.name, err))
			continue
		}
		result.Imported = append(result.Imported, imported)
		events = append(events, models.InstanceEvent{
			Type:        models.EventCreated,
			ID:          imported.ID,
			TorrentName: imported.Name,
			InfoHash:    imported.InfoHash,
			AutoStarted: settings.AutoStart,
		})
	}

	e.emit(events...)

	if settings.AutoStart && len(result.Imported) > 0 {
		var stagger time.Duration
		if settings.StaggerStartSecs != nil {
			stagger = time.Duration(*settings.StaggerStartSecs) * time.Second
		}
		ids := make([]string, 0, len(result.Imported))
		for _, imported := range result.Imported {
			ids = append(ids, imported.ID)
		}
		e.scheduleStarts(ids, stagger)
	}

	return result
}

func (e *Engine) importOne(src importSource, cfg models.InstanceConfig, tags []string, source models.Source) (models.GridImportedInstance, error) {
	data, err := readTorrent(models.TorrentSource{Path: src.path, Data: src.data})
	if err != nil {
		return models.GridImportedInstance{}, err
	}
	info, err := ParseTorrent(data)
	if err != nil {
		return models.GridImportedInstance{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, inst := range e.instances {
		if inst.torrent != nil && inst.torrent.InfoHash == info.InfoHash {
			return models.GridImportedInstance{}, errors.Errorf("torrent %s is already loaded", info.Name)
		}
	}

	id := uuid.NewString()
	inst := &instance{
		id:        id,
		torrent:   info,
		raw:       data,
		path:      src.path,
		config:    cfg,
		state:     models.FakerStopped,
		tags:      slices.Clone(tags),
		source:    source,
		createdAt: e.clock().Unix(),
		stats:     models.InstanceStats{State: models.FakerStopped},
	}
	inst.resetProgress()
	e.instances[id] = inst
	e.order = append(e.order, id)

	return models.GridImportedInstance{ID: id, Name: info.Name, InfoHash: info.InfoHash}, nil
}

func (e *Engine) scheduleStarts(ids []string, stagger time.Duration) {
	for i, id := range ids {
		delay := time.Duration(i) * stagger
		if delay <= 0 {
			if err := e.Start(id); err != nil {
				e.logger.Warn().Err(err).Str("instanceID", id).Msg("auto-start failed")
			}
			continue
		}

		e.mu.Lock()
		e.timers[id] = time.AfterFunc(delay, func() {
			e.mu.Lock()
			delete(e.timers, id)
			e.mu.Unlock()
			if err := e.Start(id); err != nil {
				e.logger.Warn().Err(err).Str("instanceID", id).Msg("staggered auto-start failed")
			}
		})
		e.mu.Unlock()
	}
}

func torrentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read folder %s", dir)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".torrent") {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(out)
	return out, nil
}
