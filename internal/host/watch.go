// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

// WatchFolder turns .torrent files appearing in dir into watch-folder instances
// and deletes those instances when the file goes away. Files already present
// are imported before watching starts. It blocks until ctx is done.
func (e *Engine) WatchFolder(ctx context.Context, dir string, settings models.GridImportSettings) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	existing, err := torrentFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		e.importWatched(path, settings)
	}

	logger := e.logger.With().Str("watchDir", dir).Logger()
	logger.Info().Int("existing", len(existing)).Msg("watching folder")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".torrent") {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				e.importWatched(ev.Name, settings)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				if id, ok := e.RemoveWatchFile(ev.Name); ok {
					logger.Info().Str("instanceID", id).Str("file", ev.Name).Msg("watch file removed")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (e *Engine) importWatched(path string, settings models.GridImportSettings) {
	if e.hasWatchFile(path) {
		return
	}
	imported, err := e.ImportWatchFile(path, settings)
	if err != nil {
		e.logger.Debug().Err(err).Str("file", path).Msg("watch file not imported")
		return
	}
	e.logger.Info().Str("instanceID", imported.ID).Str("torrent", imported.Name).Msg("watch file imported")
}

func (e *Engine) hasWatchFile(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inst := range e.instances {
		if inst.source == models.SourceWatchFolder && inst.path == path {
			return true
		}
	}
	return false
}
