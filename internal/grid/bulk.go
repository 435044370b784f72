// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/instances"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

// StateSyncer receives backend-confirmed runtime flags after a bulk action.
// *instances.Store implements it.
type StateSyncer interface {
	SyncInstanceState(id string, state instances.State) bool
}

// InstanceForgetter drops the records of instances purged by a grid delete.
// A StateSyncer that also implements it is told about every deleted id.
type InstanceForgetter interface {
	Forget(ctx context.Context, ids []string) error
}

const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionPause        = "pause"
	ActionResume       = "resume"
	ActionDelete       = "delete"
	ActionTag          = "tag"
	ActionUpdateConfig = "update_config"
	ActionImport       = "import"
)

var allowedFrom = map[string][]models.LifecycleState{
	ActionStart:  {models.StateStopped},
	ActionStop:   {models.StateRunning, models.StateIdle, models.StatePaused, models.StateStarting},
	ActionPause:  {models.StateRunning, models.StateIdle},
	ActionResume: {models.StatePaused},
}

var placeholderFor = map[string]models.LifecycleState{
	ActionStart: models.StateStarting,
	ActionStop:  models.StateStopping,
}

// Coordinator runs batched actions against the selected rows of a view.
type Coordinator struct {
	backend   backend.Backend
	store     *Store
	selection *Selection
	view      func() []models.InstanceSummary
	syncer    StateSyncer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewCoordinator wires a coordinator. view returns the currently filtered and
// sorted rows; syncer may be nil.
func NewCoordinator(b backend.Backend, store *Store, selection *Selection, view func() []models.InstanceSummary, syncer StateSyncer, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		backend:   b,
		store:     store,
		selection: selection,
		view:      view,
		syncer:    syncer,
		metrics:   m,
		logger:    log.Logger.With().Str("module", "grid").Str("component", "bulk").Logger(),
	}
}

func emptyResult() models.GridActionResult {
	return models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
}

func (c *Coordinator) Start(ctx context.Context) (models.GridActionResult, error) {
	return c.run(ctx, ActionStart, c.backend.GridStart)
}

func (c *Coordinator) Stop(ctx context.Context) (models.GridActionResult, error) {
	return c.run(ctx, ActionStop, c.backend.GridStop)
}

func (c *Coordinator) Pause(ctx context.Context) (models.GridActionResult, error) {
	return c.run(ctx, ActionPause, c.backend.GridPause)
}

func (c *Coordinator) Resume(ctx context.Context) (models.GridActionResult, error) {
	return c.run(ctx, ActionResume, c.backend.GridResume)
}

func (c *Coordinator) Tag(ctx context.Context, add, remove []string) (models.GridActionResult, error) {
	return c.run(ctx, ActionTag, func(ctx context.Context, ids []string) (models.GridActionResult, error) {
		return c.backend.GridTag(ctx, ids, add, remove)
	})
}

func (c *Coordinator) UpdateConfig(ctx context.Context, preset models.PresetSettings) (models.GridActionResult, error) {
	return c.run(ctx, ActionUpdateConfig, func(ctx context.Context, ids []string) (models.GridActionResult, error) {
		return c.backend.GridUpdateConfig(ctx, ids, preset)
	})
}

// Delete removes the selected rows. Every requested id leaves the selection
// and the rows even when the backend did not confirm it.
func (c *Coordinator) Delete(ctx context.Context) (models.GridActionResult, error) {
	ids := c.selection.Scoped(c.view())
	if len(ids) == 0 {
		return emptyResult(), nil
	}

	result, err := c.backend.GridDelete(ctx, ids)
	c.refetch(ctx, ids)
	c.selection.Prune(ids...)
	c.store.RemoveRows(ids)
	c.forget(ctx, ids)

	if err != nil {
		return emptyResult(), errors.Wrap(err, "grid delete")
	}
	c.metrics.ObserveBulk(ActionDelete, len(result.Succeeded), len(result.Failed), 0)
	c.logger.Debug().Int("requested", len(ids)).Int("failed", len(result.Failed)).Msg("grid delete finished")
	return result, nil
}

// Import creates instances from torrent files. An empty file list is reported
// in the result without calling the backend.
func (c *Coordinator) Import(ctx context.Context, files []models.ImportFile, settings models.GridImportSettings) (models.GridImportResult, error) {
	if len(files) == 0 {
		return noFiles(), nil
	}
	result, err := c.backend.GridImport(ctx, files, settings)
	return c.finishImport(ctx, result, err)
}

func (c *Coordinator) ImportFolder(ctx context.Context, path string, settings models.GridImportSettings) (models.GridImportResult, error) {
	if path == "" {
		return noFiles(), nil
	}
	result, err := c.backend.GridImportFolder(ctx, path, settings)
	return c.finishImport(ctx, result, err)
}

func (c *Coordinator) finishImport(ctx context.Context, result models.GridImportResult, err error) (models.GridImportResult, error) {
	c.refetch(ctx, nil)
	if err != nil {
		return models.GridImportResult{}, errors.Wrap(err, "grid import")
	}
	c.metrics.ObserveBulk(ActionImport, len(result.Imported), len(result.Errors), 0)
	return result, nil
}

func noFiles() models.GridImportResult {
	return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{models.ErrNoFilesSelected}}
}

func (c *Coordinator) run(ctx context.Context, action string, call func(context.Context, []string) (models.GridActionResult, error)) (models.GridActionResult, error) {
	view := c.view()
	selected := c.selection.Scoped(view)

	ids := selected
	if allowed, ok := allowedFrom[action]; ok {
		ids = make([]string, 0, len(selected))
		for _, row := range view {
			if slices.Contains(selected, row.ID) && slices.Contains(allowed, row.State) {
				ids = append(ids, row.ID)
			}
		}
	}
	filtered := len(selected) - len(ids)

	if len(ids) == 0 {
		c.metrics.ObserveBulk(action, 0, 0, filtered)
		return emptyResult(), nil
	}

	if state, ok := placeholderFor[action]; ok {
		c.store.SetPlaceholders(ids, state)
	}

	result, err := call(ctx, ids)
	c.refetch(ctx, ids)
	c.syncStates(ids)
	if err != nil {
		return emptyResult(), errors.Wrapf(err, "grid %s", action)
	}

	c.metrics.ObserveBulk(action, len(result.Succeeded), len(result.Failed), filtered)
	c.logger.Debug().Str("action", action).Int("requested", len(ids)).Int("filtered", filtered).Int("failed", len(result.Failed)).Msg("grid action finished")
	return result, nil
}

func (c *Coordinator) refetch(ctx context.Context, ids []string) {
	if err := c.store.Refetch(ctx, ids); err != nil {
		c.logger.Warn().Err(err).Msg("failed to refetch summaries after grid action")
	}
}

func (c *Coordinator) forget(ctx context.Context, ids []string) {
	forgetter, ok := c.syncer.(InstanceForgetter)
	if !ok {
		return
	}
	if err := forgetter.Forget(ctx, ids); err != nil {
		c.logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to drop deleted instances")
	}
}

func (c *Coordinator) syncStates(ids []string) {
	if c.syncer == nil {
		return
	}
	for _, id := range ids {
		row, ok := c.store.Row(id)
		if !ok {
			continue
		}
		c.syncer.SyncInstanceState(id, instances.StateFromSummary(row))
	}
}
