// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package instances

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/models"
)

// State is the backend-confirmed runtime of one instance.
type State struct {
	IsRunning bool
	IsPaused  bool
	Stats     *models.InstanceStats
}

// StateFromSummary maps a grid row onto runtime flags and counters.
func StateFromSummary(sum models.InstanceSummary) State {
	running, paused := models.RuntimeFlags(models.MapRuntimeState(string(sum.State)))
	return State{
		IsRunning: running,
		IsPaused:  paused,
		Stats:     &models.InstanceStats{Uploaded: sum.Uploaded, Downloaded: sum.Downloaded},
	}
}

func fromServerInstance(si models.ServerInstance) models.Instance {
	inst := models.Instance{
		ID:                     si.ID,
		Settings:               models.SettingsFromConfig(si.Config),
		Source:                 models.ParseSource(string(si.Source)),
		Tags:                   slices.Clone(si.Tags),
		CumulativeUploadedMB:   models.BytesToMB(si.Stats.Uploaded),
		CumulativeDownloadedMB: models.BytesToMB(si.Stats.Downloaded),
	}
	if si.Torrent != nil {
		t := *si.Torrent
		inst.Torrent = &t
	}
	inst.ApplyRuntime(models.RuntimeFlags(models.MapRuntimeState(string(si.Stats.State))))
	return inst
}

func fromSummary(sum models.InstanceSummary, settings models.Settings) models.Instance {
	inst := models.Instance{
		ID:                     sum.ID,
		Settings:               settings,
		Source:                 models.ParseSource(string(sum.Source)),
		Tags:                   slices.Clone(sum.Tags),
		CumulativeUploadedMB:   models.BytesToMB(sum.Uploaded),
		CumulativeDownloadedMB: models.BytesToMB(sum.Downloaded),
	}
	inst.ApplyRuntime(models.RuntimeFlags(models.MapRuntimeState(string(sum.State))))
	return inst
}

// MergeServerInstance appends si unless a record with its id exists. It
// reports whether a record was added.
func (s *Store) MergeServerInstance(si models.ServerInstance) bool {
	s.mu.Lock()
	if s.indexLocked(si.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.records = append(s.records, fromServerInstance(si))
	if s.activeID == "" {
		s.activeID = si.ID
	}
	s.mu.Unlock()

	s.notify(ChangeAdded, si.ID)
	return true
}

// EnsureInstance makes sure a record for id exists, preferring the backend's
// full view and falling back to a grid row. It returns false only when the
// record is unknown and no fallback was given.
func (s *Store) EnsureInstance(ctx context.Context, id string, fallback *models.InstanceSummary) (string, bool) {
	si, err := s.backend.GetInstance(ctx, id)
	if err == nil && si != nil {
		if s.patch(*si) {
			return id, true
		}
		s.MergeServerInstance(*si)
		return id, true
	}
	if err != nil && !errors.Is(err, backend.ErrUnsupported) {
		s.logger.Debug().Err(err).Str("instanceID", id).Msg("backend lookup failed")
	}

	s.mu.Lock()
	if s.indexLocked(id) >= 0 {
		s.mu.Unlock()
		return id, true
	}
	if fallback == nil {
		s.mu.Unlock()
		return "", false
	}
	sum := *fallback
	sum.ID = id
	s.records = append(s.records, fromSummary(sum, s.presets.Defaults()))
	if s.activeID == "" {
		s.activeID = id
	}
	s.mu.Unlock()

	s.notify(ChangeAdded, id)

	s.hydrating.Add(1)
	go func() {
		defer s.hydrating.Done()
		s.hydrateTorrent(context.WithoutCancel(ctx), id)
	}()
	return id, true
}

// patch refreshes an existing record from the backend's view.
func (s *Store) patch(si models.ServerInstance) bool {
	s.mu.Lock()
	idx := s.indexLocked(si.ID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	rec := &s.records[idx]
	rec.Settings = models.SettingsFromConfig(si.Config)
	if si.Torrent != nil {
		t := *si.Torrent
		rec.Torrent = &t
	}
	rec.Tags = slices.Clone(si.Tags)
	rec.Source = models.ParseSource(string(si.Source))
	s.mu.Unlock()

	s.notify(ChangeUpdated, si.ID)
	return true
}

func (s *Store) hydrateTorrent(ctx context.Context, id string) {
	info, err := s.backend.GetInstanceTorrent(ctx, id)
	if err != nil {
		s.logger.Debug().Err(err).Str("instanceID", id).Msg("torrent not available")
		return
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.records[idx].Torrent != nil {
		s.mu.Unlock()
		return
	}
	s.records[idx].Torrent = info
	s.mu.Unlock()

	s.notify(ChangeUpdated, id)
}

// SyncInstanceState applies backend-confirmed runtime flags. The record is
// only rewritten when a flag changed.
func (s *Store) SyncInstanceState(id string, state State) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	rec := &s.records[idx]
	if rec.IsRunning == state.IsRunning && rec.IsPaused == state.IsPaused {
		s.mu.Unlock()
		return false
	}
	rec.ApplyRuntime(state.IsRunning, state.IsPaused)
	if state.Stats != nil {
		rec.CumulativeUploadedMB = models.BytesToMB(state.Stats.Uploaded)
		rec.CumulativeDownloadedMB = models.BytesToMB(state.Stats.Downloaded)
	}
	s.mu.Unlock()

	s.notify(ChangeStatus, id)
	return true
}

// SyncAllInstanceStates reads the summaries once and syncs every known record.
func (s *Store) SyncAllInstanceStates(ctx context.Context) error {
	summaries, err := s.backend.ListSummaries(ctx)
	if err != nil {
		return errors.Wrap(err, "list summaries")
	}
	for _, sum := range summaries {
		s.SyncInstanceState(sum.ID, StateFromSummary(sum))
	}
	return nil
}
