// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package instances

import (
	"context"
	"slices"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/models"
	"github.com/autobrr/ratiosync/internal/session"
)

var errNoSummaries = errors.New("backend has not restored any instances yet")

// Initialize builds the starting records from the first source that yields
// any: the server's instance list, the desktop host's restored instances, the
// saved session, or a single fresh instance. It only fails when that last
// step cannot create an instance.
func (s *Store) Initialize(ctx context.Context) error {
	saved := s.loadSession(ctx)

	steps := []struct {
		name string
		fn   func(context.Context, *session.Session) []models.Instance
	}{
		{name: "server", fn: s.fromServer},
		{name: "desktop restore", fn: s.fromDesktopRestore},
		{name: "saved session", fn: s.fromSession},
	}
	for _, step := range steps {
		if records := step.fn(ctx, saved); len(records) > 0 {
			s.logger.Info().Str("source", step.name).Int("instances", len(records)).Msg("instances initialized")
			s.reset(records, saved)
			return nil
		}
	}

	id, err := s.backend.CreateInstance(ctx)
	if err != nil {
		return errors.Wrap(err, "create default instance")
	}
	inst := s.newRecord(id, s.presets.Defaults())
	s.pushConfig(ctx, inst)

	s.logger.Info().Str("source", "default").Msg("instances initialized")
	s.reset([]models.Instance{inst}, saved)
	return nil
}

func (s *Store) reset(records []models.Instance, saved *session.Session) {
	active := records[0].ID
	if saved != nil && saved.ActiveIndex >= 0 && saved.ActiveIndex < len(records) {
		active = records[saved.ActiveIndex].ID
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	s.mu.Lock()
	s.records = records
	s.activeID = active
	s.mu.Unlock()

	s.notify(ChangeReset, ids...)
}

func (s *Store) loadSession(ctx context.Context) *session.Session {
	if s.sessions == nil {
		return nil
	}
	saved, err := s.sessions.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load saved session")
		return nil
	}
	return saved
}

func (s *Store) fromServer(ctx context.Context, _ *session.Session) []models.Instance {
	if s.backend.Runtime() != backend.RuntimeServer {
		return nil
	}
	list, err := s.backend.ListInstances(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list server instances")
		return nil
	}

	records := make([]models.Instance, 0, len(list))
	for _, si := range list {
		records = append(records, fromServerInstance(si))
	}
	return records
}

// fromDesktopRestore waits for the desktop host to restore its own instances
// and pairs each one with a saved entry by torrent name.
func (s *Store) fromDesktopRestore(ctx context.Context, saved *session.Session) []models.Instance {
	if s.backend.Runtime() != backend.RuntimeDesktop || saved == nil || len(saved.Entries) == 0 {
		return nil
	}

	summaries := s.pollSummaries(ctx)
	if len(summaries) == 0 {
		summaries = s.awaitRestoration(ctx)
	}
	if len(summaries) == 0 {
		return nil
	}

	defaults := s.presets.Defaults()
	used := make([]bool, len(saved.Entries))
	records := make([]models.Instance, 0, len(summaries))
	for _, sum := range summaries {
		inst := fromSummary(sum, defaults)
		if i := matchEntry(saved.Entries, used, sum.Name); i >= 0 {
			used[i] = true
			entry := saved.Entries[i]
			inst.Settings = entry.Settings
			inst.TorrentPath = entry.TorrentPath
			inst.CumulativeUploadedMB = entry.CumulativeUploadedMB
			inst.CumulativeDownloadedMB = entry.CumulativeDownloadedMB
		}
		if info, err := s.backend.GetInstanceTorrent(ctx, sum.ID); err == nil {
			inst.Torrent = info
		}
		records = append(records, inst)
	}
	return records
}

func (s *Store) pollSummaries(ctx context.Context) []models.InstanceSummary {
	var summaries []models.InstanceSummary
	err := retry.Do(
		func() error {
			list, err := s.backend.ListSummaries(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return errNoSummaries
			}
			summaries = list
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.pollAttempts),
		retry.Delay(s.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.logger.Debug().Err(err).Msg("no restored instances after polling")
	}
	return summaries
}

// awaitRestoration waits for the host's restoration signal and reads the
// summaries once more.
func (s *Store) awaitRestoration(ctx context.Context) []models.InstanceSummary {
	signal, ok := s.backend.(backend.RestorationSignal)
	if !ok {
		return nil
	}

	timer := time.NewTimer(s.restorationTimeout)
	defer timer.Stop()

	select {
	case <-signal.RestorationDone():
	case <-timer.C:
		s.logger.Warn().Dur("timeout", s.restorationTimeout).Msg("timed out waiting for instance restoration")
		return nil
	case <-ctx.Done():
		return nil
	}

	list, err := s.backend.ListSummaries(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list restored instances")
		return nil
	}
	return list
}

func matchEntry(entries []session.Entry, used []bool, name string) int {
	if name == "" {
		return -1
	}
	for i, e := range entries {
		if !used[i] && e.TorrentName == name {
			return i
		}
	}
	return -1
}

// fromSession recreates each saved entry on the backend. Entries whose create
// call fails are skipped.
func (s *Store) fromSession(ctx context.Context, saved *session.Session) []models.Instance {
	if saved == nil {
		return nil
	}

	records := make([]models.Instance, 0, len(saved.Entries))
	for _, entry := range saved.Entries {
		id, err := s.backend.CreateInstance(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("torrent", entry.TorrentName).Msg("failed to recreate saved instance")
			continue
		}

		inst := s.newRecord(id, entry.Settings)
		inst.TorrentPath = entry.TorrentPath
		inst.CumulativeUploadedMB = entry.CumulativeUploadedMB
		inst.CumulativeDownloadedMB = entry.CumulativeDownloadedMB
		s.pushConfig(ctx, inst)

		if src := entry.Source(); !src.IsZero() {
			info, err := s.backend.LoadInstanceTorrent(ctx, id, src)
			if err != nil {
				s.logger.Warn().Err(err).Str("instanceID", id).Str("torrent", entry.TorrentName).Msg("failed to reload torrent")
				inst.Status = models.WarningStatus(models.TorrentReloadWarning)
			} else {
				inst.Torrent = info
				inst.TorrentData = slices.Clone(entry.TorrentData)
			}
		}
		records = append(records, inst)
	}
	return records
}
