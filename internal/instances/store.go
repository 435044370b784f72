// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package instances keeps the standard view's instance records consistent
// with the backend.
package instances

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
	"github.com/autobrr/ratiosync/internal/session"
)

const (
	defaultRestorePollAttempts = 5
	defaultRestorePollInterval = 300 * time.Millisecond
	defaultRestorationTimeout  = 10 * time.Second
)

// PresetSource resolves the settings new instances start from.
type PresetSource interface {
	Defaults() models.Settings
}

type builtinPresets struct{}

func (builtinPresets) Defaults() models.Settings { return models.BuiltinDefaults() }

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
	ChangeStatus  ChangeKind = "status"
	ChangeActive  ChangeKind = "active"
	ChangeReset   ChangeKind = "reset"
)

// Change describes one committed mutation of the store.
type Change struct {
	Kind ChangeKind
	IDs  []string
}

type Option func(*Store)

func WithSession(adapter *session.Adapter) Option {
	return func(s *Store) { s.sessions = adapter }
}

func WithPresets(presets PresetSource) Option {
	return func(s *Store) {
		if presets != nil {
			s.presets = presets
		}
	}
}

// WithRestorePolling sets how often summaries are polled while the desktop
// host restores its instances.
func WithRestorePolling(attempts uint, interval time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.pollAttempts = attempts
		}
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func WithRestorationTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.restorationTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store holds the instance records of the standard view. Once initialized it
// is never empty and exactly one record is active.
type Store struct {
	backend  backend.Backend
	sessions *session.Adapter
	presets  PresetSource
	metrics  *metrics.Metrics

	pollAttempts       uint
	pollInterval       time.Duration
	restorationTimeout time.Duration

	mu       sync.Mutex
	records  []models.Instance
	activeID string

	// removeMu is held from the emptiness check to the commit of a removal.
	removeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	hydrating sync.WaitGroup

	logger zerolog.Logger
}

func New(b backend.Backend, opts ...Option) *Store {
	s := &Store{
		backend:            b,
		presets:            builtinPresets{},
		pollAttempts:       defaultRestorePollAttempts,
		pollInterval:       defaultRestorePollInterval,
		restorationTimeout: defaultRestorationTimeout,
		subs:               make(map[int]func(Change)),
		logger:             log.Logger.With().Str("module", "instances").Str("runtime", string(b.Runtime())).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for committed changes. It is called after the store
// lock is released, on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify(kind ChangeKind, ids ...string) {
	s.mu.Lock()
	n := len(s.records)
	s.mu.Unlock()
	s.metrics.SetInstances(n)

	s.subsMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	change := Change{Kind: kind, IDs: ids}
	for _, fn := range subs {
		fn(change)
	}
}

// Instances returns a copy of every record in order.
func (s *Store) Instances() []models.Instance {
	records, _ := s.Snapshot()
	return records
}

// Snapshot returns the records together with the active id.
func (s *Store) Snapshot() ([]models.Instance, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Instance, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, s.activeID
}

func (s *Store) Get(id string) (models.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.records[idx].Clone(), true
	}
	return models.Instance{}, false
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Store) Active() (models.Instance, bool) {
	return s.Get(s.ActiveID())
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.records, func(rec models.Instance) bool { return rec.ID == id })
}

func (s *Store) newRecord(id string, settings models.Settings) models.Instance {
	inst := models.Instance{ID: id, Settings: settings, Source: models.SourceManual}
	inst.ApplyRuntime(false, false)
	return inst
}

// pushConfig sends the record's configuration to the backend. Failures are
// logged since the local edit stands either way.
func (s *Store) pushConfig(ctx context.Context, inst models.Instance) {
	cfg := inst.Settings.ToConfig(inst.CumulativeUploadedMB, inst.CumulativeDownloadedMB)
	if err := s.backend.UpdateInstanceConfig(ctx, inst.ID, cfg); err != nil {
		s.logger.Warn().Err(err).Str("instanceID", inst.ID).Msg("failed to push instance config")
	}
}

// AddInstance creates a backend instance from the default preset with
// overrides applied and makes it active.
func (s *Store) AddInstance(ctx context.Context, overrides models.PresetSettings) (string, error) {
	id, err := s.backend.CreateInstance(ctx)
	if err != nil {
		return "", errors.Wrap(err, "create instance")
	}

	inst := s.newRecord(id, overrides.Apply(s.presets.Defaults()))
	s.pushConfig(ctx, inst)

	s.mu.Lock()
	s.records = append(s.records, inst)
	s.activeID = id
	s.mu.Unlock()

	s.logger.Debug().Str("instanceID", id).Msg("instance added")
	s.notify(ChangeAdded, id)
	return id, nil
}

// RemoveInstance deletes id. Removing the last record creates its replacement
// on the backend first so the store is never seen empty.
func (s *Store) RemoveInstance(ctx context.Context, id string, force bool) error {
	s.removeMu.Lock()
	defer s.removeMu.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	target := s.records[idx]
	last := len(s.records) == 1
	s.mu.Unlock()

	if target.Source == models.SourceWatchFolder && !force {
		return models.ErrWatchFolderInstance
	}

	var replacement *models.Instance
	if last {
		rec, err := s.createReplacement(ctx)
		if err != nil {
			return err
		}
		replacement = &rec
	}

	if err := s.backend.DeleteInstance(ctx, id, force); err != nil {
		s.logger.Warn().Err(err).Str("instanceID", id).Msg("backend delete failed")
	}

	s.commitRemoval([]string{id}, replacement)
	s.logger.Debug().Str("instanceID", id).Msg("instance removed")
	return nil
}

// Forget drops records whose backend instances are already gone, such as
// rows purged by a grid delete. The backend is not called for the dropped
// ids. Dropping every record creates a default replacement first.
func (s *Store) Forget(ctx context.Context, ids []string) error {
	s.removeMu.Lock()
	defer s.removeMu.Unlock()

	s.mu.Lock()
	known := 0
	for _, id := range ids {
		if s.indexLocked(id) >= 0 {
			known++
		}
	}
	remaining := len(s.records) - known
	s.mu.Unlock()

	if known == 0 {
		return nil
	}

	var replacement *models.Instance
	if remaining == 0 {
		rec, err := s.createReplacement(ctx)
		if err != nil {
			return err
		}
		replacement = &rec
	}

	s.commitRemoval(ids, replacement)
	s.logger.Debug().Int("count", known).Msg("instances forgotten")
	return nil
}

func (s *Store) createReplacement(ctx context.Context) (models.Instance, error) {
	newID, err := s.backend.CreateInstance(ctx)
	if err != nil {
		return models.Instance{}, errors.Wrap(err, "create replacement instance")
	}
	rec := s.newRecord(newID, s.presets.Defaults())
	s.pushConfig(ctx, rec)
	return rec, nil
}

// commitRemoval deletes ids from the records, appends the replacement and
// moves the active id to a surviving neighbour when it was removed.
func (s *Store) commitRemoval(ids []string, replacement *models.Instance) {
	var removed []string

	s.mu.Lock()
	activeIdx := -1
	for _, id := range ids {
		idx := s.indexLocked(id)
		if idx < 0 {
			continue
		}
		if id == s.activeID {
			activeIdx = idx
		}
		s.records = slices.Delete(s.records, idx, idx+1)
		removed = append(removed, id)
	}
	if replacement != nil {
		s.records = append(s.records, *replacement)
	}
	if activeIdx >= 0 || s.indexLocked(s.activeID) < 0 {
		switch {
		case replacement != nil:
			s.activeID = replacement.ID
		case len(s.records) > 0:
			s.activeID = s.records[min(max(activeIdx, 0), len(s.records)-1)].ID
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.notify(ChangeRemoved, removed...)
	}
	if replacement != nil {
		s.notify(ChangeAdded, replacement.ID)
	}
}

func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	if s.activeID == id {
		s.mu.Unlock()
		return nil
	}
	s.activeID = id
	s.mu.Unlock()

	s.notify(ChangeActive, id)
	return nil
}

// UpdateSettings applies edit to the record's settings and pushes the result.
func (s *Store) UpdateSettings(ctx context.Context, id string, edit func(*models.Settings)) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	edit(&s.records[idx].Settings)
	inst := s.records[idx].Clone()
	s.mu.Unlock()

	s.pushConfig(ctx, inst)
	s.notify(ChangeUpdated, id)
	return nil
}

// SelectTorrent loads a torrent into the instance and attaches its descriptor.
func (s *Store) SelectTorrent(ctx context.Context, id string, src models.TorrentSource) error {
	if _, ok := s.Get(id); !ok {
		return models.ErrInstanceNotFound
	}

	info, err := s.backend.LoadInstanceTorrent(ctx, id, src)
	if err != nil {
		return errors.Wrapf(err, "load torrent for %s", id)
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	rec := &s.records[idx]
	rec.Torrent = info
	rec.TorrentPath = src.Path
	rec.TorrentData = nil
	if s.backend.Runtime() != backend.RuntimeDesktop {
		rec.TorrentData = slices.Clone(src.Data)
	}
	rec.Status = models.StatusFor(rec.IsRunning, rec.IsPaused)
	s.mu.Unlock()

	s.notify(ChangeUpdated, id)
	return nil
}
