// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package grid maintains the summary rows of the grid view and runs bulk
// actions against the selected rows.
package grid

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

const (
	placeholderTTL = 30 * time.Second
	advanceLimit   = 8

	DefaultViewPollInterval = 3 * time.Second
	DefaultPollInterval     = time.Second
)

// placeholder is a transitional state written before the backend confirms an
// action. It holds while the backend still reports the state it replaced.
type placeholder struct {
	state models.LifecycleState
	from  models.LifecycleState
}

// Store holds the latest summary rows. Fetches never overlap: a poll that
// finds one in flight returns immediately.
type Store struct {
	backend backend.Backend
	metrics *metrics.Metrics

	fetching sync.Mutex

	mu     sync.RWMutex
	rows   []models.InstanceSummary
	digest uint64
	loaded bool

	placeholders *ttlcache.Cache[string, placeholder]

	subsMu  sync.Mutex
	subs    map[int]func()
	nextSub int

	logger zerolog.Logger
}

func NewStore(b backend.Backend, m *metrics.Metrics) *Store {
	return &Store{
		backend: b,
		metrics: m,
		placeholders: ttlcache.New(ttlcache.Options[string, placeholder]{}.
			SetDefaultTTL(placeholderTTL)),
		subs:   make(map[int]func()),
		logger: log.Logger.With().Str("module", "grid").Logger(),
	}
}

// Subscribe registers fn to run whenever the rows change.
func (s *Store) Subscribe(fn func()) func() {
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

func (s *Store) notify() {
	s.subsMu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Rows returns a copy of the current rows in backend order.
func (s *Store) Rows() []models.InstanceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InstanceSummary, len(s.rows))
	for i, row := range s.rows {
		out[i] = row
		out[i].Tags = slices.Clone(row.Tags)
	}
	return out
}

func (s *Store) Row(id string) (models.InstanceSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.ID == id {
			row.Tags = slices.Clone(row.Tags)
			return row, true
		}
	}
	return models.InstanceSummary{}, false
}

// Fetch refreshes the rows from the backend. It reports false when another
// fetch was already running.
func (s *Store) Fetch(ctx context.Context) (bool, error) {
	if !s.fetching.TryLock() {
		s.metrics.ObserveFetch(metrics.ResultSkipped, 0)
		return false, nil
	}
	defer s.fetching.Unlock()
	return true, s.fetchLocked(ctx)
}

// Refetch drops the placeholders of ids and fetches once any running fetch
// has finished. Bulk actions close with it so their result is authoritative.
func (s *Store) Refetch(ctx context.Context, ids []string) error {
	for _, id := range ids {
		s.placeholders.Delete(id)
	}
	s.fetching.Lock()
	defer s.fetching.Unlock()
	return s.fetchLocked(ctx)
}

func (s *Store) fetchLocked(ctx context.Context) error {
	start := time.Now()

	if !s.backend.AutonomousScheduler() {
		s.advanceRunning(ctx)
	}

	rows, err := s.backend.ListSummaries(ctx)
	if err != nil {
		s.metrics.ObserveFetch(metrics.ResultError, time.Since(start))
		return errors.Wrap(err, "list summaries")
	}
	for i := range rows {
		if rows[i].Tags == nil {
			rows[i].Tags = []string{}
		}
	}
	rows = s.overlay(rows)
	digest := digestRows(rows)

	s.mu.Lock()
	changed := !s.loaded || digest != s.digest
	s.rows = rows
	s.digest = digest
	s.loaded = true
	s.mu.Unlock()

	s.metrics.ObserveFetch(metrics.ResultOK, time.Since(start))
	if changed {
		s.notify()
	}
	return nil
}

// advanceRunning ticks every running row once on hosts that do not run their
// own scheduler.
func (s *Store) advanceRunning(ctx context.Context) {
	s.mu.RLock()
	var running []string
	for _, row := range s.rows {
		if row.State == models.StateRunning {
			running = append(running, row.ID)
		}
	}
	s.mu.RUnlock()

	if len(running) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(advanceLimit)
	for _, id := range running {
		g.Go(func() error {
			if _, err := s.backend.UpdateStatsOnly(gctx, id); err != nil {
				s.logger.Debug().Err(err).Str("instanceID", id).Msg("failed to advance instance")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// overlay applies live placeholders and drops the ones the backend has moved past.
func (s *Store) overlay(rows []models.InstanceSummary) []models.InstanceSummary {
	for i := range rows {
		ph, ok := s.placeholders.Get(rows[i].ID)
		if !ok {
			continue
		}
		if rows[i].State != ph.from {
			s.placeholders.Delete(rows[i].ID)
			continue
		}
		rows[i].State = ph.state
	}
	return rows
}

// SetPlaceholders shows state on ids until the backend reports a change.
func (s *Store) SetPlaceholders(ids []string, state models.LifecycleState) {
	s.mu.Lock()
	for i := range s.rows {
		if !slices.Contains(ids, s.rows[i].ID) {
			continue
		}
		s.placeholders.Set(s.rows[i].ID, placeholder{state: state, from: s.rows[i].State}, ttlcache.DefaultTTL)
		s.rows[i].State = state
	}
	s.digest = digestRows(s.rows)
	s.mu.Unlock()

	s.notify()
}

// RemoveRows drops ids from the rows without asking the backend.
func (s *Store) RemoveRows(ids []string) {
	s.mu.Lock()
	before := len(s.rows)
	s.rows = slices.DeleteFunc(s.rows, func(row models.InstanceSummary) bool { return slices.Contains(ids, row.ID) })
	removed := before != len(s.rows)
	if removed {
		s.digest = digestRows(s.rows)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.placeholders.Delete(id)
	}
	if removed {
		s.notify()
	}
}

// Run fetches immediately and then every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Fetch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("failed to fetch summaries")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TagSuggestions ranks every known tag against prefix. An empty prefix
// returns all tags sorted.
func (s *Store) TagSuggestions(prefix string, limit int) []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	var tags []string
	for _, row := range s.rows {
		for _, tag := range row.Tags {
			if _, ok := seen[tag]; !ok {
				seen[tag] = struct{}{}
				tags = append(tags, tag)
			}
		}
	}
	s.mu.RUnlock()

	slices.Sort(tags)

	if prefix != "" {
		ranks := fuzzy.RankFindNormalizedFold(prefix, tags)
		sort.Stable(ranks)
		tags = tags[:0:0]
		for _, r := range ranks {
			tags = append(tags, r.Target)
		}
	}

	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func digestRows(rows []models.InstanceSummary) uint64 {
	data, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
