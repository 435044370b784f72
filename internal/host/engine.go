// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package host is the in-process engine behind the desktop and browser runtimes.
// It owns instance lifecycles and advances transfer counters only when asked to.
package host

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/models"
)

type instance struct {
	id        string
	torrent   *models.TorrentInfo
	raw       []byte
	path      string
	config    models.InstanceConfig
	state     models.FakerState
	stats     models.InstanceStats
	tags      []string
	source    models.Source
	createdAt int64

	sessionStart time.Time
	lastTick     time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRand replaces the rate randomization source. It must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(e *Engine) { e.rand = fn }
}

type Engine struct {
	mu        sync.RWMutex
	instances map[string]*instance
	order     []string
	timers    map[string]*time.Timer

	clock func() time.Time
	rand  func() float64

	listenersMu  sync.RWMutex
	listeners    map[int]func(models.InstanceEvent)
	nextListener int

	logger zerolog.Logger
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		instances: make(map[string]*instance),
		timers:    make(map[string]*time.Timer),
		clock:     time.Now,
		rand:      rand.Float64,
		listeners: make(map[int]func(models.InstanceEvent)),
		logger:    log.Logger.With().Str("module", "host").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers fn for instance events. Events are delivered synchronously
// on the goroutine that caused them, after the engine lock is released.
func (e *Engine) Subscribe(fn func(models.InstanceEvent)) func() {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.listeners, id)
		e.listenersMu.Unlock()
	}
}

func (e *Engine) emit(events ...models.InstanceEvent) {
	if len(events) == 0 {
		return
	}

	e.listenersMu.RLock()
	listeners := make([]func(models.InstanceEvent), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.listenersMu.RUnlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// CreateInstance registers an empty, stopped instance with default configuration.
func (e *Engine) CreateInstance() string {
	id := uuid.NewString()

	e.mu.Lock()
	e.instances[id] = &instance{
		id:        id,
		config:    models.DefaultInstanceConfig(),
		state:     models.FakerStopped,
		source:    models.SourceManual,
		createdAt: e.clock().Unix(),
		stats:     models.InstanceStats{State: models.FakerStopped},
	}
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.logger.Debug().Str("instanceID", id).Msg("instance created")
	e.emit(models.InstanceEvent{Type: models.EventCreated, ID: id})
	return id
}

// DeleteInstance removes an instance. Watch-folder instances require force.
func (e *Engine) DeleteInstance(id string, force bool) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	if inst.source == models.SourceWatchFolder && !force {
		e.mu.Unlock()
		return models.ErrWatchFolderInstance
	}
	e.removeLocked(id)
	e.mu.Unlock()

	e.logger.Debug().Str("instanceID", id).Msg("instance deleted")
	e.emit(models.InstanceEvent{Type: models.EventDeleted, ID: id})
	return nil
}

func (e *Engine) removeLocked(id string) {
	delete(e.instances, id)
	e.order = slices.DeleteFunc(e.order, func(v string) bool { return v == id })
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// Instance returns the full backend view of one instance.
func (e *Engine) Instance(id string) (models.ServerInstance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inst, ok := e.instances[id]
	if !ok {
		return models.ServerInstance{}, models.ErrInstanceNotFound
	}
	return inst.serverView(), nil
}

// Instances returns every instance in creation order.
func (e *Engine) Instances() []models.ServerInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.ServerInstance, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.instances[id].serverView())
	}
	return out
}

// Summaries returns one grid row per instance in creation order.
func (e *Engine) Summaries() []models.InstanceSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.InstanceSummary, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.instances[id].summary())
	}
	return out
}

// Torrent returns the descriptor attached to id.
func (e *Engine) Torrent(id string) (*models.TorrentInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inst, ok := e.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if inst.torrent == nil {
		return nil, models.ErrNoTorrent
	}
	t := *inst.torrent
	return &t, nil
}

// LoadTorrent parses and attaches a torrent to id.
func (e *Engine) LoadTorrent(id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	data, err := readTorrent(src)
	if err != nil {
		return nil, err
	}

	info, err := ParseTorrent(data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if inst.state == models.FakerRunning || inst.state == models.FakerPaused {
		return nil, errors.Wrap(models.ErrInvalidTransition, "cannot replace torrent while running")
	}

	inst.torrent = info
	inst.raw = slices.Clone(data)
	inst.path = src.Path
	inst.resetProgress()

	t := *info
	return &t, nil
}

// UpdateConfig replaces the configuration of id.
func (e *Engine) UpdateConfig(id string, cfg models.InstanceConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return models.ErrInstanceNotFound
	}

	cfg.ClientVersion = models.NormalizeClientVersion(cfg.ClientType, cfg.ClientVersion)
	inst.config = cfg
	if inst.state != models.FakerRunning && inst.state != models.FakerPaused {
		inst.resetProgress()
	}
	return nil
}

// SetTags replaces the tag set of id.
func (e *Engine) SetTags(id string, tags []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return models.ErrInstanceNotFound
	}
	inst.tags = normalizeTags(tags)
	return nil
}

func (e *Engine) Start(id string) error {
	return e.transition(id, func(inst *instance, now time.Time) error {
		if inst.torrent == nil {
			return models.ErrNoTorrent
		}
		if inst.state == models.FakerRunning || inst.state == models.FakerPaused {
			return errors.Wrapf(models.ErrInvalidTransition, "instance is %s", strings.ToLower(string(inst.state)))
		}
		inst.state = models.FakerRunning
		inst.sessionStart = now
		inst.lastTick = now
		inst.stats.SessionUploaded = 0
		inst.stats.SessionDownloaded = 0
		inst.stats.SessionRatio = 0
		inst.stats.ElapsedSeconds = 0
		return nil
	})
}

func (e *Engine) Stop(id string) error {
	return e.transition(id, func(inst *instance, _ time.Time) error {
		switch inst.state {
		case models.FakerRunning, models.FakerPaused, models.FakerIdle, models.FakerStarting:
			inst.stop()
			return nil
		default:
			return errors.Wrapf(models.ErrInvalidTransition, "instance is %s", strings.ToLower(string(inst.state)))
		}
	})
}

func (e *Engine) Pause(id string) error {
	return e.transition(id, func(inst *instance, _ time.Time) error {
		if inst.state != models.FakerRunning && inst.state != models.FakerIdle {
			return errors.Wrapf(models.ErrInvalidTransition, "instance is %s", strings.ToLower(string(inst.state)))
		}
		inst.state = models.FakerPaused
		inst.stats.CurrentUploadRate = 0
		inst.stats.CurrentDownloadRate = 0
		return nil
	})
}

func (e *Engine) Resume(id string) error {
	return e.transition(id, func(inst *instance, now time.Time) error {
		if inst.state != models.FakerPaused {
			return errors.Wrapf(models.ErrInvalidTransition, "instance is %s", strings.ToLower(string(inst.state)))
		}
		inst.state = models.FakerRunning
		inst.lastTick = now
		return nil
	})
}

func (e *Engine) transition(id string, fn func(*instance, time.Time) error) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return models.ErrInstanceNotFound
	}
	if err := fn(inst, e.clock()); err != nil {
		e.mu.Unlock()
		return err
	}
	inst.stats.State = inst.state
	state := inst.state
	e.mu.Unlock()

	e.logger.Debug().Str("instanceID", id).Str("state", string(state)).Msg("instance state changed")
	e.emit(models.InstanceEvent{Type: models.EventStateChanged, ID: id})
	return nil
}

// Advance moves a running instance forward by the wall time elapsed since its last tick.
func (e *Engine) Advance(id string) (models.InstanceStats, error) {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return models.InstanceStats{}, models.ErrInstanceNotFound
	}

	stopped := inst.tick(e.clock(), e.rand)
	stats := inst.stats
	e.mu.Unlock()

	if stopped {
		e.logger.Info().Str("instanceID", id).Msg("stop condition met, instance stopped")
		e.emit(models.InstanceEvent{Type: models.EventStateChanged, ID: id})
	}
	return stats, nil
}

// Close cancels pending staggered starts.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (inst *instance) resetProgress() {
	if inst.torrent == nil {
		inst.stats.Left = 0
		inst.stats.TorrentCompletion = 0
		return
	}
	completion := max(0, min(100, inst.config.CompletionPercent))
	inst.stats.Left = int64(float64(inst.torrent.TotalSize) * (1 - completion/100))
	inst.stats.TorrentCompletion = completion
	inst.stats.Uploaded = inst.config.InitialUploaded
	inst.stats.Downloaded = inst.config.InitialDownloaded
	inst.updateRatios()
}

func (inst *instance) stop() {
	inst.config.InitialUploaded = inst.stats.Uploaded
	inst.config.InitialDownloaded = inst.stats.Downloaded
	inst.state = models.FakerStopped
	inst.stats.State = models.FakerStopped
	inst.stats.IsIdling = false
	inst.stats.IdlingReason = ""
	inst.stats.CurrentUploadRate = 0
	inst.stats.CurrentDownloadRate = 0
}

func (inst *instance) serverView() models.ServerInstance {
	var torrent *models.TorrentInfo
	if inst.torrent != nil {
		t := *inst.torrent
		torrent = &t
	}
	return models.ServerInstance{
		ID:        inst.id,
		Torrent:   torrent,
		Config:    inst.config,
		Stats:     inst.stats,
		CreatedAt: inst.createdAt,
		Source:    inst.source,
		Tags:      slices.Clone(inst.tags),
	}
}

func (inst *instance) summary() models.InstanceSummary {
	s := models.InstanceSummary{
		ID:                  inst.id,
		State:               models.SummaryState(inst.state, inst.stats.IsIdling),
		Tags:                slices.Clone(inst.tags),
		Uploaded:            inst.stats.Uploaded,
		Downloaded:          inst.stats.Downloaded,
		Ratio:               inst.stats.Ratio,
		CurrentUploadRate:   inst.stats.CurrentUploadRate,
		CurrentDownloadRate: inst.stats.CurrentDownloadRate,
		Seeders:             inst.stats.Seeders,
		Leechers:            inst.stats.Leechers,
		Left:                inst.stats.Left,
		TorrentCompletion:   inst.stats.TorrentCompletion,
		Source:              inst.source,
		CreatedAt:           inst.createdAt,
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if inst.torrent != nil {
		s.Name = inst.torrent.Name
		s.InfoHash = inst.torrent.InfoHash
		s.TotalSize = inst.torrent.TotalSize
	}
	return s
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}
