// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backendtest provides backend doubles for tests.
package backendtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/models"
)

// Call is one recorded backend invocation.
type Call struct {
	Method string
	IDs    []string
}

type fakeInstance struct {
	summary models.InstanceSummary
	config  models.InstanceConfig
	torrent *models.TorrentInfo
}

// Fake is an in-memory Backend with call recording and error injection.
type Fake struct {
	mu sync.Mutex

	runtime    backend.Runtime
	autonomous bool

	instances map[string]*fakeInstance
	order     []string
	nextID    int

	calls  []Call
	errors map[string]error

	emptySummaries int
	hostConfig     models.HostConfig

	restored      chan struct{}
	closeRestored func()

	listeners map[int]func(models.InstanceEvent)
	nextSub   int
}

func NewFake(runtime backend.Runtime) *Fake {
	f := &Fake{
		runtime:    runtime,
		autonomous: runtime == backend.RuntimeServer,
		instances:  make(map[string]*fakeInstance),
		errors:     make(map[string]error),
		restored:   make(chan struct{}),
		listeners:  make(map[int]func(models.InstanceEvent)),
	}
	close(f.restored)
	f.closeRestored = func() {}
	return f
}

// PendingRestoration reopens the restoration signal until FinishRestoration.
func (f *Fake) PendingRestoration() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.restored = ch
	f.closeRestored = sync.OnceFunc(func() { close(ch) })
	return f
}

func (f *Fake) FinishRestoration() {
	f.mu.Lock()
	closeFn := f.closeRestored
	f.mu.Unlock()
	closeFn()
}

// Seed adds an instance as if the backend already had it.
func (f *Fake) Seed(summary models.InstanceSummary, cfg models.InstanceConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if summary.Tags == nil {
		summary.Tags = []string{}
	}
	if summary.Source == "" {
		summary.Source = models.SourceManual
	}
	inst := &fakeInstance{summary: summary, config: cfg}
	if summary.Name != "" {
		inst.torrent = &models.TorrentInfo{Name: summary.Name, InfoHash: summary.InfoHash, TotalSize: summary.TotalSize}
	}
	f.instances[summary.ID] = inst
	f.order = append(f.order, summary.ID)
}

// SetState changes a seeded instance's state without recording a call.
func (f *Fake) SetState(id string, state models.LifecycleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		inst.summary.State = state
	}
}

// Fail makes every later call to method return err. A nil err clears it.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, method)
		return
	}
	f.errors[method] = err
}

// EmptySummaries makes the next n ListSummaries calls return no rows.
func (f *Fake) EmptySummaries(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptySummaries = n
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// IDsFor returns the ids passed to each call of method.
func (f *Fake) IDsFor(method string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, slices.Clone(c.IDs))
		}
	}
	return out
}

func (f *Fake) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.order)
}

func (f *Fake) Config(id string) (models.InstanceConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return models.InstanceConfig{}, false
	}
	return inst.config, true
}

// Emit delivers ev to every subscriber.
func (f *Fake) Emit(ev models.InstanceEvent) {
	f.mu.Lock()
	listeners := make([]func(models.InstanceEvent), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (f *Fake) record(method string, ids ...string) error {
	f.calls = append(f.calls, Call{Method: method, IDs: slices.Clone(ids)})
	return f.errors[method]
}

func (f *Fake) Runtime() backend.Runtime { return f.runtime }

func (f *Fake) AutonomousScheduler() bool { return f.autonomous }

func (f *Fake) CreateInstance(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateInstance"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("inst-%d", f.nextID)
	f.instances[id] = &fakeInstance{
		summary: models.InstanceSummary{ID: id, State: models.StateStopped, Tags: []string{}, Source: models.SourceManual},
		config:  models.DefaultInstanceConfig(),
	}
	f.order = append(f.order, id)
	return id, nil
}

func (f *Fake) DeleteInstance(_ context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteInstance", id); err != nil {
		return err
	}
	inst, ok := f.instances[id]
	if !ok {
		return models.ErrInstanceNotFound
	}
	if inst.summary.Source == models.SourceWatchFolder && !force {
		return models.ErrWatchFolderInstance
	}
	f.removeLocked(id)
	return nil
}

func (f *Fake) removeLocked(id string) {
	delete(f.instances, id)
	f.order = slices.DeleteFunc(f.order, func(v string) bool { return v == id })
}

func (f *Fake) serverView(inst *fakeInstance) models.ServerInstance {
	state := models.FakerStopped
	switch inst.summary.State {
	case models.StateRunning:
		state = models.FakerRunning
	case models.StatePaused:
		state = models.FakerPaused
	case models.StateIdle:
		state = models.FakerIdle
	case models.StateStarting:
		state = models.FakerStarting
	case models.StateStopping:
		state = models.FakerStopping
	}
	var torrent *models.TorrentInfo
	if inst.torrent != nil {
		t := *inst.torrent
		torrent = &t
	}
	return models.ServerInstance{
		ID:        inst.summary.ID,
		Torrent:   torrent,
		Config:    inst.config,
		Stats:     models.InstanceStats{State: state, Uploaded: inst.summary.Uploaded, Downloaded: inst.summary.Downloaded},
		CreatedAt: inst.summary.CreatedAt,
		Source:    inst.summary.Source,
		Tags:      slices.Clone(inst.summary.Tags),
	}
}

func (f *Fake) ListInstances(context.Context) ([]models.ServerInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListInstances"); err != nil {
		return nil, err
	}
	if f.runtime != backend.RuntimeServer {
		return nil, backend.ErrUnsupported
	}
	out := make([]models.ServerInstance, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.serverView(f.instances[id]))
	}
	return out, nil
}

func (f *Fake) GetInstance(_ context.Context, id string) (*models.ServerInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetInstance", id); err != nil {
		return nil, err
	}
	if f.runtime != backend.RuntimeServer {
		return nil, backend.ErrUnsupported
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	view := f.serverView(inst)
	return &view, nil
}

func (f *Fake) ListSummaries(context.Context) ([]models.InstanceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListSummaries"); err != nil {
		return nil, err
	}
	if f.emptySummaries > 0 {
		f.emptySummaries--
		return []models.InstanceSummary{}, nil
	}
	out := make([]models.InstanceSummary, 0, len(f.order))
	for _, id := range f.order {
		s := f.instances[id].summary
		s.Tags = slices.Clone(s.Tags)
		out = append(out, s)
	}
	return out, nil
}

func (f *Fake) GetInstanceTorrent(_ context.Context, id string) (*models.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetInstanceTorrent", id); err != nil {
		return nil, err
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if inst.torrent == nil {
		return nil, models.ErrNoTorrent
	}
	t := *inst.torrent
	return &t, nil
}

// LoadInstanceTorrent accepts any non-empty source and names the torrent after it.
func (f *Fake) LoadInstanceTorrent(_ context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LoadInstanceTorrent", id); err != nil {
		return nil, err
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if src.IsZero() {
		return nil, models.ErrNoTorrent
	}
	name := src.Path
	if name == "" {
		name = fmt.Sprintf("data-%d", len(src.Data))
	}
	inst.torrent = &models.TorrentInfo{Name: name, InfoHash: fmt.Sprintf("%040d", len(f.order)), TotalSize: int64(len(src.Data))}
	inst.summary.Name = name
	t := *inst.torrent
	return &t, nil
}

func (f *Fake) UpdateInstanceConfig(_ context.Context, id string, cfg models.InstanceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateInstanceConfig", id); err != nil {
		return err
	}
	inst, ok := f.instances[id]
	if !ok {
		return models.ErrInstanceNotFound
	}
	inst.config = cfg
	return nil
}

func (f *Fake) UpdateStatsOnly(_ context.Context, id string) (*models.InstanceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateStatsOnly", id); err != nil {
		return nil, err
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if inst.summary.State == models.StateRunning {
		inst.summary.Uploaded += 1024
	}
	stats := f.serverView(inst).Stats
	return &stats, nil
}

func (f *Fake) transition(method string, ids []string, from []models.LifecycleState, to models.LifecycleState) (models.GridActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(method, ids...); err != nil {
		return models.GridActionResult{}, err
	}
	result := models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
	for _, id := range ids {
		inst, ok := f.instances[id]
		switch {
		case !ok:
			result.Fail(id, models.ErrInstanceNotFound)
		case !slices.Contains(from, inst.summary.State):
			result.Fail(id, models.ErrInvalidTransition)
		default:
			inst.summary.State = to
			result.Succeeded = append(result.Succeeded, id)
		}
	}
	return result, nil
}

func (f *Fake) GridStart(_ context.Context, ids []string) (models.GridActionResult, error) {
	return f.transition("GridStart", ids, []models.LifecycleState{models.StateStopped}, models.StateRunning)
}

func (f *Fake) GridStop(_ context.Context, ids []string) (models.GridActionResult, error) {
	return f.transition("GridStop", ids,
		[]models.LifecycleState{models.StateRunning, models.StateIdle, models.StatePaused, models.StateStarting},
		models.StateStopped)
}

func (f *Fake) GridPause(_ context.Context, ids []string) (models.GridActionResult, error) {
	return f.transition("GridPause", ids, []models.LifecycleState{models.StateRunning, models.StateIdle}, models.StatePaused)
}

func (f *Fake) GridResume(_ context.Context, ids []string) (models.GridActionResult, error) {
	return f.transition("GridResume", ids, []models.LifecycleState{models.StatePaused}, models.StateRunning)
}

func (f *Fake) GridDelete(_ context.Context, ids []string) (models.GridActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GridDelete", ids...); err != nil {
		return models.GridActionResult{}, err
	}
	result := models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
	for _, id := range ids {
		if _, ok := f.instances[id]; !ok {
			result.Fail(id, models.ErrInstanceNotFound)
			continue
		}
		f.removeLocked(id)
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

func (f *Fake) GridTag(_ context.Context, ids []string, add, remove []string) (models.GridActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GridTag", ids...); err != nil {
		return models.GridActionResult{}, err
	}
	result := models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
	for _, id := range ids {
		inst, ok := f.instances[id]
		if !ok {
			result.Fail(id, models.ErrInstanceNotFound)
			continue
		}
		for _, tag := range add {
			if !slices.Contains(inst.summary.Tags, tag) {
				inst.summary.Tags = append(inst.summary.Tags, tag)
			}
		}
		inst.summary.Tags = slices.DeleteFunc(inst.summary.Tags, func(tag string) bool { return slices.Contains(remove, tag) })
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

func (f *Fake) GridUpdateConfig(_ context.Context, ids []string, preset models.PresetSettings) (models.GridActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GridUpdateConfig", ids...); err != nil {
		return models.GridActionResult{}, err
	}
	result := models.GridActionResult{Succeeded: []string{}, Failed: []models.GridActionFailure{}}
	for _, id := range ids {
		inst, ok := f.instances[id]
		if !ok {
			result.Fail(id, models.ErrInstanceNotFound)
			continue
		}
		inst.config = preset.Apply(models.SettingsFromConfig(inst.config)).ToConfig(0, 0)
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

func (f *Fake) GridImport(_ context.Context, files []models.ImportFile, settings models.GridImportSettings) (models.GridImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GridImport"); err != nil {
		return models.GridImportResult{}, err
	}
	result := models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{}}
	if len(files) == 0 {
		result.Errors = append(result.Errors, models.ErrNoFilesSelected)
		return result, nil
	}
	for _, file := range files {
		f.nextID++
		id := fmt.Sprintf("inst-%d", f.nextID)
		state := models.StateStopped
		if settings.AutoStart {
			state = models.StateRunning
		}
		f.instances[id] = &fakeInstance{
			summary: models.InstanceSummary{ID: id, Name: file.Name, State: state, Tags: slices.Clone(settings.Tags), Source: models.SourceManual},
			config:  settings.ResolveForInstance().Apply(models.BuiltinDefaults()).ToConfig(0, 0),
			torrent: &models.TorrentInfo{Name: file.Name},
		}
		if f.instances[id].summary.Tags == nil {
			f.instances[id].summary.Tags = []string{}
		}
		f.order = append(f.order, id)
		result.Imported = append(result.Imported, models.GridImportedInstance{ID: id, Name: file.Name})
	}
	return result, nil
}

func (f *Fake) GridImportFolder(_ context.Context, path string, _ models.GridImportSettings) (models.GridImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GridImportFolder"); err != nil {
		return models.GridImportResult{}, err
	}
	return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{fmt.Sprintf("no torrent files found in %s", path)}}, nil
}

func (f *Fake) Subscribe(ctx context.Context, fn func(models.InstanceEvent)) (func(), error) {
	f.mu.Lock()
	if err := f.record("Subscribe"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	id := f.nextSub
	f.nextSub++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

func (f *Fake) GetConfig(context.Context) (models.HostConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetConfig"); err != nil {
		return models.HostConfig{}, err
	}
	return f.hostConfig, nil
}

func (f *Fake) UpdateConfig(_ context.Context, cfg models.HostConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateConfig"); err != nil {
		return err
	}
	f.hostConfig = cfg
	return nil
}

func (f *Fake) RestorationDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restored
}

var (
	_ backend.Backend           = (*Fake)(nil)
	_ backend.ConfigHost        = (*Fake)(nil)
	_ backend.RestorationSignal = (*Fake)(nil)
)
