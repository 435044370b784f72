// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/instances"
	"github.com/autobrr/ratiosync/internal/models"
)

type recordingSyncer struct {
	mu        sync.Mutex
	states    map[string]instances.State
	forgotten []string
}

func (r *recordingSyncer) Forget(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, ids...)
	return nil
}

func (r *recordingSyncer) SyncInstanceState(id string, state instances.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string]instances.State)
	}
	r.states[id] = state
	return true
}

type bulkFixture struct {
	fake      *backendtest.Fake
	store     *Store
	selection *Selection
	syncer    *recordingSyncer
	bulk      *Coordinator
}

func newBulkFixture(t *testing.T, seedFn func(*backendtest.Fake)) *bulkFixture {
	t.Helper()
	fake := backendtest.NewFake(backend.RuntimeServer)
	seedFn(fake)

	f := &bulkFixture{
		fake:      fake,
		store:     NewStore(fake, nil),
		selection: NewSelection(),
		syncer:    &recordingSyncer{},
	}
	f.bulk = NewCoordinator(fake, f.store, f.selection, f.store.Rows, f.syncer, nil)

	_, err := f.store.Fetch(t.Context())
	require.NoError(t, err)
	return f
}

func (f *bulkFixture) selectAll() { f.selection.SelectAll(f.store.Rows()) }

func (f *bulkFixture) state(t *testing.T, id string) models.LifecycleState {
	t.Helper()
	row, ok := f.store.Row(id)
	require.True(t, ok)
	return row.State
}

func TestBulkStartAffectsOnlyStoppedRows(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateStopped)
		seed(fake, "b", models.StateRunning)
		seed(fake, "c", models.StatePaused)
		seed(fake, "d", models.StateStopped)
	})
	f.selectAll()

	result, err := f.bulk.Start(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "d"}}, f.fake.IDsFor("GridStart"))
	assert.Equal(t, []string{"a", "d"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	assert.Equal(t, models.StateRunning, f.state(t, "a"))
	assert.Equal(t, models.StatePaused, f.state(t, "c"))

	require.Contains(t, f.syncer.states, "a")
	assert.True(t, f.syncer.states["a"].IsRunning)
	assert.NotContains(t, f.syncer.states, "b")
}

func TestBulkTransitionsFilterByState(t *testing.T) {
	tests := []struct {
		name   string
		run    func(*Coordinator, *testing.T) (models.GridActionResult, error)
		method string
		want   []string
	}{
		{name: "stop", run: func(c *Coordinator, t *testing.T) (models.GridActionResult, error) { return c.Stop(t.Context()) }, method: "GridStop", want: []string{"b", "c"}},
		{name: "pause", run: func(c *Coordinator, t *testing.T) (models.GridActionResult, error) { return c.Pause(t.Context()) }, method: "GridPause", want: []string{"b"}},
		{name: "resume", run: func(c *Coordinator, t *testing.T) (models.GridActionResult, error) { return c.Resume(t.Context()) }, method: "GridResume", want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBulkFixture(t, func(fake *backendtest.Fake) {
				seed(fake, "a", models.StateStopped)
				seed(fake, "b", models.StateRunning)
				seed(fake, "c", models.StatePaused)
			})
			f.selectAll()

			result, err := tt.run(f.bulk, t)
			require.NoError(t, err)
			assert.Equal(t, [][]string{tt.want}, f.fake.IDsFor(tt.method))
			assert.Equal(t, tt.want, result.Succeeded)
		})
	}
}

func TestBulkNothingToDo(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateRunning)
	})
	f.selectAll()

	result, err := f.bulk.Start(t.Context())
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Zero(t, f.fake.CallCount("GridStart"))

	f.selection.DeselectAll(f.store.Rows())
	result, err = f.bulk.Delete(t.Context())
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Zero(t, f.fake.CallCount("GridDelete"))
}

func TestBulkUsesSelectionScopedToView(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateStopped, "keep")
		seed(fake, "b", models.StateStopped)
	})
	f.selectAll()

	f.bulk.view = func() []models.InstanceSummary {
		rows, _ := Apply(f.store.Rows(), Filters{Tag: "keep"}, Sort{})
		return rows
	}

	_, err := f.bulk.Start(t.Context())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, f.fake.IDsFor("GridStart"))
}

func TestBulkErrorStillRefetches(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateStopped)
	})
	f.selectAll()
	f.fake.Fail("GridStart", errors.New("backend down"))
	before := f.fake.CallCount("ListSummaries")

	_, err := f.bulk.Start(t.Context())
	require.Error(t, err)

	assert.Equal(t, before+1, f.fake.CallCount("ListSummaries"))
	assert.Equal(t, models.StateStopped, f.state(t, "a"), "placeholder is dropped by the refetch")
	require.Contains(t, f.syncer.states, "a", "refetched state still reaches the instance records")
	assert.False(t, f.syncer.states["a"].IsRunning)
}

func TestBulkDeletePurgesEveryRequestedID(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateRunning)
		seed(fake, "b", models.StateStopped)
	})
	f.selectAll()

	// b disappears from the backend behind the grid's back
	require.NoError(t, f.fake.DeleteInstance(t.Context(), "b", true))

	result, err := f.bulk.Delete(t.Context())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}}, f.fake.IDsFor("GridDelete"))
	assert.Equal(t, []string{"a"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b", result.Failed[0].ID)

	assert.Zero(t, f.selection.Len())
	assert.Empty(t, f.store.Rows())
	assert.ElementsMatch(t, []string{"a", "b"}, f.syncer.forgotten)
}

func TestBulkDeleteDropsInstanceRecords(t *testing.T) {
	tests := []struct {
		name    string
		deleted []string
		kept    []string
	}{
		{name: "some rows", deleted: []string{"a", "b"}, kept: []string{"c"}},
		{name: "every row", deleted: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := backendtest.NewFake(backend.RuntimeServer)
			for _, id := range []string{"a", "b", "c"} {
				seed(fake, id, models.StateRunning)
			}
			records := instances.New(fake)
			require.NoError(t, records.Initialize(t.Context()))
			require.NoError(t, records.SetActive("a"))

			store := NewStore(fake, nil)
			selection := NewSelection()
			bulk := NewCoordinator(fake, store, selection, store.Rows, records, nil)
			_, err := store.Fetch(t.Context())
			require.NoError(t, err)
			for _, id := range tt.deleted {
				selection.Click(store.Rows(), id, false)
			}

			_, err = bulk.Delete(t.Context())
			require.NoError(t, err)

			for _, id := range tt.deleted {
				_, ok := records.Get(id)
				assert.False(t, ok, id)
			}
			for _, id := range tt.kept {
				_, ok := records.Get(id)
				assert.True(t, ok, id)
			}
			assert.Equal(t, max(len(tt.kept), 1), records.Len())
			_, ok := records.Active()
			assert.True(t, ok, "active id %q is not a record", records.ActiveID())
		})
	}
}

func TestBulkTag(t *testing.T) {
	f := newBulkFixture(t, func(fake *backendtest.Fake) {
		seed(fake, "a", models.StateRunning, "old")
		seed(fake, "b", models.StateStopped)
	})
	f.selection.Click(f.store.Rows(), "a", false)

	result, err := f.bulk.Tag(t.Context(), []string{"new"}, []string{"old"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, result.Succeeded)

	row, ok := f.store.Row("a")
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, row.Tags)
	assert.Equal(t, []string{"new"}, f.store.TagSuggestions("", 0))
}

func TestBulkImport(t *testing.T) {
	f := newBulkFixture(t, func(*backendtest.Fake) {})

	result, err := f.bulk.Import(t.Context(), nil, models.GridImportSettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{models.ErrNoFilesSelected}, result.Errors)
	assert.Zero(t, f.fake.CallCount("GridImport"))

	result, err = f.bulk.ImportFolder(t.Context(), "", models.GridImportSettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{models.ErrNoFilesSelected}, result.Errors)
	assert.Zero(t, f.fake.CallCount("GridImportFolder"))

	data := backendtest.MakeTorrent(t, "ubuntu.iso", 1<<20)
	result, err = f.bulk.Import(t.Context(), []models.ImportFile{{Name: "ubuntu.torrent", Data: data}}, models.GridImportSettings{})
	require.NoError(t, err)
	require.Len(t, result.Imported, 1)
	assert.Len(t, f.store.Rows(), 1, "import refetches")
}
