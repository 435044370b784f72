// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package instances

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/models"
)

func TestMergeServerInstanceIsIdempotent(t *testing.T) {
	s := newInitialized(t, backendtest.NewFake(backend.RuntimeBrowser))

	cfg := models.DefaultInstanceConfig()
	cfg.UploadRate = 321
	si := models.ServerInstance{
		ID:     "remote",
		Config: cfg,
		Stats:  models.InstanceStats{State: models.FakerRunning, Uploaded: 2 * models.BytesPerMB},
		Tags:   []string{"x"},
	}

	assert.True(t, s.MergeServerInstance(si))
	assert.False(t, s.MergeServerInstance(si))
	assert.Equal(t, 2, s.Len())

	inst, ok := s.Get("remote")
	require.True(t, ok)
	assert.Equal(t, 321.0, inst.Settings.UploadRate)
	assert.True(t, inst.IsRunning)
	assert.EqualValues(t, 2, inst.CumulativeUploadedMB)
	assert.Equal(t, []string{"x"}, inst.Tags)
}

func TestEnsureInstanceOnServer(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	s := newInitialized(t, fake)

	cfg := models.DefaultInstanceConfig()
	cfg.Port = 9999
	fake.Seed(models.InstanceSummary{ID: "late", Name: "late.iso", State: models.StateStopped, Tags: []string{"new"}}, cfg)

	for range 3 {
		id, ok := s.EnsureInstance(t.Context(), "late", nil)
		require.True(t, ok)
		assert.Equal(t, "late", id)
	}

	records := s.Instances()
	require.Len(t, records, 2)
	inst, ok := s.Get("late")
	require.True(t, ok)
	assert.Equal(t, 9999, inst.Settings.Port)
	require.NotNil(t, inst.Torrent)
	assert.Equal(t, "late.iso", inst.Torrent.Name)
	assert.Equal(t, []string{"new"}, inst.Tags)
}

func TestEnsureInstancePatchesExistingRecord(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	fake.Seed(models.InstanceSummary{ID: "a", State: models.StateStopped}, models.DefaultInstanceConfig())
	s := newInitialized(t, fake)

	rate := 5.0
	_, err := fake.GridUpdateConfig(t.Context(), []string{"a"}, models.PresetSettings{UploadRate: &rate})
	require.NoError(t, err)

	id, ok := s.EnsureInstance(t.Context(), "a", nil)
	require.True(t, ok)
	assert.Equal(t, "a", id)

	inst, _ := s.Get("a")
	assert.Equal(t, 5.0, inst.Settings.UploadRate)
	assert.Equal(t, 1, s.Len())
}

func TestEnsureInstanceFallsBackToSummary(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeDesktop)
	s := newInitialized(t, fake)
	fake.Seed(models.InstanceSummary{ID: "row", Name: "row.iso", State: models.StatePaused}, models.DefaultInstanceConfig())

	id, ok := s.EnsureInstance(t.Context(), "unknown", nil)
	assert.False(t, ok)
	assert.Empty(t, id)

	fallback := &models.InstanceSummary{ID: "row", Name: "row.iso", State: models.StatePaused, Uploaded: 3 * models.BytesPerMB}
	for range 2 {
		id, ok = s.EnsureInstance(t.Context(), "row", fallback)
		require.True(t, ok)
		assert.Equal(t, "row", id)
	}
	s.hydrating.Wait()

	require.Equal(t, 2, s.Len())
	inst, ok := s.Get("row")
	require.True(t, ok)
	assert.True(t, inst.IsRunning)
	assert.True(t, inst.IsPaused)
	assert.Equal(t, models.StatusPaused, inst.Status.Type)
	assert.EqualValues(t, 3, inst.CumulativeUploadedMB)
	assert.Equal(t, models.BuiltinDefaults(), inst.Settings)
	require.NotNil(t, inst.Torrent)
	assert.Equal(t, "row.iso", inst.Torrent.Name)
}

func TestSyncInstanceStateIsDirtyChecked(t *testing.T) {
	s := newInitialized(t, backendtest.NewFake(backend.RuntimeBrowser))
	id := s.ActiveID()

	var changes int
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeStatus {
			changes++
		}
	})

	assert.False(t, s.SyncInstanceState(id, State{}))
	assert.True(t, s.SyncInstanceState(id, State{IsRunning: true, Stats: &models.InstanceStats{Uploaded: 4 * models.BytesPerMB}}))
	assert.False(t, s.SyncInstanceState(id, State{IsRunning: true, Stats: &models.InstanceStats{Uploaded: 8 * models.BytesPerMB}}))
	assert.False(t, s.SyncInstanceState("missing", State{IsRunning: true}))

	inst, _ := s.Get(id)
	assert.True(t, inst.IsRunning)
	assert.EqualValues(t, 4, inst.CumulativeUploadedMB)
	assert.Equal(t, models.StatusRunning, inst.Status.Type)
	assert.Equal(t, 1, changes)
}

func TestSyncAllInstanceStates(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	fake.Seed(models.InstanceSummary{ID: "a", State: models.StateStopped}, models.DefaultInstanceConfig())
	fake.Seed(models.InstanceSummary{ID: "b", State: models.StateStopped}, models.DefaultInstanceConfig())
	s := newInitialized(t, fake)

	fake.SetState("a", models.StateRunning)
	fake.SetState("b", models.StateStopping)
	require.NoError(t, s.SyncAllInstanceStates(t.Context()))

	a, _ := s.Get("a")
	b, _ := s.Get("b")
	assert.True(t, a.IsRunning)
	assert.False(t, b.IsRunning)
	assert.Equal(t, models.StatusIdle, b.Status.Type)
}

func TestStateFromSummary(t *testing.T) {
	tests := []struct {
		state       models.LifecycleState
		wantRunning bool
		wantPaused  bool
	}{
		{state: models.StateRunning, wantRunning: true},
		{state: models.StatePaused, wantRunning: true, wantPaused: true},
		{state: models.StateStarting},
		{state: models.StateIdle},
		{state: models.StateStopped},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got := StateFromSummary(models.InstanceSummary{State: tt.state, Uploaded: 1})
			assert.Equal(t, tt.wantRunning, got.IsRunning)
			assert.Equal(t, tt.wantPaused, got.IsPaused)
			require.NotNil(t, got.Stats)
		})
	}
}
