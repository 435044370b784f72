// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/models"
)

func newTestViewer(t *testing.T, fake *backendtest.Fake) *Viewer {
	t.Helper()
	v, err := NewViewer(t.Context(), fake, ViewerOptions{PollInterval: time.Hour, CoalesceDelay: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(v.Close)

	require.Eventually(t, func() bool { return fake.CallCount("ListSummaries") >= 1 }, time.Second, 5*time.Millisecond)
	return v
}

func TestViewerCoalescesEventBursts(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	seed(fake, "a", models.StateStopped)
	newTestViewer(t, fake)
	base := fake.CallCount("ListSummaries")

	for range 5 {
		fake.Emit(models.InstanceEvent{Type: models.EventStateChanged, ID: "a"})
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fake.CallCount("ListSummaries") == base+1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, base+1, fake.CallCount("ListSummaries"))
}

func TestViewerCloseStopsRefreshes(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	v := newTestViewer(t, fake)

	fake.Emit(models.InstanceEvent{Type: models.EventCreated, ID: "x"})
	v.Close()
	base := fake.CallCount("ListSummaries")

	fake.Emit(models.InstanceEvent{Type: models.EventCreated, ID: "y"})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, base, fake.CallCount("ListSummaries"))
}

func TestViewerFiltersAndSort(t *testing.T) {
	fake := backendtest.NewFake(backend.RuntimeServer)
	seed(fake, "a", models.StateRunning, "linux")
	seed(fake, "b", models.StateStopped, "linux")
	seed(fake, "c", models.StateRunning)
	v := newTestViewer(t, fake)
	require.NoError(t, v.Refresh(t.Context()))

	require.Error(t, v.SetFilters(Filters{Expr: "Ratio >"}))
	require.NoError(t, v.SetFilters(Filters{Tag: "linux"}))
	require.ErrorIs(t, v.SetView(Filters{Search: "b"}, Sort{Column: "name", Direction: "up"}), ErrInvalidDirection)
	require.ErrorIs(t, v.SetView(Filters{Search: "b"}, Sort{Column: "bogus"}), ErrUnknownColumn)
	assert.Equal(t, Filters{Tag: "linux"}, v.Filters())

	sorting, err := v.ToggleSort("name")
	require.NoError(t, err)
	assert.Equal(t, Sort{Column: "name", Direction: SortAsc}, sorting)
	sorting, err = v.ToggleSort("name")
	require.NoError(t, err)
	assert.Equal(t, SortDesc, sorting.Direction)

	rows, err := v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(rows))

	_, err = v.ToggleSort("bogus")
	require.ErrorIs(t, err, ErrUnknownColumn)

	v.Selection().SelectAll(v.Visible())
	_, err = v.Coordinator().Stop(t.Context())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, fake.IDsFor("GridStop"))
}
