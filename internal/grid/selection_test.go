// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/models"
)

func TestSelectionClick(t *testing.T) {
	view := sampleRows()
	s := NewSelection()

	s.Click(view, "1", false)
	assert.Equal(t, []string{"1"}, s.Scoped(view))

	s.Click(view, "3", true)
	assert.Equal(t, []string{"1", "2", "3"}, s.Scoped(view))

	s.Click(view, "2", false)
	assert.Equal(t, []string{"1", "3"}, s.Scoped(view))

	// anchor is now "2"; shift-click upwards
	s.Click(view, "1", true)
	assert.Equal(t, []string{"1", "2", "3"}, s.Scoped(view))

	s.Click(view, "missing", false)
	assert.Equal(t, 3, s.Len())
}

func TestSelectionShiftClickWithoutAnchorToggles(t *testing.T) {
	view := sampleRows()
	s := NewSelection()

	s.Click(view, "2", true)
	assert.Equal(t, []string{"2"}, s.Scoped(view))
}

func TestSelectionRestrictedToView(t *testing.T) {
	rows := sampleRows()
	running, err := Apply(rows, Filters{State: "running"}, Sort{})
	require.NoError(t, err)

	s := NewSelection()
	s.Click(rows, "2", false)

	s.SelectAll(running)
	assert.Equal(t, []string{"1", "2", "3"}, s.Scoped(rows))

	s.Invert(running)
	assert.Equal(t, []string{"2"}, s.Scoped(rows))

	s.SelectAll(rows)
	s.DeselectAll(running)
	assert.Equal(t, []string{"2", "4"}, s.Scoped(rows))
	assert.Empty(t, s.Scoped(running))
}

func TestSelectByStateAndTag(t *testing.T) {
	view := sampleRows()
	s := NewSelection()

	s.SelectByState(view, models.StateRunning)
	assert.Equal(t, []string{"1", "3"}, s.Scoped(view))

	s.SelectByTag(view, "linux")
	assert.Equal(t, []string{"1", "2"}, s.Scoped(view))
}

func TestSelectionPrune(t *testing.T) {
	view := sampleRows()
	s := NewSelection()
	s.SelectAll(view)

	s.Prune("1", "3", "missing")

	assert.Equal(t, []string{"2", "4"}, s.Scoped(view))
	assert.False(t, s.Contains("1"))
}
