// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package localstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/dbinterface"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.Context(), Memory)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetItem(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	_, ok, err := s.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem(ctx, "ratiosync.session.v1", `{"a":1}`))
	require.NoError(t, s.SetItem(ctx, "ratiosync.session.v1", `{"a":2}`))

	value, ok, err := s.GetItem(ctx, "ratiosync.session.v1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, value)
}

func TestRemoveItems(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	keys := make([]string, 0, dbinterface.MaxParams+10)
	for i := range dbinterface.MaxParams + 10 {
		key := fmt.Sprintf("k%04d", i)
		keys = append(keys, key)
		require.NoError(t, s.SetItem(ctx, key, "v"))
	}
	require.NoError(t, s.SetItem(ctx, "keep", "v"))

	require.NoError(t, s.RemoveItems(ctx, keys...))
	require.NoError(t, s.RemoveItem(ctx, "never-existed"))

	remaining, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, remaining)
}

func TestKeysPrefix(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	for _, key := range []string{"ratiosync.b", "ratiosync.a", "other", "ratiosync_x"} {
		require.NoError(t, s.SetItem(ctx, key, "v"))
	}

	keys, err := s.Keys(ctx, "ratiosync.")
	require.NoError(t, err)
	assert.Equal(t, []string{"ratiosync.a", "ratiosync.b"}, keys)
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "localstorage.db")

	s, err := Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.SetItem(t.Context(), "key", "value"))
	require.NoError(t, s.Close())

	reopened, err := Open(t.Context(), path)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.GetItem(t.Context(), "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", value)
}
