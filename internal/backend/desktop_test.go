// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/models"
)

func waitRestored(t *testing.T, d *backend.Desktop) {
	t.Helper()
	select {
	case <-d.RestorationDone():
	case <-time.After(2 * time.Second):
		t.Fatal("restoration did not finish")
	}
}

func TestDesktopPersistsAndRestoresInstances(t *testing.T) {
	dir := t.TempDir()
	opts := backend.DesktopOptions{
		ConfigPath: filepath.Join(dir, "desktop.toml"),
		StatePath:  filepath.Join(dir, "state.json"),
	}

	first := backend.NewDesktop(t.Context(), opts)
	waitRestored(t, first)
	assert.Equal(t, backend.RuntimeDesktop, first.Runtime())
	assert.False(t, first.AutonomousScheduler())

	ctx := t.Context()
	running, err := first.CreateInstance(ctx)
	require.NoError(t, err)
	_, err = first.LoadInstanceTorrent(ctx, running, models.TorrentSource{Data: backendtest.MakeTorrent(t, "running.iso", models.BytesPerMB)})
	require.NoError(t, err)
	_, err = first.GridStart(ctx, []string{running})
	require.NoError(t, err)

	idle, err := first.CreateInstance(ctx)
	require.NoError(t, err)
	_, err = first.LoadInstanceTorrent(ctx, idle, models.TorrentSource{Data: backendtest.MakeTorrent(t, "idle.iso", models.BytesPerMB)})
	require.NoError(t, err)

	require.NoError(t, first.Close())
	require.FileExists(t, opts.StatePath)

	second := backend.NewDesktop(t.Context(), opts)
	defer second.Close()
	waitRestored(t, second)

	summaries, err := second.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, running, summaries[0].ID)
	assert.Equal(t, models.StateRunning, summaries[0].State)
	assert.Equal(t, "idle.iso", summaries[1].Name)
	assert.Equal(t, models.StateStopped, summaries[1].State)
}

func TestDesktopMovesCorruptedStateAside(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))

	d := backend.NewDesktop(t.Context(), backend.DesktopOptions{StatePath: statePath, ConfigPath: filepath.Join(dir, "desktop.toml")})
	defer d.Close()
	waitRestored(t, d)

	assert.FileExists(t, statePath+".corrupted")
	summaries, err := d.ListSummaries(t.Context())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestDesktopConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := backend.NewDesktop(t.Context(), backend.DesktopOptions{ConfigPath: filepath.Join(dir, "desktop.toml")})
	defer d.Close()
	waitRestored(t, d)

	empty, err := d.GetConfig(t.Context())
	require.NoError(t, err)
	assert.Empty(t, empty.Instances)

	rate := 42.0
	uploaded := int64(3 * models.BytesPerMB)
	index := 1
	cfg := models.HostConfig{
		Instances: []models.HostInstanceConfig{
			{TorrentPath: "/tmp/a.torrent", UploadRate: &rate},
			{TorrentPath: "/tmp/b.torrent", CumulativeUploaded: &uploaded},
		},
		ActiveInstanceIndex: &index,
	}
	require.NoError(t, d.UpdateConfig(t.Context(), cfg))

	got, err := d.GetConfig(t.Context())
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDesktopUnsupportedListing(t *testing.T) {
	d := backend.NewDesktop(t.Context(), backend.DesktopOptions{})
	defer d.Close()

	_, err := d.ListInstances(t.Context())
	require.ErrorIs(t, err, backend.ErrUnsupported)
	_, err = d.GetInstance(t.Context(), "x")
	require.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestBrowserLoadsBytesOnly(t *testing.T) {
	b := backend.NewBrowser(nil)
	ctx := t.Context()
	assert.Equal(t, backend.RuntimeBrowser, b.Runtime())

	id, err := b.CreateInstance(ctx)
	require.NoError(t, err)

	_, err = b.LoadInstanceTorrent(ctx, id, models.TorrentSource{Path: "/tmp/some.torrent"})
	require.ErrorIs(t, err, backend.ErrUnsupported)

	info, err := b.LoadInstanceTorrent(ctx, id, models.TorrentSource{Data: backendtest.MakeTorrent(t, "bytes.iso", 4096)})
	require.NoError(t, err)
	assert.Equal(t, "bytes.iso", info.Name)

	stats, err := b.UpdateStatsOnly(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.FakerStopped, stats.State)
}

func TestLocalSubscribeCancel(t *testing.T) {
	b := backend.NewBrowser(nil)

	var events []models.InstanceEvent
	cancel, err := b.Subscribe(t.Context(), func(ev models.InstanceEvent) { events = append(events, ev) })
	require.NoError(t, err)

	_, err = b.CreateInstance(t.Context())
	require.NoError(t, err)
	cancel()
	cancel()
	_, err = b.CreateInstance(t.Context())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventCreated, events[0].Type)
}
