// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/localstore"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
	"github.com/autobrr/ratiosync/internal/session"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
}

func sampleInstances() []models.Instance {
	first := models.BuiltinDefaults()
	first.StopAtRatioEnabled = true

	second := models.BuiltinDefaults()
	second.UploadRate = 25.5
	second.Port = 51413

	return []models.Instance{
		{
			ID:                     "a",
			Torrent:                &models.TorrentInfo{Name: "ubuntu.iso"},
			TorrentPath:            "/data/ubuntu.torrent",
			Settings:               first,
			CumulativeUploadedMB:   3,
			CumulativeDownloadedMB: 1,
		},
		{ID: "b", Settings: second},
	}
}

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(t.Context(), localstore.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDesktopLayout(t *testing.T) {
	host := backendtest.NewFake(backend.RuntimeDesktop)
	adapter := session.NewDesktop(host, nil)

	saved, err := adapter.Save(t.Context(), sampleInstances(), "b")
	require.NoError(t, err)
	require.True(t, saved)

	cfg, err := host.GetConfig(t.Context())
	require.NoError(t, err)
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)

	newGoldie(t).Assert(t, "desktop_session", data)
}

func TestBrowserLayout(t *testing.T) {
	store := openStore(t)
	adapter := session.NewBrowser(store, nil)

	saved, err := adapter.Save(t.Context(), sampleInstances(), "b")
	require.NoError(t, err)
	require.True(t, saved)

	raw, ok, err := store.GetItem(t.Context(), session.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, []byte(raw), "", "  "))

	newGoldie(t).Assert(t, "browser_session", buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		adapter func(t *testing.T) *session.Adapter
	}{
		{
			name: "desktop",
			adapter: func(t *testing.T) *session.Adapter {
				return session.NewDesktop(backendtest.NewFake(backend.RuntimeDesktop), nil)
			},
		},
		{
			name: "browser",
			adapter: func(t *testing.T) *session.Adapter {
				return session.NewBrowser(openStore(t), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := tt.adapter(t)
			instances := sampleInstances()

			_, err := adapter.Save(t.Context(), instances, "b")
			require.NoError(t, err)

			loaded, err := adapter.Load(t.Context())
			require.NoError(t, err)
			require.NotNil(t, loaded)
			require.Len(t, loaded.Entries, 2)
			assert.Equal(t, 1, loaded.ActiveIndex)

			first := loaded.Entries[0]
			assert.Equal(t, "/data/ubuntu.torrent", first.TorrentPath)
			assert.Equal(t, "ubuntu.iso", first.TorrentName)
			assert.Equal(t, instances[0].Settings, first.Settings)
			assert.EqualValues(t, 3, first.CumulativeUploadedMB)
			assert.EqualValues(t, 1, first.CumulativeDownloadedMB)

			assert.Equal(t, instances[1].Settings, loaded.Entries[1].Settings)
			assert.Empty(t, loaded.Entries[1].TorrentPath)
		})
	}
}

func TestSaveRatesInBackendUnits(t *testing.T) {
	settings := models.BuiltinDefaults()
	settings.UploadRate = 50
	settings.DownloadRate = 100
	settings.CompletionPercent = 0

	host := backendtest.NewFake(backend.RuntimeDesktop)
	_, err := session.NewDesktop(host, nil).Save(t.Context(), []models.Instance{{ID: "a", Settings: settings}}, "a")
	require.NoError(t, err)

	cfg, err := host.GetConfig(t.Context())
	require.NoError(t, err)
	require.Len(t, cfg.Instances, 1)
	entry := cfg.Instances[0]
	assert.Equal(t, 50.0, *entry.UploadRate)
	assert.Equal(t, 100.0, *entry.DownloadRate)
	assert.Equal(t, 0.0, *entry.CompletionPercent)
	assert.EqualValues(t, 24*3600, *entry.StopAtSeedTime)
	require.NotNil(t, cfg.ActiveInstanceIndex)
	assert.Equal(t, 0, *cfg.ActiveInstanceIndex)
}

func TestDesktopLoadFillsMissingFields(t *testing.T) {
	host := backendtest.NewFake(backend.RuntimeDesktop)
	rate := 12.0
	seconds := int64(7200)
	require.NoError(t, host.UpdateConfig(t.Context(), models.HostConfig{
		Instances: []models.HostInstanceConfig{{TorrentPath: "/t/x.torrent", UploadRate: &rate, StopAtSeedTime: &seconds}},
	}))

	loaded, err := session.NewDesktop(host, nil).Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Entries, 1)

	want := models.BuiltinDefaults()
	want.UploadRate = 12
	want.StopAtSeedTimeHours = 2
	assert.Equal(t, want, loaded.Entries[0].Settings)
	assert.Equal(t, 0, loaded.ActiveIndex)
	assert.Equal(t, models.TorrentSource{Path: "/t/x.torrent"}, loaded.Entries[0].Source())
}

func TestBrowserKeepsTorrentData(t *testing.T) {
	adapter := session.NewBrowser(openStore(t), nil)
	data := backendtest.MakeTorrent(t, "kept.iso", 64*1024)

	instances := []models.Instance{{ID: "a", Torrent: &models.TorrentInfo{Name: "kept.iso"}, TorrentData: data, Settings: models.BuiltinDefaults()}}
	_, err := adapter.Save(t.Context(), instances, "a")
	require.NoError(t, err)

	loaded, err := adapter.Load(t.Context())
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, data, loaded.Entries[0].TorrentData)
	assert.Equal(t, data, loaded.Entries[0].Source().Data)
}

func TestBrowserLoadSkipsUnreadableTorrentData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "bad base64", data: "!!not base64!!"},
		{name: "not zstd", data: base64.StdEncoding.EncodeToString([]byte("plain bytes"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			adapter := session.NewBrowser(store, nil)
			good := backendtest.MakeTorrent(t, "good.iso", 32*1024)
			bad := backendtest.MakeTorrent(t, "bad.iso", 32*1024)
			instances := []models.Instance{
				{ID: "a", Torrent: &models.TorrentInfo{Name: "bad.iso"}, TorrentData: bad, Settings: models.BuiltinDefaults()},
				{ID: "b", Torrent: &models.TorrentInfo{Name: "good.iso"}, TorrentData: good, Settings: models.BuiltinDefaults()},
			}
			_, err := adapter.Save(t.Context(), instances, "b")
			require.NoError(t, err)

			raw, ok, err := store.GetItem(t.Context(), session.StorageKey)
			require.NoError(t, err)
			require.True(t, ok)
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(raw), &doc))
			doc["instances"].([]any)[0].(map[string]any)["torrentData"] = tt.data
			corrupted, err := json.Marshal(doc)
			require.NoError(t, err)
			require.NoError(t, store.SetItem(t.Context(), session.StorageKey, string(corrupted)))

			loaded, err := adapter.Load(t.Context())
			require.NoError(t, err)
			require.NotNil(t, loaded)
			require.Len(t, loaded.Entries, 2)
			assert.Nil(t, loaded.Entries[0].TorrentData)
			assert.Equal(t, "bad.iso", loaded.Entries[0].TorrentName)
			assert.Equal(t, good, loaded.Entries[1].TorrentData)
			assert.Equal(t, 1, loaded.ActiveIndex)
		})
	}
}

func TestLoadWithoutSession(t *testing.T) {
	desktop, err := session.NewDesktop(backendtest.NewFake(backend.RuntimeDesktop), nil).Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, desktop)

	browser, err := session.NewBrowser(openStore(t), nil).Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, browser)
}

func TestLoadClampsActiveIndex(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.SetItem(t.Context(), session.StorageKey,
		`{"version":1,"instances":[{"uploadRate":10}],"activeInstanceIndex":5}`))

	loaded, err := session.NewBrowser(store, nil).Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 0, loaded.ActiveIndex)
	assert.Equal(t, 10.0, loaded.Entries[0].Settings.UploadRate)
	assert.Equal(t, models.BuiltinDefaults().DownloadRate, loaded.Entries[0].Settings.DownloadRate)
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.SetItem(t.Context(), session.StorageKey, "{broken"))

	_, err := session.NewBrowser(store, nil).Load(t.Context())
	require.Error(t, err)
}

type blockingKV struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingKV) GetItem(context.Context, string) (string, bool, error) { return "", false, nil }

func (b *blockingKV) SetItem(context.Context, string, string) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestConcurrentSaveIsDropped(t *testing.T) {
	kv := &blockingKV{entered: make(chan struct{}), release: make(chan struct{})}
	m := metrics.New(nil)
	adapter := session.NewBrowser(kv, m)

	done := make(chan bool, 1)
	go func() {
		saved, _ := adapter.Save(context.Background(), sampleInstances(), "a")
		done <- saved
	}()

	select {
	case <-kv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first save did not start")
	}

	saved, err := adapter.Save(t.Context(), sampleInstances(), "a")
	require.NoError(t, err)
	assert.False(t, saved)

	close(kv.release)
	assert.True(t, <-done)
}

func TestForBackend(t *testing.T) {
	store := openStore(t)

	tests := []struct {
		name    string
		runtime backend.Runtime
		kv      session.KV
		wantErr bool
	}{
		{name: "desktop uses host config", runtime: backend.RuntimeDesktop},
		{name: "server uses local storage", runtime: backend.RuntimeServer, kv: store},
		{name: "browser uses local storage", runtime: backend.RuntimeBrowser, kv: store},
		{name: "browser without storage", runtime: backend.RuntimeBrowser, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := session.ForBackend(backendtest.NewFake(tt.runtime), tt.kv, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, adapter)
		})
	}
}
