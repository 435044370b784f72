// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/backend/backendtest"
	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/models"
)

const testToken = "secret"

func newTestServer(t *testing.T) (*backend.Server, *host.Engine) {
	t.Helper()
	engine := host.NewEngine()
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(backendtest.NewServerHandler(engine, testToken))
	t.Cleanup(srv.Close)

	client, err := backend.NewServer(backend.ServerOptions{
		BaseURL:         srv.URL,
		Token:           testToken,
		RetryDelay:      time.Millisecond,
		EventBackoffMin: 10 * time.Millisecond,
		EventBackoffMax: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return client, engine
}

func TestNewServerValidatesURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "http", url: "http://localhost:8080"},
		{name: "https with trailing slash", url: "https://example.com/"},
		{name: "empty", url: " ", wantErr: true},
		{name: "unsupported scheme", url: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := backend.NewServer(backend.ServerOptions{BaseURL: tt.url})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestServerInstanceLifecycle(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := t.Context()

	assert.Equal(t, backend.RuntimeServer, client.Runtime())
	assert.True(t, client.AutonomousScheduler())

	id, err := client.CreateInstance(ctx)
	require.NoError(t, err)

	info, err := client.LoadInstanceTorrent(ctx, id, models.TorrentSource{Data: backendtest.MakeTorrent(t, "server.iso", models.BytesPerMB)})
	require.NoError(t, err)
	assert.Equal(t, "server.iso", info.Name)

	cfg := models.DefaultInstanceConfig()
	cfg.UploadRate = 77
	require.NoError(t, client.UpdateInstanceConfig(ctx, id, cfg))

	inst, err := client.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 77.0, inst.Config.UploadRate)
	require.NotNil(t, inst.Torrent)
	assert.Equal(t, info.InfoHash, inst.Torrent.InfoHash)

	torrent, err := client.GetInstanceTorrent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "server.iso", torrent.Name)

	_, err = client.GetInstance(ctx, "missing")
	require.ErrorIs(t, err, models.ErrInstanceNotFound)

	require.NoError(t, client.DeleteInstance(ctx, id, false))
	summaries, err := client.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestServerGridActions(t *testing.T) {
	client, engine := newTestServer(t)
	ctx := t.Context()

	result, err := client.GridImport(ctx, []models.ImportFile{
		{Name: "a.torrent", Data: backendtest.MakeTorrent(t, "a.iso", 4096)},
		{Name: "b.torrent", Data: backendtest.MakeTorrent(t, "b.iso", 4096)},
	}, models.GridImportSettings{Tags: []string{"batch"}})
	require.NoError(t, err)
	require.Len(t, result.Imported, 2)
	assert.Empty(t, result.Errors)

	a, b := result.Imported[0].ID, result.Imported[1].ID

	started, err := client.GridStart(ctx, []string{a, "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, started.Succeeded)
	require.Len(t, started.Failed, 1)
	assert.Equal(t, "missing", started.Failed[0].ID)

	tagged, err := client.GridTag(ctx, []string{a, b}, []string{"new"}, []string{"batch"})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, tagged.Succeeded)
	assert.Empty(t, tagged.Failed)

	rate := 12.5
	updated, err := client.GridUpdateConfig(ctx, []string{b}, models.PresetSettings{UploadRate: &rate})
	require.NoError(t, err)
	assert.Equal(t, []string{b}, updated.Succeeded)

	inst, err := engine.Instance(b)
	require.NoError(t, err)
	assert.Equal(t, 12.5, inst.Config.UploadRate)
	assert.Equal(t, []string{"new"}, inst.Tags)

	deleted, err := client.GridDelete(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, deleted.Succeeded)
	assert.Empty(t, engine.Summaries())
}

func TestServerImportWithoutFiles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	client, err := backend.NewServer(backend.ServerOptions{BaseURL: srv.URL})
	require.NoError(t, err)

	result, err := client.GridImport(t.Context(), nil, models.GridImportSettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{models.ErrNoFilesSelected}, result.Errors)
	assert.Empty(t, result.Imported)
	assert.Zero(t, calls.Load())
}

func TestServerRejectsBadToken(t *testing.T) {
	engine := host.NewEngine()
	t.Cleanup(engine.Close)
	srv := httptest.NewServer(backendtest.NewServerHandler(engine, testToken))
	t.Cleanup(srv.Close)

	client, err := backend.NewServer(backend.ServerOptions{BaseURL: srv.URL, Token: "wrong", RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = client.ListSummaries(t.Context())
	var reqErr *backend.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, "unauthorized", reqErr.Message)
	assert.False(t, reqErr.Retryable())
}

func TestServerRetriesReads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"a","name":"a.iso","state":"running"}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := backend.NewServer(backend.ServerOptions{BaseURL: srv.URL, RetryAttempts: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	summaries, err := client.ListSummaries(t.Context())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, models.StateRunning, summaries[0].State)
	assert.EqualValues(t, 3, calls.Load())
}

func TestServerDoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"busy"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := backend.NewServer(backend.ServerOptions{BaseURL: srv.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = client.GridStart(t.Context(), []string{"a"})
	var reqErr *backend.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "busy", reqErr.Message)
	assert.True(t, reqErr.Retryable())
	assert.EqualValues(t, 1, calls.Load())
}

func TestServerSubscribe(t *testing.T) {
	client, engine := newTestServer(t)

	var mu sync.Mutex
	var events []models.InstanceEvent
	cancel, err := client.Subscribe(t.Context(), func(ev models.InstanceEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	// the stream may connect after the first instance is created
	require.Eventually(t, func() bool {
		engine.CreateInstance()
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Type == models.EventCreated && ev.ID != "" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
