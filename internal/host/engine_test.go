// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// makeTorrent builds an in-memory single file torrent.
func makeTorrent(t *testing.T, name string, size int64) []byte {
	t.Helper()

	const pieceLength = 16384
	numPieces := (size + pieceLength - 1) / pieceLength
	info := metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
		Length:      size,
		Pieces:      make([]byte, 20*numPieces),
	}

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
	}

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes()
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now), WithRand(func() float64 { return 0.5 }))
	t.Cleanup(e.Close)
	return e, clock
}

func plainConfig() models.InstanceConfig {
	cfg := models.DefaultInstanceConfig()
	cfg.RandomizeRates = false
	return cfg
}

func TestParseTorrent(t *testing.T) {
	data := makeTorrent(t, "ubuntu.iso", 10*models.BytesPerMB)

	info, err := ParseTorrent(data)
	require.NoError(t, err)

	assert.Equal(t, "ubuntu.iso", info.Name)
	assert.Equal(t, int64(10*models.BytesPerMB), info.TotalSize)
	assert.Len(t, info.InfoHash, 40)
	assert.True(t, info.IsSingleFile)
	assert.Equal(t, 1, info.FileCount)
	assert.Equal(t, 640, info.NumPieces)

	_, err = ParseTorrent([]byte("not a torrent"))
	require.Error(t, err)
}

func TestEngineCreateAndSummaries(t *testing.T) {
	e, _ := newTestEngine(t)

	var events []models.InstanceEvent
	unsubscribe := e.Subscribe(func(ev models.InstanceEvent) { events = append(events, ev) })
	defer unsubscribe()

	a := e.CreateInstance()
	b := e.CreateInstance()

	summaries := e.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, a, summaries[0].ID)
	assert.Equal(t, b, summaries[1].ID)
	assert.Equal(t, models.StateStopped, summaries[0].State)
	assert.Equal(t, models.SourceManual, summaries[0].Source)
	assert.NotNil(t, summaries[0].Tags)

	require.Len(t, events, 2)
	assert.Equal(t, models.EventCreated, events[0].Type)

	_, err := e.Torrent(a)
	require.ErrorIs(t, err, models.ErrNoTorrent)
}

func TestEngineAdvanceTransfersBytes(t *testing.T) {
	e, clock := newTestEngine(t)

	id := e.CreateInstance()
	require.NoError(t, e.UpdateConfig(id, plainConfig()))
	_, err := e.LoadTorrent(id, models.TorrentSource{Data: makeTorrent(t, "linux.iso", 10*models.BytesPerMB)})
	require.NoError(t, err)

	require.ErrorIs(t, e.Pause(id), models.ErrInvalidTransition)
	require.NoError(t, e.Start(id))

	clock.Advance(10 * time.Second)
	stats, err := e.Advance(id)
	require.NoError(t, err)

	assert.Equal(t, int64(50*1024*10), stats.Uploaded)
	assert.Equal(t, int64(100*1024*10), stats.Downloaded)
	assert.Equal(t, int64(10*models.BytesPerMB-100*1024*10), stats.Left)
	assert.Equal(t, int64(10), stats.ElapsedSeconds)
	assert.InDelta(t, 9.765625, stats.TorrentCompletion, 0.0001)
	assert.Equal(t, models.FakerRunning, stats.State)

	summary := e.Summaries()[0]
	assert.Equal(t, "linux.iso", summary.Name)
	assert.Equal(t, models.StateRunning, summary.State)
}

func TestEngineAdvanceIgnoresStoppedInstances(t *testing.T) {
	e, clock := newTestEngine(t)

	id := e.CreateInstance()
	_, err := e.LoadTorrent(id, models.TorrentSource{Data: makeTorrent(t, "idle.iso", models.BytesPerMB)})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	stats, err := e.Advance(id)
	require.NoError(t, err)
	assert.Zero(t, stats.Uploaded)

	_, err = e.Advance("missing")
	require.ErrorIs(t, err, models.ErrInstanceNotFound)
}

func TestEngineStopCondition(t *testing.T) {
	e, clock := newTestEngine(t)

	cfg := plainConfig()
	limit := int64(100 * 1024)
	cfg.StopAtUploaded = &limit

	id := e.CreateInstance()
	require.NoError(t, e.UpdateConfig(id, cfg))
	_, err := e.LoadTorrent(id, models.TorrentSource{Data: makeTorrent(t, "limit.iso", 10*models.BytesPerMB)})
	require.NoError(t, err)
	require.NoError(t, e.Start(id))

	var stateEvents int
	e.Subscribe(func(ev models.InstanceEvent) {
		if ev.Type == models.EventStateChanged {
			stateEvents++
		}
	})

	clock.Advance(3 * time.Second)
	stats, err := e.Advance(id)
	require.NoError(t, err)

	assert.Equal(t, models.FakerStopped, stats.State)
	assert.Equal(t, 1, stateEvents)

	inst, err := e.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, stats.Uploaded, inst.Config.InitialUploaded)
}

func TestEngineTransitions(t *testing.T) {
	e, _ := newTestEngine(t)

	id := e.CreateInstance()
	require.ErrorIs(t, e.Start(id), models.ErrNoTorrent)

	_, err := e.LoadTorrent(id, models.TorrentSource{Data: makeTorrent(t, "t.iso", models.BytesPerMB)})
	require.NoError(t, err)

	require.ErrorIs(t, e.Stop(id), models.ErrInvalidTransition)
	require.NoError(t, e.Start(id))
	require.ErrorIs(t, e.Start(id), models.ErrInvalidTransition)
	require.ErrorIs(t, e.Resume(id), models.ErrInvalidTransition)
	require.NoError(t, e.Pause(id))
	assert.Equal(t, models.StatePaused, e.Summaries()[0].State)
	require.NoError(t, e.Resume(id))
	require.NoError(t, e.Stop(id))
	assert.Equal(t, models.StateStopped, e.Summaries()[0].State)

	_, err = e.LoadTorrent("missing", models.TorrentSource{Data: makeTorrent(t, "x.iso", 1024)})
	require.ErrorIs(t, err, models.ErrInstanceNotFound)
}

func TestEngineDeleteWatchFolderRequiresForce(t *testing.T) {
	e, _ := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "watched.torrent")
	require.NoError(t, os.WriteFile(path, makeTorrent(t, "watched", models.BytesPerMB), 0o644))

	imported, err := e.ImportWatchFile(path, models.GridImportSettings{})
	require.NoError(t, err)

	require.ErrorIs(t, e.DeleteInstance(imported.ID, false), models.ErrWatchFolderInstance)
	require.NoError(t, e.DeleteInstance(imported.ID, true))
	require.ErrorIs(t, e.DeleteInstance(imported.ID, true), models.ErrInstanceNotFound)
}

func TestEngineGridActions(t *testing.T) {
	e, _ := newTestEngine(t)

	a := e.CreateInstance()
	b := e.CreateInstance()
	_, err := e.LoadTorrent(a, models.TorrentSource{Data: makeTorrent(t, "a.iso", models.BytesPerMB)})
	require.NoError(t, err)

	result := e.GridStart([]string{a, b, "missing"})
	assert.Equal(t, []string{a}, result.Succeeded)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, b, result.Failed[0].ID)
	assert.Equal(t, "missing", result.Failed[1].ID)

	result = e.GridDelete([]string{a, "missing"})
	assert.Equal(t, []string{a}, result.Succeeded)
	assert.Len(t, e.Summaries(), 1)
}

func TestEngineGridTag(t *testing.T) {
	e, _ := newTestEngine(t)

	id := e.CreateInstance()
	require.NoError(t, e.SetTags(id, []string{"old", "keep", "old"}))

	result := e.GridTag([]string{id}, []string{"new", "keep", " "}, []string{"old"})
	assert.Equal(t, []string{id}, result.Succeeded)
	assert.Equal(t, []string{"keep", "new"}, e.Summaries()[0].Tags)
}

func TestEngineGridUpdateConfig(t *testing.T) {
	e, _ := newTestEngine(t)

	id := e.CreateInstance()
	rate := 321.0
	result := e.GridUpdateConfig([]string{id, "missing"}, models.PresetSettings{UploadRate: &rate})

	assert.Equal(t, []string{id}, result.Succeeded)
	inst, err := e.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, 321.0, inst.Config.UploadRate)
	assert.Equal(t, 100.0, inst.Config.DownloadRate)
}

func TestEngineImport(t *testing.T) {
	e, _ := newTestEngine(t)

	empty := e.Import(nil, models.GridImportSettings{})
	assert.Equal(t, []string{models.ErrNoFilesSelected}, empty.Errors)

	files := []models.ImportFile{
		{Name: "one.torrent", Data: makeTorrent(t, "one", models.BytesPerMB)},
		{Name: "two.torrent", Data: makeTorrent(t, "two", models.BytesPerMB)},
		{Name: "dupe.torrent", Data: makeTorrent(t, "one", models.BytesPerMB)},
		{Name: "junk.torrent", Data: []byte("junk")},
	}
	result := e.Import(files, models.GridImportSettings{
		Tags:      []string{"bulk"},
		Mode:      models.GridMode{Kind: models.GridModeLeech},
		AutoStart: true,
	})

	require.Len(t, result.Imported, 2)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "dupe.torrent")
	assert.Contains(t, result.Errors[1], "junk.torrent")

	summaries := e.Summaries()
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.Equal(t, models.StateRunning, s.State)
		assert.Equal(t, []string{"bulk"}, s.Tags)
		assert.Equal(t, 0.0, s.TorrentCompletion)
		assert.Equal(t, int64(models.BytesPerMB), s.Left)
	}
}

func TestEngineImportFolder(t *testing.T) {
	e, _ := newTestEngine(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.torrent"), makeTorrent(t, "b", 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.TORRENT"), makeTorrent(t, "a", 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	result := e.ImportFolder(dir, models.GridImportSettings{})
	require.Len(t, result.Imported, 2)
	assert.Equal(t, "a", result.Imported[0].Name)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 100.0, e.Summaries()[0].TorrentCompletion)

	missing := e.ImportFolder(filepath.Join(dir, "nope"), models.GridImportSettings{})
	assert.Empty(t, missing.Imported)
	require.Len(t, missing.Errors, 1)

	emptyDir := e.ImportFolder(t.TempDir(), models.GridImportSettings{})
	require.Len(t, emptyDir.Errors, 1)
	assert.Contains(t, emptyDir.Errors[0], "no torrent files")
}

func TestEngineSnapshotRestore(t *testing.T) {
	e, _ := newTestEngine(t)

	id := e.CreateInstance()
	_, err := e.LoadTorrent(id, models.TorrentSource{Data: makeTorrent(t, "persist.iso", models.BytesPerMB)})
	require.NoError(t, err)
	require.NoError(t, e.SetTags(id, []string{"keep"}))
	require.NoError(t, e.Start(id))

	state := e.Snapshot()
	require.Len(t, state.Instances, 1)
	assert.Equal(t, StateVersion, state.Version)
	assert.Equal(t, models.FakerRunning, state.Instances[0].State)

	restored, _ := newTestEngine(t)
	wasRunning, err := restored.Restore(state.Instances[0])
	require.NoError(t, err)
	assert.True(t, wasRunning)

	summary := restored.Summaries()[0]
	assert.Equal(t, id, summary.ID)
	assert.Equal(t, "persist.iso", summary.Name)
	assert.Equal(t, []string{"keep"}, summary.Tags)
	assert.Equal(t, models.StateStopped, summary.State)

	_, err = restored.Restore(state.Instances[0])
	require.Error(t, err)
}

func TestProgressiveRate(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  int64
		duration int64
		want     float64
	}{
		{name: "start", elapsed: 0, duration: 100, want: 10},
		{name: "halfway", elapsed: 50, duration: 100, want: 55},
		{name: "done", elapsed: 150, duration: 100, want: 100},
		{name: "zero duration", elapsed: 0, duration: 0, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, progressiveRate(10, 100, tt.elapsed, tt.duration), 0.0001)
		})
	}
}
