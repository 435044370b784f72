// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session saves and restores the standard view's instance
// configuration so it survives restarts.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

// Entry is the saved configuration of one instance.
type Entry struct {
	TorrentPath string
	TorrentName string
	// TorrentData is only kept by substrates that cannot re-open paths.
	TorrentData            []byte
	Settings               models.Settings
	CumulativeUploadedMB   int64
	CumulativeDownloadedMB int64
}

// Source returns where the entry's torrent can be reloaded from.
func (e Entry) Source() models.TorrentSource {
	return models.TorrentSource{Path: e.TorrentPath, Data: e.TorrentData}
}

// Session is a saved snapshot of the standard view.
type Session struct {
	Entries     []Entry
	ActiveIndex int
}

// Snapshot captures the configuration of instances. The active index falls
// back to 0 when activeID is unknown.
func Snapshot(instances []models.Instance, activeID string) Session {
	s := Session{Entries: make([]Entry, 0, len(instances))}
	for i, inst := range instances {
		if inst.ID == activeID {
			s.ActiveIndex = i
		}
		s.Entries = append(s.Entries, Entry{
			TorrentPath:            inst.TorrentPath,
			TorrentName:            inst.TorrentName(),
			TorrentData:            inst.TorrentData,
			Settings:               inst.Settings,
			CumulativeUploadedMB:   inst.CumulativeUploadedMB,
			CumulativeDownloadedMB: inst.CumulativeDownloadedMB,
		})
	}
	return s
}

type substrate interface {
	save(ctx context.Context, s Session) error
	load(ctx context.Context) (*Session, error)
}

// Adapter persists sessions through one substrate. Saves never overlap: a
// save requested while another is in flight is dropped.
type Adapter struct {
	sub     substrate
	saving  sync.Mutex
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newAdapter(sub substrate, name string, m *metrics.Metrics) *Adapter {
	return &Adapter{
		sub:     sub,
		metrics: m,
		logger:  log.Logger.With().Str("module", "session").Str("substrate", name).Logger(),
	}
}

// ForBackend picks the substrate matching the backend's runtime. The server
// runtime shares the browser substrate because its client keeps local storage.
func ForBackend(b backend.Backend, kv KV, m *metrics.Metrics) (*Adapter, error) {
	switch b.Runtime() {
	case backend.RuntimeDesktop:
		host, ok := b.(backend.ConfigHost)
		if !ok {
			return nil, errors.New("desktop backend does not expose a config host")
		}
		return NewDesktop(host, m), nil
	case backend.RuntimeBrowser, backend.RuntimeServer:
		if kv == nil {
			return nil, errors.Errorf("%s runtime needs local storage", b.Runtime())
		}
		return NewBrowser(kv, m), nil
	default:
		return nil, errors.Errorf("unknown runtime %q", b.Runtime())
	}
}

// Save writes a snapshot of instances. It reports false when the save was
// dropped because another one was running.
func (a *Adapter) Save(ctx context.Context, instances []models.Instance, activeID string) (bool, error) {
	if !a.saving.TryLock() {
		a.metrics.ObserveSave(metrics.ResultDropped)
		a.logger.Trace().Msg("save already in progress, dropping")
		return false, nil
	}
	defer a.saving.Unlock()

	if err := a.sub.save(ctx, Snapshot(instances, activeID)); err != nil {
		a.metrics.ObserveSave(metrics.ResultError)
		return false, errors.Wrap(err, "save session")
	}
	a.metrics.ObserveSave(metrics.ResultOK)
	return true, nil
}

// Load returns the saved session, or nil when nothing was saved.
func (a *Adapter) Load(ctx context.Context) (*Session, error) {
	s, err := a.sub.load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if s != nil && (s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Entries)) {
		s.ActiveIndex = 0
	}
	return s, nil
}
