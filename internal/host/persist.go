// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

const StateVersion = 1

// PersistedInstance is the engine's own record of an instance across restarts.
type PersistedInstance struct {
	ID                   string                `json:"id"`
	Torrent              *models.TorrentInfo   `json:"torrent,omitempty"`
	TorrentData          []byte                `json:"torrent_data,omitempty"`
	TorrentPath          string                `json:"torrent_path,omitempty"`
	Config               models.InstanceConfig `json:"config"`
	CumulativeUploaded   int64                 `json:"cumulative_uploaded"`
	CumulativeDownloaded int64                 `json:"cumulative_downloaded"`
	State                models.FakerState     `json:"state"`
	CreatedAt            int64                 `json:"created_at"`
	Tags                 []string              `json:"tags"`
	Source               models.Source         `json:"source"`
}

// PersistedState is the document written by the desktop host.
type PersistedState struct {
	Version   int                 `json:"version"`
	Instances []PersistedInstance `json:"instances"`
}

// Snapshot captures every instance in creation order.
func (e *Engine) Snapshot() PersistedState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := PersistedState{Version: StateVersion, Instances: make([]PersistedInstance, 0, len(e.order))}
	for _, id := range e.order {
		inst := e.instances[id]
		p := PersistedInstance{
			ID:                   inst.id,
			TorrentPath:          inst.path,
			Config:               inst.config,
			CumulativeUploaded:   inst.stats.Uploaded,
			CumulativeDownloaded: inst.stats.Downloaded,
			State:                inst.state,
			CreatedAt:            inst.createdAt,
			Tags:                 slices.Clone(inst.tags),
			Source:               inst.source,
		}
		if inst.torrent != nil {
			t := *inst.torrent
			p.Torrent = &t
			p.TorrentData = slices.Clone(inst.raw)
		}
		state.Instances = append(state.Instances, p)
	}
	return state
}

// Restore re-creates a persisted instance in the stopped state and reports
// whether it was running when it was persisted.
func (e *Engine) Restore(p PersistedInstance) (bool, error) {
	if p.ID == "" {
		return false, errors.New("persisted instance has no id")
	}

	torrent := p.Torrent
	var raw []byte
	if len(p.TorrentData) > 0 || p.TorrentPath != "" {
		data, err := readTorrent(models.TorrentSource{Path: p.TorrentPath, Data: p.TorrentData})
		if err == nil {
			if parsed, perr := ParseTorrent(data); perr == nil {
				torrent = parsed
				raw = data
			}
		}
	}

	cfg := p.Config
	cfg.InitialUploaded = p.CumulativeUploaded
	cfg.InitialDownloaded = p.CumulativeDownloaded

	inst := &instance{
		id:        p.ID,
		torrent:   torrent,
		raw:       raw,
		path:      p.TorrentPath,
		config:    cfg,
		state:     models.FakerStopped,
		tags:      normalizeTags(p.Tags),
		source:    models.ParseSource(string(p.Source)),
		createdAt: p.CreatedAt,
		stats:     models.InstanceStats{State: models.FakerStopped},
	}
	inst.resetProgress()

	e.mu.Lock()
	if _, exists := e.instances[p.ID]; exists {
		e.mu.Unlock()
		return false, errors.Errorf("instance %s already exists", p.ID)
	}
	e.instances[p.ID] = inst
	e.order = append(e.order, p.ID)
	e.mu.Unlock()

	name := ""
	if torrent != nil {
		name = torrent.Name
	}
	e.emit(models.InstanceEvent{Type: models.EventCreated, ID: p.ID, TorrentName: name})

	wasRunning := p.State == models.FakerRunning || p.State == models.FakerStarting
	return wasRunning && torrent != nil, nil
}
