// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "slices"

// Source records how an instance came into existence.
type Source string

const (
	SourceManual      Source = "manual"
	SourceWatchFolder Source = "watch_folder"
)

// ParseSource defaults unknown values to manual.
func ParseSource(v string) Source {
	if Source(v) == SourceWatchFolder {
		return SourceWatchFolder
	}
	return SourceManual
}

type StatusType string

const (
	StatusIdle    StatusType = "idle"
	StatusRunning StatusType = "running"
	StatusPaused  StatusType = "paused"
	StatusWarning StatusType = "warning"
	StatusError   StatusType = "error"
)

// UIStatus is the status line shown for an instance.
type UIStatus struct {
	Message string     `json:"message"`
	Type    StatusType `json:"type"`
	Icon    string     `json:"icon"`
}

const TorrentReloadWarning = "Torrent could not be reloaded, please select it again"

// StatusFor derives the status projection from runtime flags.
func StatusFor(isRunning, isPaused bool) UIStatus {
	switch {
	case isPaused:
		return UIStatus{Message: "Paused", Type: StatusPaused, Icon: "pause"}
	case isRunning:
		return UIStatus{Message: "Running", Type: StatusRunning, Icon: "play"}
	default:
		return UIStatus{Message: "Ready to start", Type: StatusIdle, Icon: "pause"}
	}
}

func WarningStatus(message string) UIStatus {
	return UIStatus{Message: message, Type: StatusWarning, Icon: "alert"}
}

// Instance is one record of the standard view.
type Instance struct {
	ID          string       `json:"id"`
	Torrent     *TorrentInfo `json:"torrent,omitempty"`
	TorrentPath string       `json:"torrentPath,omitempty"`
	// TorrentData is only retained on runtimes without stable file paths.
	TorrentData []byte   `json:"-"`
	Settings    Settings `json:"settings"`
	IsRunning   bool     `json:"isRunning"`
	IsPaused    bool     `json:"isPaused"`
	Source      Source   `json:"source"`
	Tags        []string `json:"tags,omitempty"`

	CumulativeUploadedMB   int64 `json:"cumulativeUploaded"`
	CumulativeDownloadedMB int64 `json:"cumulativeDownloaded"`

	Status UIStatus `json:"status"`
}

// Clone returns a copy that shares no mutable state with i.
func (i Instance) Clone() Instance {
	out := i
	if i.Torrent != nil {
		t := *i.Torrent
		t.AnnounceList = slices.Clone(i.Torrent.AnnounceList)
		out.Torrent = &t
	}
	out.TorrentData = slices.Clone(i.TorrentData)
	out.Tags = slices.Clone(i.Tags)
	return out
}

// TorrentName is the display name of the attached torrent, if any.
func (i Instance) TorrentName() string {
	if i.Torrent == nil {
		return ""
	}
	return i.Torrent.Name
}

// ApplyRuntime sets the runtime flags and recomputes the status.
// A warning status is kept while the instance is not running.
func (i *Instance) ApplyRuntime(isRunning, isPaused bool) {
	i.IsRunning = isRunning
	i.IsPaused = isPaused
	if i.Status.Type == StatusWarning && !isRunning {
		return
	}
	i.Status = StatusFor(isRunning, isPaused)
}
