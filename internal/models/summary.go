// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "strings"

// LifecycleState is the grid-facing state of an instance.
type LifecycleState string

const (
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateIdle     LifecycleState = "idle"
	StatePaused   LifecycleState = "paused"
	StateStopping LifecycleState = "stopping"
	StateStopped  LifecycleState = "stopped"
)

var LifecycleStates = []LifecycleState{StateStarting, StateRunning, StateIdle, StatePaused, StateStopping, StateStopped}

// ParseLifecycleState accepts any casing and reports whether the value is known.
func ParseLifecycleState(v string) (LifecycleState, bool) {
	s := LifecycleState(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range LifecycleStates {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// FakerState is the backend engine's lifecycle name.
type FakerState string

const (
	FakerIdle     FakerState = "Idle"
	FakerStarting FakerState = "Starting"
	FakerRunning  FakerState = "Running"
	FakerStopping FakerState = "Stopping"
	FakerPaused   FakerState = "Paused"
	FakerStopped  FakerState = "Stopped"
)

// MapRuntimeState is the fixed table used wherever backend state is projected
// onto a record: running and paused map to themselves, everything else is idle.
func MapRuntimeState(state string) LifecycleState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "running":
		return StateRunning
	case "paused":
		return StatePaused
	default:
		return StateIdle
	}
}

// RuntimeFlags returns the isRunning/isPaused pair for a mapped state.
func RuntimeFlags(state LifecycleState) (isRunning, isPaused bool) {
	switch state {
	case StateRunning:
		return true, false
	case StatePaused:
		return true, true
	default:
		return false, false
	}
}

// SummaryState derives the grid state from engine stats.
func SummaryState(state FakerState, isIdling bool) LifecycleState {
	switch {
	case state == FakerPaused:
		return StatePaused
	case isIdling || state == FakerIdle:
		return StateIdle
	case state == FakerStarting:
		return StateStarting
	case state == FakerRunning:
		return StateRunning
	case state == FakerStopping:
		return StateStopping
	default:
		return StateStopped
	}
}

// InstanceSummary is one grid row.
type InstanceSummary struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	InfoHash            string         `json:"infoHash"`
	State               LifecycleState `json:"state"`
	Tags                []string       `json:"tags"`
	TotalSize           int64          `json:"totalSize"`
	Uploaded            int64          `json:"uploaded"`
	Downloaded          int64          `json:"downloaded"`
	Ratio               float64        `json:"ratio"`
	CurrentUploadRate   float64        `json:"currentUploadRate"`
	CurrentDownloadRate float64        `json:"currentDownloadRate"`
	Seeders             int64          `json:"seeders"`
	Leechers            int64          `json:"leechers"`
	Left                int64          `json:"left"`
	TorrentCompletion   float64        `json:"torrentCompletion"`
	Source              Source         `json:"source"`
	CreatedAt           int64          `json:"createdAt"`
}

// InstanceStats is the backend's runtime counters for one instance.
type InstanceStats struct {
	State               FakerState `json:"state"`
	Uploaded            int64      `json:"uploaded"`
	Downloaded          int64      `json:"downloaded"`
	Ratio               float64    `json:"ratio"`
	Left                int64      `json:"left"`
	TorrentCompletion   float64    `json:"torrent_completion"`
	Seeders             int64      `json:"seeders"`
	Leechers            int64      `json:"leechers"`
	IsIdling            bool       `json:"is_idling"`
	IdlingReason        string     `json:"idling_reason,omitempty"`
	SessionUploaded     int64      `json:"session_uploaded"`
	SessionDownloaded   int64      `json:"session_downloaded"`
	SessionRatio        float64    `json:"session_ratio"`
	ElapsedSeconds      int64      `json:"elapsed_seconds"`
	CurrentUploadRate   float64    `json:"current_upload_rate"`
	CurrentDownloadRate float64    `json:"current_download_rate"`
}

// ServerInstance is the authoritative backend representation of an instance.
type ServerInstance struct {
	ID        string         `json:"id"`
	Torrent   *TorrentInfo   `json:"torrent,omitempty"`
	Config    InstanceConfig `json:"config"`
	Stats     InstanceStats  `json:"stats"`
	CreatedAt int64          `json:"created_at"`
	Source    Source         `json:"source"`
	Tags      []string       `json:"tags"`
}
