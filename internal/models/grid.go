// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// GridActionFailure reports why one id of a batch failed.
type GridActionFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// GridActionResult is the per-id outcome of a batched grid call.
type GridActionResult struct {
	Succeeded []string            `json:"succeeded"`
	Failed    []GridActionFailure `json:"failed"`
}

// Fail records a failure for id.
func (r *GridActionResult) Fail(id string, err error) {
	r.Failed = append(r.Failed, GridActionFailure{ID: id, Error: err.Error()})
}

// GridMode sets the completion percentage of imported instances.
type GridMode struct {
	Kind   string  `json:"kind"`
	Custom float64 `json:"custom,omitempty"`
}

const (
	GridModeSeed   = "seed"
	GridModeLeech  = "leech"
	GridModeCustom = "custom"
)

// CompletionPercent is 100 for seed, 0 for leech and the clamped custom value otherwise.
func (m GridMode) CompletionPercent() float64 {
	switch strings.ToLower(m.Kind) {
	case GridModeLeech:
		return 0
	case GridModeCustom:
		return math.Max(0, math.Min(100, m.Custom))
	default:
		return 100
	}
}

// UnmarshalJSON accepts "seed", "leech" or {"custom": 42}.
func (m *GridMode) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		m.Kind = kind
		m.Custom = 0
		return nil
	}

	var custom struct {
		Custom *float64 `json:"custom"`
		Kind   string   `json:"kind"`
	}
	if err := json.Unmarshal(data, &custom); err != nil {
		return errors.Wrap(err, "decode grid mode")
	}
	if custom.Custom != nil {
		m.Kind = GridModeCustom
		m.Custom = *custom.Custom
		return nil
	}
	m.Kind = custom.Kind
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (m GridMode) MarshalJSON() ([]byte, error) {
	if strings.ToLower(m.Kind) == GridModeCustom {
		return json.Marshal(map[string]float64{"custom": m.Custom})
	}
	if m.Kind == "" {
		return json.Marshal(GridModeSeed)
	}
	return json.Marshal(strings.ToLower(m.Kind))
}

// GridImportSettings configures instances created by an import.
type GridImportSettings struct {
	BaseConfig       PresetSettings `json:"baseConfig"`
	Tags             []string       `json:"tags"`
	Mode             GridMode       `json:"mode"`
	AutoStart        bool           `json:"autoStart"`
	StaggerStartSecs *int64         `json:"staggerStartSecs,omitempty"`
	ClientType       *ClientType    `json:"clientType,omitempty"`
	ClientVersion    *string        `json:"clientVersion,omitempty"`
}

// ResolveForInstance folds mode and client overrides into the base preset.
func (s GridImportSettings) ResolveForInstance() PresetSettings {
	out := s.BaseConfig
	out.CompletionPercent = ptr(s.Mode.CompletionPercent())
	if s.ClientType != nil {
		out.SelectedClient = ptr(*s.ClientType)
	}
	if s.ClientVersion != nil {
		out.SelectedClientVersion = ptr(*s.ClientVersion)
	}
	return out
}

// ImportFile is one uploaded .torrent file.
type ImportFile struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type GridImportedInstance struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
}

// GridImportResult lists created instances and per-file problems.
type GridImportResult struct {
	Imported []GridImportedInstance `json:"imported"`
	Errors   []string               `json:"errors"`
}

// ErrNoFilesSelected is reported inside GridImportResult.Errors, never returned.
const ErrNoFilesSelected = "no files selected"

// EventType is the kind of a backend instance event.
type EventType string

const (
	EventCreated      EventType = "created"
	EventDeleted      EventType = "deleted"
	EventStateChanged EventType = "state_changed"
)

// InstanceEvent is pushed by backends when instances appear, disappear or change state.
type InstanceEvent struct {
	Type        EventType `json:"type"`
	ID          string    `json:"id"`
	TorrentName string    `json:"torrent_name,omitempty"`
	InfoHash    string    `json:"info_hash,omitempty"`
	AutoStarted bool      `json:"auto_started,omitempty"`
}
