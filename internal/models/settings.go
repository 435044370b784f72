// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "math"

const (
	BytesPerMB = 1024 * 1024
	BytesPerGB = 1024 * 1024 * 1024
	SecsPerHr  = 3600
)

// InstanceConfig is the backend's view of an instance configuration.
// Byte thresholds are bytes, durations are seconds and rates are KB/s.
type InstanceConfig struct {
	UploadRate          float64    `json:"upload_rate"`
	DownloadRate        float64    `json:"download_rate"`
	Port                int        `json:"port"`
	ClientType          ClientType `json:"client_type"`
	ClientVersion       string     `json:"client_version,omitempty"`
	InitialUploaded     int64      `json:"initial_uploaded"`
	InitialDownloaded   int64      `json:"initial_downloaded"`
	CompletionPercent   float64    `json:"completion_percent"`
	NumWant             int        `json:"num_want"`
	RandomizeRates      bool       `json:"randomize_rates"`
	RandomRangePercent  float64    `json:"random_range_percent"`
	StopAtRatio         *float64   `json:"stop_at_ratio,omitempty"`
	StopAtUploaded      *int64     `json:"stop_at_uploaded,omitempty"`
	StopAtDownloaded    *int64     `json:"stop_at_downloaded,omitempty"`
	StopAtSeedTime      *int64     `json:"stop_at_seed_time,omitempty"`
	IdleWhenNoLeechers  bool       `json:"idle_when_no_leechers"`
	IdleWhenNoSeeders   bool       `json:"idle_when_no_seeders"`
	ScrapeInterval      int64      `json:"scrape_interval"`
	ProgressiveRates    bool       `json:"progressive_rates"`
	TargetUploadRate    *float64   `json:"target_upload_rate,omitempty"`
	TargetDownloadRate  *float64   `json:"target_download_rate,omitempty"`
	ProgressiveDuration int64      `json:"progressive_duration"`
}

// DefaultInstanceConfig mirrors the backend defaults for a freshly created instance.
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		UploadRate:          50,
		DownloadRate:        100,
		Port:                6881,
		ClientType:          ClientQBittorrent,
		NumWant:             50,
		RandomizeRates:      true,
		RandomRangePercent:  20,
		ScrapeInterval:      60,
		ProgressiveDuration: 3600,
	}
}

// Settings is the editable configuration of an instance in display units.
type Settings struct {
	UploadRate               float64    `json:"uploadRate"`
	DownloadRate             float64    `json:"downloadRate"`
	Port                     int        `json:"port"`
	SelectedClient           ClientType `json:"selectedClient"`
	SelectedClientVersion    string     `json:"selectedClientVersion"`
	CompletionPercent        float64    `json:"completionPercent"`
	RandomizeRates           bool       `json:"randomizeRates"`
	RandomRangePercent       float64    `json:"randomRangePercent"`
	StopAtRatioEnabled       bool       `json:"stopAtRatioEnabled"`
	StopAtRatio              float64    `json:"stopAtRatio"`
	StopAtUploadedEnabled    bool       `json:"stopAtUploadedEnabled"`
	StopAtUploadedGB         float64    `json:"stopAtUploadedGB"`
	StopAtDownloadedEnabled  bool       `json:"stopAtDownloadedEnabled"`
	StopAtDownloadedGB       float64    `json:"stopAtDownloadedGB"`
	StopAtSeedTimeEnabled    bool       `json:"stopAtSeedTimeEnabled"`
	StopAtSeedTimeHours      float64    `json:"stopAtSeedTimeHours"`
	IdleWhenNoLeechers       bool       `json:"idleWhenNoLeechers"`
	IdleWhenNoSeeders        bool       `json:"idleWhenNoSeeders"`
	ProgressiveRatesEnabled  bool       `json:"progressiveRatesEnabled"`
	TargetUploadRate         float64    `json:"targetUploadRate"`
	TargetDownloadRate       float64    `json:"targetDownloadRate"`
	ProgressiveDurationHours float64    `json:"progressiveDurationHours"`
	ScrapeInterval           int64      `json:"scrapeInterval"`
}

// BuiltinDefaults are the settings used when no preset has been saved.
func BuiltinDefaults() Settings {
	return Settings{
		UploadRate:               50,
		DownloadRate:             100,
		Port:                     6881,
		SelectedClient:           ClientQBittorrent,
		SelectedClientVersion:    "5.1.4",
		CompletionPercent:        0,
		RandomizeRates:           true,
		RandomRangePercent:       20,
		StopAtRatio:              2,
		StopAtUploadedGB:         10,
		StopAtDownloadedGB:       10,
		StopAtSeedTimeHours:      24,
		TargetUploadRate:         100,
		TargetDownloadRate:       200,
		ProgressiveDurationHours: 1,
		ScrapeInterval:           60,
	}
}

// ToConfig converts display settings into the backend configuration.
// Cumulative counters are whole MB carried across sessions.
func (s Settings) ToConfig(cumulativeUploadedMB, cumulativeDownloadedMB int64) InstanceConfig {
	cfg := InstanceConfig{
		UploadRate:          s.UploadRate,
		DownloadRate:        s.DownloadRate,
		Port:                s.Port,
		ClientType:          s.SelectedClient,
		ClientVersion:       NormalizeClientVersion(s.SelectedClient, s.SelectedClientVersion),
		InitialUploaded:     MBToBytes(cumulativeUploadedMB),
		InitialDownloaded:   MBToBytes(cumulativeDownloadedMB),
		CompletionPercent:   clampPercent(s.CompletionPercent),
		NumWant:             50,
		RandomizeRates:      s.RandomizeRates,
		RandomRangePercent:  s.RandomRangePercent,
		IdleWhenNoLeechers:  s.IdleWhenNoLeechers,
		IdleWhenNoSeeders:   s.IdleWhenNoSeeders,
		ScrapeInterval:      s.ScrapeInterval,
		ProgressiveRates:    s.ProgressiveRatesEnabled,
		ProgressiveDuration: HoursToSeconds(s.ProgressiveDurationHours),
	}

	if cfg.ClientType == "" {
		cfg.ClientType = ClientQBittorrent
	}
	if cfg.ScrapeInterval <= 0 {
		cfg.ScrapeInterval = 60
	}

	if s.StopAtRatioEnabled {
		cfg.StopAtRatio = ptr(s.StopAtRatio)
	}
	if s.StopAtUploadedEnabled {
		cfg.StopAtUploaded = ptr(GBToBytes(s.StopAtUploadedGB))
	}
	if s.StopAtDownloadedEnabled {
		cfg.StopAtDownloaded = ptr(GBToBytes(s.StopAtDownloadedGB))
	}
	if s.StopAtSeedTimeEnabled {
		cfg.StopAtSeedTime = ptr(HoursToSeconds(s.StopAtSeedTimeHours))
	}
	if s.ProgressiveRatesEnabled {
		cfg.TargetUploadRate = ptr(s.TargetUploadRate)
		cfg.TargetDownloadRate = ptr(s.TargetDownloadRate)
	}

	return cfg
}

// SettingsFromConfig is the inverse of ToConfig. Absent thresholds keep the
// built-in default value with the enabled flag cleared.
func SettingsFromConfig(cfg InstanceConfig) Settings {
	s := BuiltinDefaults()
	s.UploadRate = cfg.UploadRate
	s.DownloadRate = cfg.DownloadRate
	s.Port = cfg.Port
	s.SelectedClient = cfg.ClientType
	s.SelectedClientVersion = NormalizeClientVersion(cfg.ClientType, cfg.ClientVersion)
	s.CompletionPercent = cfg.CompletionPercent
	s.RandomizeRates = cfg.RandomizeRates
	s.RandomRangePercent = cfg.RandomRangePercent
	s.IdleWhenNoLeechers = cfg.IdleWhenNoLeechers
	s.IdleWhenNoSeeders = cfg.IdleWhenNoSeeders
	s.ProgressiveRatesEnabled = cfg.ProgressiveRates
	if cfg.ProgressiveDuration > 0 {
		s.ProgressiveDurationHours = SecondsToHours(cfg.ProgressiveDuration)
	}
	if cfg.ScrapeInterval > 0 {
		s.ScrapeInterval = cfg.ScrapeInterval
	}

	if cfg.StopAtRatio != nil {
		s.StopAtRatioEnabled = true
		s.StopAtRatio = *cfg.StopAtRatio
	}
	if cfg.StopAtUploaded != nil {
		s.StopAtUploadedEnabled = true
		s.StopAtUploadedGB = BytesToGB(*cfg.StopAtUploaded)
	}
	if cfg.StopAtDownloaded != nil {
		s.StopAtDownloadedEnabled = true
		s.StopAtDownloadedGB = BytesToGB(*cfg.StopAtDownloaded)
	}
	if cfg.StopAtSeedTime != nil {
		s.StopAtSeedTimeEnabled = true
		s.StopAtSeedTimeHours = SecondsToHours(*cfg.StopAtSeedTime)
	}
	if cfg.TargetUploadRate != nil {
		s.TargetUploadRate = *cfg.TargetUploadRate
	}
	if cfg.TargetDownloadRate != nil {
		s.TargetDownloadRate = *cfg.TargetDownloadRate
	}

	return s
}

// PresetSettings is a partial Settings overlay. Nil fields are left untouched by Apply.
type PresetSettings struct {
	UploadRate               *float64    `json:"uploadRate,omitempty" yaml:"uploadRate,omitempty"`
	DownloadRate             *float64    `json:"downloadRate,omitempty" yaml:"downloadRate,omitempty"`
	Port                     *int        `json:"port,omitempty" yaml:"port,omitempty"`
	SelectedClient           *ClientType `json:"selectedClient,omitempty" yaml:"selectedClient,omitempty"`
	SelectedClientVersion    *string     `json:"selectedClientVersion,omitempty" yaml:"selectedClientVersion,omitempty"`
	CompletionPercent        *float64    `json:"completionPercent,omitempty" yaml:"completionPercent,omitempty"`
	RandomizeRates           *bool       `json:"randomizeRates,omitempty" yaml:"randomizeRates,omitempty"`
	RandomRangePercent       *float64    `json:"randomRangePercent,omitempty" yaml:"randomRangePercent,omitempty"`
	StopAtRatioEnabled       *bool       `json:"stopAtRatioEnabled,omitempty" yaml:"stopAtRatioEnabled,omitempty"`
	StopAtRatio              *float64    `json:"stopAtRatio,omitempty" yaml:"stopAtRatio,omitempty"`
	StopAtUploadedEnabled    *bool       `json:"stopAtUploadedEnabled,omitempty" yaml:"stopAtUploadedEnabled,omitempty"`
	StopAtUploadedGB         *float64    `json:"stopAtUploadedGB,omitempty" yaml:"stopAtUploadedGB,omitempty"`
	StopAtDownloadedEnabled  *bool       `json:"stopAtDownloadedEnabled,omitempty" yaml:"stopAtDownloadedEnabled,omitempty"`
	StopAtDownloadedGB       *float64    `json:"stopAtDownloadedGB,omitempty" yaml:"stopAtDownloadedGB,omitempty"`
	StopAtSeedTimeEnabled    *bool       `json:"stopAtSeedTimeEnabled,omitempty" yaml:"stopAtSeedTimeEnabled,omitempty"`
	StopAtSeedTimeHours      *float64    `json:"stopAtSeedTimeHours,omitempty" yaml:"stopAtSeedTimeHours,omitempty"`
	IdleWhenNoLeechers       *bool       `json:"idleWhenNoLeechers,omitempty" yaml:"idleWhenNoLeechers,omitempty"`
	IdleWhenNoSeeders        *bool       `json:"idleWhenNoSeeders,omitempty" yaml:"idleWhenNoSeeders,omitempty"`
	ProgressiveRatesEnabled  *bool       `json:"progressiveRatesEnabled,omitempty" yaml:"progressiveRatesEnabled,omitempty"`
	TargetUploadRate         *float64    `json:"targetUploadRate,omitempty" yaml:"targetUploadRate,omitempty"`
	TargetDownloadRate       *float64    `json:"targetDownloadRate,omitempty" yaml:"targetDownloadRate,omitempty"`
	ProgressiveDurationHours *float64    `json:"progressiveDurationHours,omitempty" yaml:"progressiveDurationHours,omitempty"`
}

// Apply overlays the preset onto base.
func (p PresetSettings) Apply(base Settings) Settings {
	out := base
	setIf(&out.UploadRate, p.UploadRate)
	setIf(&out.DownloadRate, p.DownloadRate)
	setIf(&out.Port, p.Port)
	setIf(&out.SelectedClient, p.SelectedClient)
	setIf(&out.SelectedClientVersion, p.SelectedClientVersion)
	setIf(&out.CompletionPercent, p.CompletionPercent)
	setIf(&out.RandomizeRates, p.RandomizeRates)
	setIf(&out.RandomRangePercent, p.RandomRangePercent)
	setIf(&out.StopAtRatioEnabled, p.StopAtRatioEnabled)
	setIf(&out.StopAtRatio, p.StopAtRatio)
	setIf(&out.StopAtUploadedEnabled, p.StopAtUploadedEnabled)
	setIf(&out.StopAtUploadedGB, p.StopAtUploadedGB)
	setIf(&out.StopAtDownloadedEnabled, p.StopAtDownloadedEnabled)
	setIf(&out.StopAtDownloadedGB, p.StopAtDownloadedGB)
	setIf(&out.StopAtSeedTimeEnabled, p.StopAtSeedTimeEnabled)
	setIf(&out.StopAtSeedTimeHours, p.StopAtSeedTimeHours)
	setIf(&out.IdleWhenNoLeechers, p.IdleWhenNoLeechers)
	setIf(&out.IdleWhenNoSeeders, p.IdleWhenNoSeeders)
	setIf(&out.ProgressiveRatesEnabled, p.ProgressiveRatesEnabled)
	setIf(&out.TargetUploadRate, p.TargetUploadRate)
	setIf(&out.TargetDownloadRate, p.TargetDownloadRate)
	setIf(&out.ProgressiveDurationHours, p.ProgressiveDurationHours)
	return out
}

// PresetFromSettings captures every field of s.
func PresetFromSettings(s Settings) PresetSettings {
	return PresetSettings{
		UploadRate:               ptr(s.UploadRate),
		DownloadRate:             ptr(s.DownloadRate),
		Port:                     ptr(s.Port),
		SelectedClient:           ptr(s.SelectedClient),
		SelectedClientVersion:    ptr(s.SelectedClientVersion),
		CompletionPercent:        ptr(s.CompletionPercent),
		RandomizeRates:           ptr(s.RandomizeRates),
		RandomRangePercent:       ptr(s.RandomRangePercent),
		StopAtRatioEnabled:       ptr(s.StopAtRatioEnabled),
		StopAtRatio:              ptr(s.StopAtRatio),
		StopAtUploadedEnabled:    ptr(s.StopAtUploadedEnabled),
		StopAtUploadedGB:         ptr(s.StopAtUploadedGB),
		StopAtDownloadedEnabled:  ptr(s.StopAtDownloadedEnabled),
		StopAtDownloadedGB:       ptr(s.StopAtDownloadedGB),
		StopAtSeedTimeEnabled:    ptr(s.StopAtSeedTimeEnabled),
		StopAtSeedTimeHours:      ptr(s.StopAtSeedTimeHours),
		IdleWhenNoLeechers:       ptr(s.IdleWhenNoLeechers),
		IdleWhenNoSeeders:        ptr(s.IdleWhenNoSeeders),
		ProgressiveRatesEnabled:  ptr(s.ProgressiveRatesEnabled),
		TargetUploadRate:         ptr(s.TargetUploadRate),
		TargetDownloadRate:       ptr(s.TargetDownloadRate),
		ProgressiveDurationHours: ptr(s.ProgressiveDurationHours),
	}
}

func MBToBytes(mb int64) int64 { return mb * BytesPerMB }

// BytesToMB rounds to the nearest whole MB.
func BytesToMB(b int64) int64 { return int64(math.Round(float64(b) / BytesPerMB)) }

func GBToBytes(gb float64) int64 { return int64(gb * BytesPerGB) }

func BytesToGB(b int64) float64 { return float64(b) / BytesPerGB }

func HoursToSeconds(h float64) int64 { return int64(h * SecsPerHr) }

func SecondsToHours(s int64) float64 { return float64(s) / SecsPerHr }

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func ptr[T any](v T) *T { return &v }

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
