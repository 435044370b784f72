// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

// HostConfig is the desktop host's configuration document. Only the session
// fields are modelled; every field is optional.
type HostConfig struct {
	Instances           []HostInstanceConfig `json:"instances" toml:"instances"`
	ActiveInstanceIndex *int                 `json:"active_instance_index,omitempty" toml:"active_instance_index,omitempty"`
}

// HostInstanceConfig is one saved instance in backend units: bytes and seconds.
// Torrent binaries are never stored, only the path they were loaded from.
type HostInstanceConfig struct {
	TorrentPath             string   `json:"torrent_path,omitempty" toml:"torrent_path,omitempty"`
	TorrentName             string   `json:"torrent_name,omitempty" toml:"torrent_name,omitempty"`
	SelectedClient          string   `json:"selected_client,omitempty" toml:"selected_client,omitempty"`
	SelectedClientVersion   string   `json:"selected_client_version,omitempty" toml:"selected_client_version,omitempty"`
	UploadRate              *float64 `json:"upload_rate,omitempty" toml:"upload_rate,omitempty"`
	DownloadRate            *float64 `json:"download_rate,omitempty" toml:"download_rate,omitempty"`
	Port                    *int     `json:"port,omitempty" toml:"port,omitempty"`
	CompletionPercent       *float64 `json:"completion_percent,omitempty" toml:"completion_percent,omitempty"`
	RandomizeRates          *bool    `json:"randomize_rates,omitempty" toml:"randomize_rates,omitempty"`
	RandomRangePercent      *float64 `json:"random_range_percent,omitempty" toml:"random_range_percent,omitempty"`
	StopAtRatioEnabled      *bool    `json:"stop_at_ratio_enabled,omitempty" toml:"stop_at_ratio_enabled,omitempty"`
	StopAtRatio             *float64 `json:"stop_at_ratio,omitempty" toml:"stop_at_ratio,omitempty"`
	StopAtUploadedEnabled   *bool    `json:"stop_at_uploaded_enabled,omitempty" toml:"stop_at_uploaded_enabled,omitempty"`
	StopAtUploaded          *int64   `json:"stop_at_uploaded,omitempty" toml:"stop_at_uploaded,omitempty"`
	StopAtDownloadedEnabled *bool    `json:"stop_at_downloaded_enabled,omitempty" toml:"stop_at_downloaded_enabled,omitempty"`
	StopAtDownloaded        *int64   `json:"stop_at_downloaded,omitempty" toml:"stop_at_downloaded,omitempty"`
	StopAtSeedTimeEnabled   *bool    `json:"stop_at_seed_time_enabled,omitempty" toml:"stop_at_seed_time_enabled,omitempty"`
	StopAtSeedTime          *int64   `json:"stop_at_seed_time,omitempty" toml:"stop_at_seed_time,omitempty"`
	IdleWhenNoLeechers      *bool    `json:"idle_when_no_leechers,omitempty" toml:"idle_when_no_leechers,omitempty"`
	IdleWhenNoSeeders       *bool    `json:"idle_when_no_seeders,omitempty" toml:"idle_when_no_seeders,omitempty"`
	ProgressiveRatesEnabled *bool    `json:"progressive_rates_enabled,omitempty" toml:"progressive_rates_enabled,omitempty"`
	TargetUploadRate        *float64 `json:"target_upload_rate,omitempty" toml:"target_upload_rate,omitempty"`
	TargetDownloadRate      *float64 `json:"target_download_rate,omitempty" toml:"target_download_rate,omitempty"`
	ProgressiveDuration     *int64   `json:"progressive_duration,omitempty" toml:"progressive_duration,omitempty"`
	ScrapeInterval          *int64   `json:"scrape_interval,omitempty" toml:"scrape_interval,omitempty"`
	CumulativeUploaded      *int64   `json:"cumulative_uploaded,omitempty" toml:"cumulative_uploaded,omitempty"`
	CumulativeDownloaded    *int64   `json:"cumulative_downloaded,omitempty" toml:"cumulative_downloaded,omitempty"`
}
