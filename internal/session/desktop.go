// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

// NewDesktop stores sessions in the desktop host's config document, in bytes
// and seconds, without torrent binaries.
func NewDesktop(host backend.ConfigHost, m *metrics.Metrics) *Adapter {
	return newAdapter(&desktopSubstrate{host: host}, "desktop", m)
}

type desktopSubstrate struct {
	host backend.ConfigHost
}

func (d *desktopSubstrate) save(ctx context.Context, s Session) error {
	cfg, err := d.host.GetConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Instances = make([]models.HostInstanceConfig, 0, len(s.Entries))
	for _, e := range s.Entries {
		cfg.Instances = append(cfg.Instances, toHostEntry(e))
	}
	index := s.ActiveIndex
	cfg.ActiveInstanceIndex = &index
	return d.host.UpdateConfig(ctx, cfg)
}

func (d *desktopSubstrate) load(ctx context.Context) (*Session, error) {
	cfg, err := d.host.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Instances) == 0 {
		return nil, nil
	}

	s := &Session{Entries: make([]Entry, 0, len(cfg.Instances))}
	for _, h := range cfg.Instances {
		s.Entries = append(s.Entries, fromHostEntry(h))
	}
	if cfg.ActiveInstanceIndex != nil {
		s.ActiveIndex = *cfg.ActiveInstanceIndex
	}
	return s, nil
}

func toHostEntry(e Entry) models.HostInstanceConfig {
	s := e.Settings
	return models.HostInstanceConfig{
		TorrentPath:             e.TorrentPath,
		TorrentName:             e.TorrentName,
		SelectedClient:          string(s.SelectedClient),
		SelectedClientVersion:   s.SelectedClientVersion,
		UploadRate:              &s.UploadRate,
		DownloadRate:            &s.DownloadRate,
		Port:                    &s.Port,
		CompletionPercent:       &s.CompletionPercent,
		RandomizeRates:          &s.RandomizeRates,
		RandomRangePercent:      &s.RandomRangePercent,
		StopAtRatioEnabled:      &s.StopAtRatioEnabled,
		StopAtRatio:             &s.StopAtRatio,
		StopAtUploadedEnabled:   &s.StopAtUploadedEnabled,
		StopAtUploaded:          ref(models.GBToBytes(s.StopAtUploadedGB)),
		StopAtDownloadedEnabled: &s.StopAtDownloadedEnabled,
		StopAtDownloaded:        ref(models.GBToBytes(s.StopAtDownloadedGB)),
		StopAtSeedTimeEnabled:   &s.StopAtSeedTimeEnabled,
		StopAtSeedTime:          ref(models.HoursToSeconds(s.StopAtSeedTimeHours)),
		IdleWhenNoLeechers:      &s.IdleWhenNoLeechers,
		IdleWhenNoSeeders:       &s.IdleWhenNoSeeders,
		ProgressiveRatesEnabled: &s.ProgressiveRatesEnabled,
		TargetUploadRate:        &s.TargetUploadRate,
		TargetDownloadRate:      &s.TargetDownloadRate,
		ProgressiveDuration:     ref(models.HoursToSeconds(s.ProgressiveDurationHours)),
		ScrapeInterval:          &s.ScrapeInterval,
		CumulativeUploaded:      ref(models.MBToBytes(e.CumulativeUploadedMB)),
		CumulativeDownloaded:    ref(models.MBToBytes(e.CumulativeDownloadedMB)),
	}
}

func fromHostEntry(h models.HostInstanceConfig) Entry {
	s := models.BuiltinDefaults()
	if h.SelectedClient != "" {
		s.SelectedClient = models.ClientType(h.SelectedClient)
	}
	if h.SelectedClientVersion != "" {
		s.SelectedClientVersion = h.SelectedClientVersion
	}
	set(&s.UploadRate, h.UploadRate)
	set(&s.DownloadRate, h.DownloadRate)
	set(&s.Port, h.Port)
	set(&s.CompletionPercent, h.CompletionPercent)
	set(&s.RandomizeRates, h.RandomizeRates)
	set(&s.RandomRangePercent, h.RandomRangePercent)
	set(&s.StopAtRatioEnabled, h.StopAtRatioEnabled)
	set(&s.StopAtRatio, h.StopAtRatio)
	set(&s.StopAtUploadedEnabled, h.StopAtUploadedEnabled)
	if h.StopAtUploaded != nil {
		s.StopAtUploadedGB = models.BytesToGB(*h.StopAtUploaded)
	}
	set(&s.StopAtDownloadedEnabled, h.StopAtDownloadedEnabled)
	if h.StopAtDownloaded != nil {
		s.StopAtDownloadedGB = models.BytesToGB(*h.StopAtDownloaded)
	}
	set(&s.StopAtSeedTimeEnabled, h.StopAtSeedTimeEnabled)
	if h.StopAtSeedTime != nil {
		s.StopAtSeedTimeHours = models.SecondsToHours(*h.StopAtSeedTime)
	}
	set(&s.IdleWhenNoLeechers, h.IdleWhenNoLeechers)
	set(&s.IdleWhenNoSeeders, h.IdleWhenNoSeeders)
	set(&s.ProgressiveRatesEnabled, h.ProgressiveRatesEnabled)
	set(&s.TargetUploadRate, h.TargetUploadRate)
	set(&s.TargetDownloadRate, h.TargetDownloadRate)
	if h.ProgressiveDuration != nil {
		s.ProgressiveDurationHours = models.SecondsToHours(*h.ProgressiveDuration)
	}
	set(&s.ScrapeInterval, h.ScrapeInterval)

	e := Entry{TorrentPath: h.TorrentPath, TorrentName: h.TorrentName, Settings: s}
	if h.CumulativeUploaded != nil {
		e.CumulativeUploadedMB = models.BytesToMB(*h.CumulativeUploaded)
	}
	if h.CumulativeDownloaded != nil {
		e.CumulativeDownloadedMB = models.BytesToMB(*h.CumulativeDownloaded)
	}
	return e
}

func ref[T any](v T) *T { return &v }

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
