// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

// StorageKey is the local storage key holding the browser session document.
const StorageKey = "ratiosync.session.v1"

const documentVersion = 1

// KV is the local key/value storage used by browser and server clients.
type KV interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
}

// NewBrowser stores sessions as one JSON document in kv, in display units.
// Torrent binaries are kept compressed since there is no path to re-open.
func NewBrowser(kv KV, m *metrics.Metrics) *Adapter {
	return newAdapter(&browserSubstrate{kv: kv}, "browser", m)
}

type browserEntry struct {
	models.PresetSettings
	ScrapeInterval       *int64 `json:"scrapeInterval,omitempty"`
	CumulativeUploaded   int64  `json:"cumulativeUploaded"`
	CumulativeDownloaded int64  `json:"cumulativeDownloaded"`
	TorrentPath          string `json:"torrentPath,omitempty"`
	TorrentName          string `json:"torrentName,omitempty"`
	TorrentData          string `json:"torrentData,omitempty"`
}

type browserDocument struct {
	Version             int            `json:"version"`
	Instances           []browserEntry `json:"instances"`
	ActiveInstanceIndex int            `json:"activeInstanceIndex"`
}

type browserSubstrate struct {
	kv KV
}

func (b *browserSubstrate) save(ctx context.Context, s Session) error {
	doc, err := encodeDocument(s)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return b.kv.SetItem(ctx, StorageKey, string(data))
}

func (b *browserSubstrate) load(ctx context.Context) (*Session, error) {
	raw, ok, err := b.kv.GetItem(ctx, StorageKey)
	if err != nil || !ok {
		return nil, err
	}

	var doc browserDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if len(doc.Instances) == 0 {
		return nil, nil
	}
	return decodeDocument(doc), nil
}

func encodeDocument(s Session) (browserDocument, error) {
	doc := browserDocument{
		Version:             documentVersion,
		Instances:           make([]browserEntry, 0, len(s.Entries)),
		ActiveInstanceIndex: s.ActiveIndex,
	}
	for _, e := range s.Entries {
		data, err := compressTorrent(e.TorrentData)
		if err != nil {
			return browserDocument{}, err
		}
		doc.Instances = append(doc.Instances, browserEntry{
			PresetSettings:       models.PresetFromSettings(e.Settings),
			ScrapeInterval:       ref(e.Settings.ScrapeInterval),
			CumulativeUploaded:   e.CumulativeUploadedMB,
			CumulativeDownloaded: e.CumulativeDownloadedMB,
			TorrentPath:          e.TorrentPath,
			TorrentName:          e.TorrentName,
			TorrentData:          data,
		})
	}
	return doc, nil
}

// decodeDocument keeps an entry whose torrent data cannot be decoded, without
// the data, so one damaged binary does not cost the whole session.
func decodeDocument(doc browserDocument) *Session {
	s := &Session{Entries: make([]Entry, 0, len(doc.Instances)), ActiveIndex: doc.ActiveInstanceIndex}
	for i, be := range doc.Instances {
		settings := be.PresetSettings.Apply(models.BuiltinDefaults())
		set(&settings.ScrapeInterval, be.ScrapeInterval)

		data, err := decompressTorrent(be.TorrentData)
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Int("instance", i).Str("torrent", be.TorrentName).Msg("dropping unreadable torrent data")
			data = nil
		}
		s.Entries = append(s.Entries, Entry{
			TorrentPath:            be.TorrentPath,
			TorrentName:            be.TorrentName,
			TorrentData:            data,
			Settings:               settings,
			CumulativeUploadedMB:   be.CumulativeUploaded,
			CumulativeDownloadedMB: be.CumulativeDownloaded,
		})
	}
	return s
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func compressTorrent(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(encoder.EncodeAll(data, nil)), nil
}

func decompressTorrent(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode torrent data")
	}
	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompress torrent data")
	}
	return data, nil
}
