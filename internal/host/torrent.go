// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"bytes"
	"os"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

// ParseTorrent decodes a .torrent file.
func ParseTorrent(data []byte) (*models.TorrentInfo, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode torrent")
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, errors.Wrap(err, "decode torrent info")
	}

	if info.Name == "" {
		return nil, errors.New("torrent has no name")
	}

	fileCount := len(info.Files)
	if fileCount == 0 {
		fileCount = 1
	}

	return &models.TorrentInfo{
		Name:         info.Name,
		InfoHash:     mi.HashInfoBytes().HexString(),
		TotalSize:    info.TotalLength(),
		PieceLength:  info.PieceLength,
		NumPieces:    info.NumPieces(),
		Announce:     mi.Announce,
		AnnounceList: mi.AnnounceList,
		IsSingleFile: len(info.Files) == 0,
		FileCount:    fileCount,
	}, nil
}

func readTorrent(src models.TorrentSource) ([]byte, error) {
	if len(src.Data) > 0 {
		return src.Data, nil
	}
	if src.Path == "" {
		return nil, errors.New("torrent source is empty")
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read torrent %s", src.Path)
	}
	return data, nil
}
