// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

// TorrentInfo describes a parsed .torrent file.
type TorrentInfo struct {
	Name         string     `json:"name"`
	InfoHash     string     `json:"info_hash"`
	TotalSize    int64      `json:"total_size"`
	PieceLength  int64      `json:"piece_length"`
	NumPieces    int        `json:"num_pieces"`
	Announce     string     `json:"announce"`
	AnnounceList [][]string `json:"announce_list,omitempty"`
	IsSingleFile bool       `json:"is_single_file"`
	FileCount    int        `json:"file_count"`
}

// TorrentSource locates a torrent either on disk or in memory.
type TorrentSource struct {
	Path string `json:"path,omitempty"`
	Data []byte `json:"data,omitempty"`
}

func (s TorrentSource) IsZero() bool {
	return s.Path == "" && len(s.Data) == 0
}
