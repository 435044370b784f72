// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backendtest

import (
	"bytes"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/require"
)

// MakeTorrent builds an in-memory single file torrent of size bytes.
func MakeTorrent(tb testing.TB, name string, size int64) []byte {
	tb.Helper()

	const pieceLength = 16384
	numPieces := (size + pieceLength - 1) / pieceLength
	infoBytes, err := bencode.Marshal(metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
		Length:      size,
		Pieces:      make([]byte, 20*numPieces),
	})
	require.NoError(tb, err)

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
	}

	var buf bytes.Buffer
	require.NoError(tb, mi.Write(&buf))
	return buf.Bytes()
}
