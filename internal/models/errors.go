// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "errors"

var (
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrWatchFolderInstance = errors.New("cannot delete watch folder instance, delete the torrent file from the watch folder instead or use force delete")
	ErrNoTorrent           = errors.New("no torrent loaded")
	ErrInvalidTransition   = errors.New("invalid state transition")
)
