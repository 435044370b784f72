// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/models"
)

// Browser is an in-process engine without persistence of its own. File paths
// cannot be re-opened, so torrents are only accepted as bytes.
type Browser struct {
	local
}

func NewBrowser(engine *host.Engine) *Browser {
	if engine == nil {
		engine = host.NewEngine()
	}
	return &Browser{local: local{engine: engine}}
}

func (b *Browser) Runtime() Runtime { return RuntimeBrowser }

func (b *Browser) LoadInstanceTorrent(ctx context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	if len(src.Data) == 0 {
		return nil, errors.Wrap(ErrUnsupported, "browser runtime loads torrents from bytes only")
	}
	return b.local.LoadInstanceTorrent(ctx, id, models.TorrentSource{Data: src.Data})
}

func (b *Browser) GridImportFolder(context.Context, string, models.GridImportSettings) (models.GridImportResult, error) {
	return models.GridImportResult{}, ErrUnsupported
}

var _ Backend = (*Browser)(nil)
