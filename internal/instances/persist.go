// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package instances

import (
	"context"
	"time"

	"github.com/autobrr/ratiosync/internal/session"
)

const saveTimeout = 10 * time.Second

// PersistOnChange saves a session snapshot after every change of store.
// Saves that overlap one in flight are dropped by the adapter. Failures are
// logged and never undo the change that triggered them.
func PersistOnChange(store *Store, adapter *session.Adapter) func() {
	return store.Subscribe(func(Change) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		records, active := store.Snapshot()
		if _, err := adapter.Save(ctx, records, active); err != nil {
			store.logger.Warn().Err(err).Msg("failed to persist session")
		}
	})
}
