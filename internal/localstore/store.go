// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package localstore is a string key/value store with the semantics of browser
// local storage, kept in sqlite.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/autobrr/ratiosync/internal/dbinterface"
)

// Memory opens a private in-memory store.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS items (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path. Pass Memory for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create local storage dir")
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open local storage")
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping local storage")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate local storage")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetItem returns the value stored under key and whether it exists.
func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM items WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get item %s", key)
	}
	return value, true, nil
}

// SetItem stores value under key, replacing any previous value.
func (s *Store) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO items(key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return errors.Wrapf(err, "set item %s", key)
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	return s.RemoveItems(ctx, key)
}

// RemoveItems deletes every listed key. Missing keys are ignored.
func (s *Store) RemoveItems(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin remove items")
	}
	defer tx.Rollback()

	err = dbinterface.Chunk(keys, func(chunk []string) error {
		return removeChunk(ctx, tx, chunk)
	})
	if err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit remove items")
}

func removeChunk(ctx context.Context, tx dbinterface.TxQuerier, keys []string) error {
	query := "DELETE FROM items WHERE key IN " + dbinterface.InClause(len(keys))
	if _, err := tx.ExecContext(ctx, query, dbinterface.Args(keys)...); err != nil {
		return errors.Wrap(err, "remove items")
	}
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM items WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escaped+"%")
	if err != nil {
		return nil, errors.Wrap(err, "list keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "iterate keys")
}
