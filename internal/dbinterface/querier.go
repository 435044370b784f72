// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the small query helpers shared by sqlite-backed stores.
package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLite has SQLITE_MAX_VARIABLE_NUMBER limit (default 999).
// We stay conservative at 900.
const MaxParams = 900

// TxQuerier is satisfied by both *sql.DB and *sql.Tx.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BuildQueryWithPlaceholders expands the single %s in template into rows groups
// of argsPerRow placeholders, e.g. "(?,?),(?,?)".
func BuildQueryWithPlaceholders(template string, argsPerRow, rows int) string {
	if argsPerRow <= 0 || rows <= 0 {
		return fmt.Sprintf(template, "")
	}

	group := "(" + strings.TrimSuffix(strings.Repeat("?,", argsPerRow), ",") + ")"

	var sb strings.Builder
	sb.Grow(rows * (len(group) + 1))
	for i := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(group)
	}
	return fmt.Sprintf(template, sb.String())
}

// InClause returns "(?,?,?)" for n values.
func InClause(n int) string {
	if n <= 0 {
		return "()"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

// Chunk calls fn for consecutive slices of values no larger than MaxParams.
func Chunk[T any](values []T, fn func([]T) error) error {
	for i := 0; i < len(values); i += MaxParams {
		end := min(i+MaxParams, len(values))
		if err := fn(values[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// Args converts values to the variadic form database/sql expects.
func Args[T any](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
