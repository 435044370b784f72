// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"

	"github.com/autobrr/ratiosync/internal/models"
)

// Filters narrow the rows. Empty fields match everything; set fields intersect.
type Filters struct {
	Search string `json:"search,omitempty"`
	State  string `json:"state,omitempty"`
	Tag    string `json:"tag,omitempty"`
	// Expr is an expression over the row fields, e.g. `Ratio > 1 && Seeders > 5`.
	Expr string `json:"expr,omitempty"`
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type Sort struct {
	Column    string        `json:"column,omitempty"`
	Direction SortDirection `json:"direction,omitempty"`
}

// Toggle flips the direction when column is already sorted and otherwise
// sorts ascending by column.
func (s Sort) Toggle(column string) Sort {
	if s.Column == column {
		if s.Direction == SortAsc {
			return Sort{Column: column, Direction: SortDesc}
		}
		return Sort{Column: column, Direction: SortAsc}
	}
	return Sort{Column: column, Direction: SortAsc}
}

var (
	ErrUnknownColumn    = errors.New("unknown sort column")
	ErrInvalidDirection = errors.New("sort direction must be asc or desc")
)

type column struct {
	text func(models.InstanceSummary) string
	num  func(models.InstanceSummary) float64
}

var columns = map[string]column{
	"name":         {text: func(r models.InstanceSummary) string { return r.Name }},
	"state":        {text: func(r models.InstanceSummary) string { return string(r.State) }},
	"source":       {text: func(r models.InstanceSummary) string { return string(r.Source) }},
	"infoHash":     {text: func(r models.InstanceSummary) string { return r.InfoHash }},
	"size":         {num: func(r models.InstanceSummary) float64 { return float64(r.TotalSize) }},
	"uploaded":     {num: func(r models.InstanceSummary) float64 { return float64(r.Uploaded) }},
	"downloaded":   {num: func(r models.InstanceSummary) float64 { return float64(r.Downloaded) }},
	"ratio":        {num: func(r models.InstanceSummary) float64 { return r.Ratio }},
	"uploadRate":   {num: func(r models.InstanceSummary) float64 { return r.CurrentUploadRate }},
	"downloadRate": {num: func(r models.InstanceSummary) float64 { return r.CurrentDownloadRate }},
	"seeders":      {num: func(r models.InstanceSummary) float64 { return float64(r.Seeders) }},
	"leechers":     {num: func(r models.InstanceSummary) float64 { return float64(r.Leechers) }},
	"left":         {num: func(r models.InstanceSummary) float64 { return float64(r.Left) }},
	"progress":     {num: func(r models.InstanceSummary) float64 { return r.TorrentCompletion }},
	"createdAt":    {num: func(r models.InstanceSummary) float64 { return float64(r.CreatedAt) }},
}

// ValidColumn reports whether rows can be sorted by name.
func ValidColumn(name string) bool {
	_, ok := columns[name]
	return ok
}

var exprCache = ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(5 * time.Minute))

// CompileExpr compiles a filter expression against the row fields.
func CompileExpr(src string) (*vm.Program, error) {
	if program, ok := exprCache.Get(src); ok {
		return program, nil
	}
	program, err := expr.Compile(src, expr.Env(models.InstanceSummary{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "compile filter %q", src)
	}
	exprCache.Set(src, program, ttlcache.DefaultTTL)
	return program, nil
}

// Apply filters and sorts rows. An empty sort column keeps backend order.
func Apply(rows []models.InstanceSummary, filters Filters, sorting Sort) ([]models.InstanceSummary, error) {
	var program *vm.Program
	if filters.Expr != "" {
		p, err := CompileExpr(filters.Expr)
		if err != nil {
			return nil, err
		}
		program = p
	}

	var col column
	if sorting.Column != "" {
		c, ok := columns[sorting.Column]
		if !ok {
			return nil, errors.Wrap(ErrUnknownColumn, sorting.Column)
		}
		col = c
	}

	fold := cases.Fold()
	search := fold.String(strings.TrimSpace(filters.Search))

	out := make([]models.InstanceSummary, 0, len(rows))
	for _, row := range rows {
		if filters.State != "" && string(row.State) != filters.State {
			continue
		}
		if filters.Tag != "" && !slices.Contains(row.Tags, filters.Tag) {
			continue
		}
		if search != "" && !matchesSearch(fold, row, search) {
			continue
		}
		if program != nil {
			result, err := expr.Run(program, row)
			if err != nil {
				continue
			}
			if ok, _ := result.(bool); !ok {
				continue
			}
		}
		out = append(out, row)
	}

	if sorting.Column == "" {
		return out, nil
	}

	slices.SortStableFunc(out, func(a, b models.InstanceSummary) int {
		var c int
		if col.text != nil {
			c = strings.Compare(fold.String(col.text(a)), fold.String(col.text(b)))
		} else {
			c = cmp.Compare(col.num(a), col.num(b))
		}
		if sorting.Direction == SortDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func matchesSearch(fold cases.Caser, row models.InstanceSummary, search string) bool {
	if strings.Contains(fold.String(row.Name), search) || strings.Contains(fold.String(row.InfoHash), search) {
		return true
	}
	for _, tag := range row.Tags {
		if strings.Contains(fold.String(tag), search) {
			return true
		}
	}
	return false
}
