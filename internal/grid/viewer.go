// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/backend"
	"github.com/autobrr/ratiosync/internal/metrics"
	"github.com/autobrr/ratiosync/internal/models"
)

type ViewerOptions struct {
	PollInterval  time.Duration
	CoalesceDelay time.Duration
	Syncer        StateSyncer
	Metrics       *metrics.Metrics
}

// Viewer is a live grid: it polls the backend, refreshes on instance events
// and keeps the filters, sort and selection of one view.
type Viewer struct {
	store     *Store
	selection *Selection
	bulk      *Coordinator
	coalescer *Coalescer

	mu      sync.RWMutex
	filters Filters
	sorting Sort

	cancel      context.CancelFunc
	unsubscribe func()
	done        sync.WaitGroup
	closeOnce   sync.Once
}

// NewViewer starts polling and listening for events. Close releases both.
func NewViewer(ctx context.Context, b backend.Backend, opts ViewerOptions) (*Viewer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultViewPollInterval
	}

	ctx, cancel := context.WithCancel(ctx)

	v := &Viewer{
		store:     NewStore(b, opts.Metrics),
		selection: NewSelection(),
		cancel:    cancel,
	}
	v.bulk = NewCoordinator(b, v.store, v.selection, v.visible, opts.Syncer, opts.Metrics)
	v.coalescer = NewCoalescer(opts.CoalesceDelay, func() {
		if _, err := v.store.Fetch(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "grid").Msg("failed to refresh after event")
		}
	})

	unsubscribe, err := b.Subscribe(ctx, v.coalescer.Handle)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "subscribe to instance events")
	}
	v.unsubscribe = unsubscribe

	v.done.Add(1)
	go func() {
		defer v.done.Done()
		v.store.Run(ctx, opts.PollInterval)
	}()

	return v, nil
}

func (v *Viewer) Store() *Store                     { return v.store }
func (v *Viewer) Selection() *Selection             { return v.selection }
func (v *Viewer) Coordinator() *Coordinator         { return v.bulk }
func (v *Viewer) Refresh(ctx context.Context) error { return v.store.Refetch(ctx, nil) }

// SetFilters replaces the filters and keeps the sort. An expression that
// does not compile is rejected and the previous filters stay.
func (v *Viewer) SetFilters(f Filters) error {
	return v.SetView(f, v.Sort())
}

func (v *Viewer) Filters() Filters {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filters
}

// SetView replaces filters and sort together. Nothing changes unless both
// are valid.
func (v *Viewer) SetView(f Filters, s Sort) error {
	if s.Direction != "" && s.Direction != SortAsc && s.Direction != SortDesc {
		return errors.Wrap(ErrInvalidDirection, string(s.Direction))
	}
	if s.Column != "" && !ValidColumn(s.Column) {
		return errors.Wrap(ErrUnknownColumn, s.Column)
	}
	if f.Expr != "" {
		if _, err := CompileExpr(f.Expr); err != nil {
			return err
		}
	}
	if s.Direction == "" {
		s.Direction = SortAsc
	}
	v.mu.Lock()
	v.filters = f
	v.sorting = s
	v.mu.Unlock()
	return nil
}

func (v *Viewer) ToggleSort(column string) (Sort, error) {
	if !ValidColumn(column) {
		return Sort{}, errors.Wrap(ErrUnknownColumn, column)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sorting = v.sorting.Toggle(column)
	return v.sorting, nil
}

func (v *Viewer) Sort() Sort {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sorting
}

// Rows returns the filtered and sorted rows.
func (v *Viewer) Rows() ([]models.InstanceSummary, error) {
	v.mu.RLock()
	filters, sorting := v.filters, v.sorting
	v.mu.RUnlock()
	return Apply(v.store.Rows(), filters, sorting)
}

func (v *Viewer) visible() []models.InstanceSummary {
	rows, err := v.Rows()
	if err != nil {
		return nil
	}
	return rows
}

// Visible is the current view, or nothing when the filters cannot apply.
func (v *Viewer) Visible() []models.InstanceSummary { return v.visible() }

// Close stops polling, unsubscribes and cancels any pending refresh. No
// refresh runs after it returns.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		if v.unsubscribe != nil {
			v.unsubscribe()
		}
		v.coalescer.Stop()
		v.done.Wait()
	})
}
