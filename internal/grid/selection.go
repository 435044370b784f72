// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"slices"
	"sync"

	"github.com/autobrr/ratiosync/internal/models"
)

// Selection is the set of selected row ids. Operations that take a view act
// only on the rows of that view, so hidden rows keep their selection.
type Selection struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	anchor string
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Selection) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Scoped returns the selected ids present in view, in view order.
func (s *Selection) Scoped(view []models.InstanceSummary) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for _, row := range view {
		if _, ok := s.ids[row.ID]; ok {
			out = append(out, row.ID)
		}
	}
	return out
}

func (s *Selection) SelectAll(view []models.InstanceSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range view {
		s.ids[row.ID] = struct{}{}
	}
}

func (s *Selection) DeselectAll(view []models.InstanceSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range view {
		delete(s.ids, row.ID)
	}
}

func (s *Selection) Invert(view []models.InstanceSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range view {
		if _, ok := s.ids[row.ID]; ok {
			delete(s.ids, row.ID)
		} else {
			s.ids[row.ID] = struct{}{}
		}
	}
}

// Click toggles id. With shift and an anchor in view it selects the whole
// range between the anchor and id instead.
func (s *Selection) Click(view []models.InstanceSummary, id string, shift bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := slices.IndexFunc(view, func(row models.InstanceSummary) bool { return row.ID == id })
	if target < 0 {
		return
	}

	if shift && s.anchor != "" {
		anchor := slices.IndexFunc(view, func(row models.InstanceSummary) bool { return row.ID == s.anchor })
		if anchor >= 0 {
			lo, hi := min(anchor, target), max(anchor, target)
			for _, row := range view[lo : hi+1] {
				s.ids[row.ID] = struct{}{}
			}
			return
		}
	}

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	s.anchor = id
}

// SelectByState replaces the selection within view with the rows in state.
func (s *Selection) SelectByState(view []models.InstanceSummary, state models.LifecycleState) {
	s.selectWhere(view, func(row models.InstanceSummary) bool { return row.State == state })
}

// SelectByTag replaces the selection within view with the rows carrying tag.
func (s *Selection) SelectByTag(view []models.InstanceSummary, tag string) {
	s.selectWhere(view, func(row models.InstanceSummary) bool { return slices.Contains(row.Tags, tag) })
}

func (s *Selection) selectWhere(view []models.InstanceSummary, match func(models.InstanceSummary) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range view {
		if match(row) {
			s.ids[row.ID] = struct{}{}
		} else {
			delete(s.ids, row.ID)
		}
	}
}

// Prune drops ids from the selection.
func (s *Selection) Prune(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
		if s.anchor == id {
			s.anchor = ""
		}
	}
}
