// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"sync"
	"time"

	"github.com/autobrr/ratiosync/internal/models"
)

const DefaultCoalesceDelay = 200 * time.Millisecond

// Coalescer collapses bursts of triggers into one call of fire, delay after
// the last trigger of the burst.
type Coalescer struct {
	delay time.Duration
	fire  func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
	running sync.WaitGroup
}

func NewCoalescer(delay time.Duration, fire func()) *Coalescer {
	if delay <= 0 {
		delay = DefaultCoalesceDelay
	}
	return &Coalescer{delay: delay, fire: fire}
}

// Handle triggers on events that change the set of rows or their state.
func (c *Coalescer) Handle(ev models.InstanceEvent) {
	switch ev.Type {
	case models.EventCreated, models.EventDeleted, models.EventStateChanged:
		c.Trigger()
	}
}

func (c *Coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.delay, func() { c.run(gen) })
}

func (c *Coalescer) run(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.running.Add(1)
	c.mu.Unlock()

	defer c.running.Done()
	c.fire()
}

// Stop cancels a pending call and waits for one in progress. Nothing fires
// after Stop returns.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.running.Wait()
}
