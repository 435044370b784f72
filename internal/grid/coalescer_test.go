// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package grid

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/ratiosync/internal/models"
)

func TestCoalescerBurstFiresOnce(t *testing.T) {
	var fired atomic.Int32
	c := NewCoalescer(DefaultCoalesceDelay, func() { fired.Add(1) })
	defer c.Stop()

	for range 5 {
		c.Handle(models.InstanceEvent{Type: models.EventStateChanged, ID: "a"})
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(2 * DefaultCoalesceDelay)
	assert.EqualValues(t, 1, fired.Load())
}

func TestCoalescerIgnoresOtherEvents(t *testing.T) {
	var fired atomic.Int32
	c := NewCoalescer(10*time.Millisecond, func() { fired.Add(1) })
	defer c.Stop()

	c.Handle(models.InstanceEvent{Type: "stats", ID: "a"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestCoalescerStopCancelsPending(t *testing.T) {
	var fired atomic.Int32
	c := NewCoalescer(20*time.Millisecond, func() { fired.Add(1) })

	c.Trigger()
	c.Stop()
	c.Trigger()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
