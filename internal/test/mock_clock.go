// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package test

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/abr/internal/clock"
)

// MockClock is a manually advanced clock.Clock. Timers fire synchronously
// from Advance, on the goroutine calling it.
type MockClock struct {
	lock   sync.Mutex
	now    time.Time
	timers []*mockTimer
}

// NewMockClock returns a MockClock set to start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now implements clock.Clock.
func (c *MockClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.now
}

// AfterFunc implements clock.Clock.
func (c *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.lock.Lock()
	defer c.lock.Unlock()

	t := &mockTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *MockClock) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.timers)
}

// Advance moves the clock forward by d, firing every timer whose deadline
// is reached in deadline order. Timers scheduled by a firing callback are
// honored if they fall within the same advance.
func (c *MockClock) Advance(d time.Duration) {
	c.lock.Lock()
	target := c.now.Add(d)
	c.lock.Unlock()

	for {
		c.lock.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
			c.now = target
			c.lock.Unlock()

			return
		}
		next := c.timers[0]
		c.timers = c.timers[1:]
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.lock.Unlock()

		next.f()
	}
}

func (c *MockClock) remove(t *mockTimer) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)

			return true
		}
	}

	return false
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	f        func()
}

func (t *mockTimer) Stop() bool {
	return t.clock.remove(t)
}
