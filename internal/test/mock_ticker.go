// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package test provides helpers for testing the bitrate controllers and the
// components that drive them.
package test

import (
	"time"
)

// MockTicker is a helper to replace time.Ticker for testing purposes.
type MockTicker struct {
	C chan time.Time
}

// NewMockTicker returns a MockTicker with an unbuffered channel, so every
// Tick blocks until the loop under test has consumed it.
func NewMockTicker() *MockTicker {
	return &MockTicker{C: make(chan time.Time)}
}

// Stop stops the MockTicker.
func (t *MockTicker) Stop() {
}

// Ch returns the tickers channel
func (t *MockTicker) Ch() <-chan time.Time {
	return t.C
}

// Tick sends now to the channel
func (t *MockTicker) Tick(now time.Time) {
	t.C <- now
}
