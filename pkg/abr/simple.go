// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import (
	"sync"

	"github.com/pion/logging"
)

const (
	simpleSamplesPerDecision = 5
	simpleDecreaseThreshold  = 0.9
	simpleDecreaseFactor     = 0.9
	simpleIncreaseFactor     = 1.1
)

// SimpleOption can be used to configure a SimpleAdaptiveController.
type SimpleOption func(*SimpleAdaptiveController) error

// SimpleLog sets a logger for the controller.
func SimpleLog(log logging.LeveledLogger) SimpleOption {
	return func(c *SimpleAdaptiveController) error {
		c.log = log

		return nil
	}
}

// SimpleObserver registers an observer of bitrate updates. Only
// OnBitrateUpdate is called.
func SimpleObserver(observer Observer) SimpleOption {
	return func(c *SimpleAdaptiveController) error {
		if observer != nil {
			c.observer = observer
		}

		return nil
	}
}

// SimpleAdaptiveController adapts the bitrate from externally measured
// bitrate samples. Every five samples it compares their running average
// with the previous target: it jumps to the maximum when the link keeps up
// with it, backs off 10% below the average when the average falls clearly
// below the target, and otherwise probes 10% above the average.
type SimpleAdaptiveController struct {
	lock sync.Mutex
	log  logging.LeveledLogger

	observer Observer
	onUpdate func(bitrate int)

	maxBitrate     int
	previousTarget int
	average        exponentialMovingAverage
	samples        int
}

// NewSimpleAdaptiveController returns a controller with no maximum
// bitrate. It does not emit updates until SetMaxBitrate is called.
func NewSimpleAdaptiveController(opts ...SimpleOption) (*SimpleAdaptiveController, error) {
	c := &SimpleAdaptiveController{
		observer: noOpObserver{},
		average:  exponentialMovingAverage{alpha: 0.5},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.log == nil {
		c.log = logging.NewDefaultLoggerFactory().NewLogger("abr_simple")
	}

	return c, nil
}

// OnBitrateUpdate sets the callback invoked with every new target bitrate.
func (c *SimpleAdaptiveController) OnBitrateUpdate(f func(bitrate int)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onUpdate = f
}

// SetMaxBitrate sets the ceiling and the initial target, and discards the
// samples collected so far.
func (c *SimpleAdaptiveController) SetMaxBitrate(bitrate int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.maxBitrate = bitrate
	c.previousTarget = bitrate
	c.resetLocked()
}

// GetTargetBitrate returns the current target.
func (c *SimpleAdaptiveController) GetTargetBitrate() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.previousTarget
}

// OnBitrateSample feeds one measured bitrate in bits per second.
func (c *SimpleAdaptiveController) OnBitrateSample(bitrate int) {
	c.lock.Lock()
	c.average.update(float64(bitrate))
	c.samples++
	if c.samples < simpleSamplesPerDecision || c.maxBitrate == 0 {
		c.lock.Unlock()

		return
	}

	target := c.adaptLocked(c.average.average)
	c.resetLocked()
	onUpdate := c.onUpdate
	c.lock.Unlock()

	c.observer.OnBitrateUpdate(UpdateSimpleAdaptation, target)
	if onUpdate != nil {
		onUpdate(target)
	}
}

func (c *SimpleAdaptiveController) adaptLocked(average float64) int {
	switch {
	case average >= float64(c.maxBitrate):
		c.previousTarget = c.maxBitrate
		c.log.Debugf("keeping max bitrate %d", c.previousTarget)
	case average <= simpleDecreaseThreshold*float64(c.previousTarget):
		c.previousTarget = int(average * simpleDecreaseFactor)
		c.log.Debugf("bitrate reduced to %d", c.previousTarget)
	default:
		c.previousTarget = min(int(average*simpleIncreaseFactor), c.maxBitrate)
		c.log.Debugf("bitrate increased to %d", c.previousTarget)
	}

	return c.previousTarget
}

func (c *SimpleAdaptiveController) resetLocked() {
	c.average.reset()
	c.samples = 0
}
