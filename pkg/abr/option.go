// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import (
	"github.com/pion/abr/internal/clock"
	"github.com/pion/logging"
)

// Option can be used to configure a Controller.
type Option func(*Controller) error

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(c *Controller) error {
		if err := config.validate(); err != nil {
			return err
		}
		if config.BitrateForNetwork == nil {
			config.BitrateForNetwork = DefaultBitrateForNetwork
		}
		c.config = config

		return nil
	}
}

// WithLoggerFactory sets a logger factory for the controller and its
// samplers.
func WithLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(c *Controller) error {
		c.loggerFactory = loggerFactory

		return nil
	}
}

// WithObserver registers an observer of controller decisions.
func WithObserver(observer Observer) Option {
	return func(c *Controller) error {
		if observer != nil {
			c.observer = observer
		}

		return nil
	}
}

// WithByteCounter makes every sampler measure throughput from the host's
// transmit counter instead of the reported frame sizes.
func WithByteCounter(counter ByteCounter) Option {
	return func(c *Controller) error {
		c.byteCounter = counter

		return nil
	}
}

func withClock(clk clock.Clock) Option {
	return func(c *Controller) error {
		c.clock = clk

		return nil
	}
}
