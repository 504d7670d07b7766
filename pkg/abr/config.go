// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import (
	"errors"
	"fmt"
	"time"
)

const (
	// BitPerSecond is a data rate of 1 bit per second.
	BitPerSecond = 1
	// KiloBitPerSecond is a data rate of 1 kilobit per second.
	KiloBitPerSecond = 1000 * BitPerSecond
	// MegaBitPerSecond is a data rate of 1 megabit per second.
	MegaBitPerSecond = 1000 * KiloBitPerSecond
)

var (
	// ErrInvalidIntervalDuration indicates a non-positive sampling interval.
	ErrInvalidIntervalDuration = errors.New("interval duration must be positive")
	// ErrInvalidTestDuration indicates a run shorter than one interval.
	ErrInvalidTestDuration = errors.New("test duration must span at least one interval")
	// ErrInvalidLoweringFraction indicates a lowering factor outside (0, 1].
	ErrInvalidLoweringFraction = errors.New("lowering fraction must be in (0, 1]")
	// ErrUnknownNetworkType indicates a network type name that can't be parsed.
	ErrUnknownNetworkType = errors.New("unknown network type")
)

// BitrateForNetwork returns the bitrate in bits per second a stream starts
// with after switching to the given network.
type BitrateForNetwork func(NetworkType) int

// DefaultBitrateForNetwork is the built-in table of starting bitrates.
func DefaultBitrateForNetwork(t NetworkType) int {
	switch t {
	case NetworkWiFi:
		return 3 * MegaBitPerSecond
	case NetworkCellular4G:
		return 2 * MegaBitPerSecond
	default:
		return 1 * MegaBitPerSecond
	}
}

// Config holds the tunables of a Controller.
type Config struct {
	// Length of a foreground sampling run.
	TestDuration time.Duration
	// Length of one throughput sample inside a run.
	IntervalDuration time.Duration
	// Warm-up after a run starts during which frames are ignored, to skip
	// transport slow-start.
	InitialDelay time.Duration
	// Default factor applied to congestion estimates.
	LoweringFraction float64
	// Floor of the adjustable lowering factor.
	MinLoweringFactor float64
	// Amount the lowering factor drops on repeated congestion.
	LoweringStep float64
	// Buffer fill ratio above which a congestion signal is considered.
	CongestionThreshold float64
	// Extra spacing between congestion runs on top of TestDuration.
	CongestionCooldown time.Duration
	// A congestion run admitted within this window after the earliest
	// allowed start lowers the lowering factor.
	HysteresisWindow time.Duration
	// Starting bitrate per network.
	BitrateForNetwork BitrateForNetwork
}

// DefaultConfig returns the configuration the controller uses when none is
// given.
func DefaultConfig() Config {
	return Config{
		TestDuration:        8 * time.Second,
		IntervalDuration:    time.Second,
		InitialDelay:        time.Second,
		LoweringFraction:    0.9,
		MinLoweringFactor:   0.5,
		LoweringStep:        0.1,
		CongestionThreshold: 0.2,
		CongestionCooldown:  10 * time.Second,
		HysteresisWindow:    20 * time.Second,
		BitrateForNetwork:   DefaultBitrateForNetwork,
	}
}

func validateRun(testDuration, intervalDuration time.Duration) error {
	if intervalDuration <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidIntervalDuration, intervalDuration)
	}
	if testDuration < intervalDuration {
		return fmt.Errorf("%w: %v < %v", ErrInvalidTestDuration, testDuration, intervalDuration)
	}

	return nil
}

func (c Config) validate() error {
	if err := validateRun(c.TestDuration, c.IntervalDuration); err != nil {
		return err
	}
	if c.LoweringFraction <= 0 || c.LoweringFraction > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidLoweringFraction, c.LoweringFraction)
	}
	if c.MinLoweringFactor <= 0 || c.MinLoweringFactor > c.LoweringFraction {
		return fmt.Errorf("%w: floor %v", ErrInvalidLoweringFraction, c.MinLoweringFactor)
	}

	return nil
}

func (c Config) samplerConfig(endless, applyLowering bool, loweringFactor float64) SamplerConfig {
	return SamplerConfig{
		TestDuration:     c.TestDuration,
		IntervalDuration: c.IntervalDuration,
		InitialDelay:     c.InitialDelay,
		Endless:          endless,
		ApplyLowering:    applyLowering,
		LoweringFactor:   loweringFactor,
	}
}
