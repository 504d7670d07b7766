// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package abr implements adaptive bitrate control for live upload streams.
// A Controller keeps a rolling throughput estimate, re-measures the link
// when the network changes or the outbound buffer fills up, and tells the
// encoder which bitrate to produce.
package abr

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/abr/internal/clock"
	"github.com/pion/logging"
)

// foregroundRun is either noActiveRun or runningRun.
type foregroundRun interface {
	isForegroundRun()
}

type noActiveRun struct{}

type runningRun struct {
	sampler *Sampler
	kind    RunKind
}

func (noActiveRun) isForegroundRun() {}
func (runningRun) isForegroundRun()  {}

// Stats is a snapshot of the controller state.
type Stats struct {
	NetworkType      NetworkType
	TargetBitrate    int
	EstimatedBitrate float64
	LoweringFactor   float64
	PriorityInFlight bool
	// ActiveRun is RunBackground when no foreground run is active.
	ActiveRun              RunKind
	ActiveRunID            uuid.UUID
	LastCongestionRunStart time.Time
}

// Controller drives an encoder's bitrate from throughput measurements. It
// owns an always-on background sampler whose median seeds congestion
// recovery, and at most one foreground sampler started by a network change
// or a congestion signal.
type Controller struct {
	lock sync.Mutex
	// emitLock orders delivery of bitrate updates. It is never taken while
	// holding lock.
	emitLock sync.Mutex

	config        Config
	clock         clock.Clock
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
	observer      Observer
	byteCounter   ByteCounter

	onUpdate      func(bitrate int)
	targetBitrate int
	updateSeq     uint64
	deliveredSeq  uint64

	background               *Sampler
	foreground               foregroundRun
	networkType              NetworkType
	estimatedBitrate         float64
	blockingPriorityInFlight bool
	loweringFactor           float64
	lastCongestionRunStart   time.Time
	closed                   bool
}

// NewController returns a Controller and starts its background sampler.
func NewController(opts ...Option) (*Controller, error) {
	c := &Controller{
		config:     DefaultConfig(),
		clock:      clock.New(),
		observer:   noOpObserver{},
		foreground: noActiveRun{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.loggerFactory == nil {
		c.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	c.log = c.loggerFactory.NewLogger("abr_controller")
	c.loweringFactor = c.config.LoweringFraction

	background, err := c.newSampler(c.config.samplerConfig(true, false, 1), c.onBackgroundResult)
	if err != nil {
		return nil, err
	}
	c.background = background
	c.background.Start()
	c.observer.OnRunStarted(RunBackground)

	return c, nil
}

// OnBitrateUpdate sets the callback invoked with every new target bitrate.
// Updates are delivered one at a time in decision order; an update decided
// before one already delivered is dropped. The callback must not call
// OnNetworkTypeChanged or OnCongestion synchronously.
func (c *Controller) OnBitrateUpdate(f func(bitrate int)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onUpdate = f
}

// GetTargetBitrate returns the last emitted bitrate, or 0 if none was
// emitted yet.
func (c *Controller) GetTargetBitrate() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.targetBitrate
}

// GetStats returns a snapshot of the controller state.
func (c *Controller) GetStats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	stats := Stats{
		NetworkType:            c.networkType,
		TargetBitrate:          c.targetBitrate,
		EstimatedBitrate:       c.estimatedBitrate,
		LoweringFactor:         c.loweringFactor,
		PriorityInFlight:       c.blockingPriorityInFlight,
		ActiveRun:              RunBackground,
		LastCongestionRunStart: c.lastCongestionRunStart,
	}
	switch run := c.foreground.(type) {
	case runningRun:
		stats.ActiveRun = run.kind
		stats.ActiveRunID = run.sampler.ID()
	case noActiveRun:
	}

	return stats
}

// OnNetworkTypeChanged re-measures the link after a switch to a different
// network. The network's default bitrate is emitted right away and the
// measured one once the priority run completes. Losing connectivity only
// suspends congestion handling.
func (c *Controller) OnNetworkTypeChanged(networkType NetworkType) {
	c.lock.Lock()
	if c.closed || networkType == c.networkType {
		c.lock.Unlock()

		return
	}
	c.log.Infof("network changed from %v to %v", c.networkType, networkType)
	c.networkType = networkType
	if networkType == NetworkNone {
		c.lock.Unlock()

		return
	}

	c.loweringFactor = c.config.LoweringFraction
	seed := c.config.BitrateForNetwork(networkType)
	if err := c.startForegroundLocked(RunPriority, false); err != nil {
		c.lock.Unlock()
		c.log.Errorf("failed to start priority run: %v", err)

		return
	}
	factor := c.loweringFactor
	seq := c.setTargetLocked(seed)
	c.lock.Unlock()

	c.observer.OnLoweringFactor(factor)
	c.observer.OnRunStarted(RunPriority)
	c.emit(UpdateNetworkDefault, seed, seq)
}

// OnCongestion handles a buffer fill report. It is meant to be called
// repeatedly during a congestion episode; at most one congestion run is
// admitted per cooldown period and none while a priority run is in
// flight.
func (c *Controller) OnCongestion(bufferFill float64) {
	now := c.clock.Now()

	c.lock.Lock()
	if reason, rejected := c.admitCongestionLocked(bufferFill, now); rejected {
		c.lock.Unlock()
		c.log.Tracef("congestion signal %.2f ignored: %v", bufferFill, reason)
		c.observer.OnCongestionRejected(reason)

		return
	}

	seed := 0
	if c.estimatedBitrate > 0 {
		seed = int(math.Round(c.estimatedBitrate * c.loweringFactor))
	}
	if err := c.startForegroundLocked(RunCongestion, true); err != nil {
		c.lock.Unlock()
		c.log.Errorf("failed to start congestion run: %v", err)

		return
	}

	lowered := false
	if !c.lastCongestionRunStart.IsZero() && now.Before(c.nextCongestionRunAllowedLocked().Add(c.config.HysteresisWindow)) {
		c.loweringFactor = math.Max(c.config.MinLoweringFactor, c.loweringFactor-c.config.LoweringStep)
		lowered = true
	}
	c.lastCongestionRunStart = now
	factor := c.loweringFactor
	var seq uint64
	if seed > 0 {
		seq = c.setTargetLocked(seed)
	}
	c.lock.Unlock()

	c.log.Debugf("congestion run started at fill %.2f", bufferFill)
	c.observer.OnRunStarted(RunCongestion)
	if lowered {
		c.log.Debugf("lowering factor reduced to %.2f", factor)
		c.observer.OnLoweringFactor(factor)
	}
	if seed > 0 {
		c.emit(UpdateCongestionSeed, seed, seq)
	}
}

// BeforeFrameSent forwards the event to the active samplers.
func (c *Controller) BeforeFrameSent() {
	foreground, background := c.samplers()
	if foreground != nil {
		foreground.OnBeforeFrame()
	}
	background.OnBeforeFrame()
}

// AfterFrameSent forwards the event to the active samplers.
func (c *Controller) AfterFrameSent(size int) {
	foreground, background := c.samplers()
	if foreground != nil {
		foreground.OnAfterFrame(size)
	}
	background.OnAfterFrame(size)
}

// Close stops all samplers. Events received afterwards are ignored.
func (c *Controller) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancelForegroundLocked()
	c.background.Finish()

	return nil
}

func (c *Controller) samplers() (*Sampler, *Sampler) {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch run := c.foreground.(type) {
	case runningRun:
		return run.sampler, c.background
	case noActiveRun:
	}

	return nil, c.background
}

func (c *Controller) admitCongestionLocked(bufferFill float64, now time.Time) (RejectReason, bool) {
	switch {
	case c.closed:
		return RejectClosed, true
	case bufferFill <= c.config.CongestionThreshold:
		return RejectBelowThreshold, true
	case !c.networkType.Connected():
		return RejectNoNetwork, true
	case c.blockingPriorityInFlight:
		return RejectPriorityInFlight, true
	case !c.lastCongestionRunStart.IsZero() && !now.After(c.nextCongestionRunAllowedLocked()):
		return RejectCooldown, true
	}

	switch run := c.foreground.(type) {
	case runningRun:
		if !run.sampler.Finished() {
			return RejectRunActive, true
		}
	case noActiveRun:
	}

	return 0, false
}

func (c *Controller) nextCongestionRunAllowedLocked() time.Time {
	return c.lastCongestionRunStart.Add(c.config.TestDuration + c.config.CongestionCooldown)
}

// startForegroundLocked cancels the active foreground run, if any, and
// starts a new one of the given kind.
func (c *Controller) startForegroundLocked(kind RunKind, applyLowering bool) error {
	config := c.config.samplerConfig(false, applyLowering, c.loweringFactor)
	sampler, err := c.newSampler(config, func(result Result) {
		c.onForegroundResult(kind, result)
	})
	if err != nil {
		return err
	}

	c.cancelForegroundLocked()
	if kind == RunPriority {
		c.blockingPriorityInFlight = true
	}
	c.foreground = runningRun{sampler: sampler, kind: kind}
	sampler.Start()

	return nil
}

func (c *Controller) cancelForegroundLocked() {
	switch run := c.foreground.(type) {
	case runningRun:
		run.sampler.Finish()
		c.log.Tracef("cancelled %v run %v", run.kind, run.sampler.ID())
	case noActiveRun:
	}
	c.foreground = noActiveRun{}
}

func (c *Controller) newSampler(config SamplerConfig, onResult func(Result)) (*Sampler, error) {
	config.ByteCounter = c.byteCounter

	return NewSampler(config, onResult,
		SamplerLog(c.loggerFactory.NewLogger("abr_sampler")),
		samplerClock(c.clock),
	)
}

func (c *Controller) onForegroundResult(kind RunKind, result Result) {
	c.lock.Lock()
	run, ok := c.foreground.(runningRun)
	if c.closed || !ok || run.sampler.ID() != result.RunID {
		c.lock.Unlock()
		c.log.Debugf("dropping result of superseded %v run %v", kind, result.RunID)

		return
	}
	c.foreground = noActiveRun{}
	if kind == RunPriority {
		c.blockingPriorityInFlight = false
	}
	if result.Bitrate <= 0 {
		c.lock.Unlock()
		c.log.Debugf("%v run %v produced no usable measurement", kind, result.RunID)

		return
	}
	bitrate := int(math.Round(result.Bitrate))
	seq := c.setTargetLocked(bitrate)
	c.lock.Unlock()

	reason := UpdateCongestionResult
	if kind == RunPriority {
		reason = UpdatePriorityResult
	}
	c.emit(reason, bitrate, seq)
}

func (c *Controller) onBackgroundResult(result Result) {
	if result.Bitrate <= 0 {
		return
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()

		return
	}
	c.estimatedBitrate = result.Bitrate
	c.lock.Unlock()

	c.log.Debugf("current estimated bitrate: %.0f bps", result.Bitrate)
	c.observer.OnEstimate(result.Bitrate)
}

// setTargetLocked records bitrate as the target in the same critical
// section that decided it and returns the sequence number to emit it with.
func (c *Controller) setTargetLocked(bitrate int) uint64 {
	c.targetBitrate = bitrate
	c.updateSeq++

	return c.updateSeq
}

func (c *Controller) emit(reason UpdateReason, bitrate int, seq uint64) {
	c.emitLock.Lock()
	defer c.emitLock.Unlock()

	c.lock.Lock()
	if c.closed || seq < c.deliveredSeq {
		c.lock.Unlock()
		c.log.Debugf("dropping superseded bitrate update (%v): %d bps", reason, bitrate)

		return
	}
	c.deliveredSeq = seq
	onUpdate := c.onUpdate
	c.lock.Unlock()

	c.log.Infof("bitrate update (%v): %d bps", reason, bitrate)
	c.observer.OnBitrateUpdate(reason, bitrate)
	if onUpdate != nil {
		onUpdate(bitrate)
	}
}
