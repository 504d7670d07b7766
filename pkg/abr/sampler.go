// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/abr/internal/clock"
	"github.com/pion/logging"
)

// SamplerState is the lifecycle state of a Sampler.
type SamplerState int

// Sampler states. A sampler reports its result synchronously from the frame
// event that closes the last interval, so there is no observable reporting
// state.
const (
	SamplerUninitialized SamplerState = iota
	SamplerAwaitingInitialDelay
	SamplerSampling
	SamplerFinished
)

func (s SamplerState) String() string {
	switch s {
	case SamplerUninitialized:
		return "uninitialized"
	case SamplerAwaitingInitialDelay:
		return "awaiting_initial_delay"
	case SamplerSampling:
		return "sampling"
	case SamplerFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ByteCounter reports the total number of bytes the host has transmitted
// on all interfaces. When a Sampler has one, interval throughput is taken
// from the counter instead of the sizes of the frames it was told about.
type ByteCounter interface {
	TotalTxBytes() uint64
}

// Result is the outcome of one sampling run.
type Result struct {
	// RunID identifies the sampler that produced the result.
	RunID uuid.UUID
	// Bitrate is the median interval throughput in bits per second, after
	// lowering. Zero means no usable measurement.
	Bitrate float64
	// Samples holds the per-interval throughput of the run, sorted.
	Samples []float64
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	TestDuration     time.Duration
	IntervalDuration time.Duration
	InitialDelay     time.Duration
	// Endless samplers restart after every result and never finish on
	// their own.
	Endless bool
	// ApplyLowering multiplies the median by LoweringFactor.
	ApplyLowering  bool
	LoweringFactor float64
	ByteCounter    ByteCounter
}

// SamplerOption can be used to configure a Sampler.
type SamplerOption func(*Sampler) error

// SamplerLog sets a logger for the sampler.
func SamplerLog(log logging.LeveledLogger) SamplerOption {
	return func(s *Sampler) error {
		s.log = log

		return nil
	}
}

func samplerClock(c clock.Clock) SamplerOption {
	return func(s *Sampler) error {
		s.clock = c

		return nil
	}
}

// Sampler measures upload throughput over fixed intervals and reduces the
// interval rates of a run to their median.
type Sampler struct {
	lock sync.Mutex

	id    uuid.UUID
	clock clock.Clock
	log   logging.LeveledLogger

	intervalDuration time.Duration
	initialDelay     time.Duration
	maxIntervals     int
	endless          bool
	applyLowering    bool
	loweringFactor   float64
	counter          ByteCounter
	onResult         func(Result)

	uploadedBytes  int
	counterAtStart uint64
	intervalStart  time.Time
	intervalIndex  int
	samples        []float64

	started              bool
	finished             bool
	awaitingInitialDelay bool
	warmup               clock.Timer
	generation           uint64
}

// NewSampler returns a Sampler that calls onResult once per finished run.
// The sampler does nothing until Start is called.
func NewSampler(config SamplerConfig, onResult func(Result), opts ...SamplerOption) (*Sampler, error) {
	if err := validateRun(config.TestDuration, config.IntervalDuration); err != nil {
		return nil, err
	}
	if config.ApplyLowering && (config.LoweringFactor <= 0 || config.LoweringFactor > 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLoweringFraction, config.LoweringFactor)
	}

	s := &Sampler{
		id:               uuid.New(),
		clock:            clock.New(),
		intervalDuration: config.IntervalDuration,
		initialDelay:     config.InitialDelay,
		maxIntervals:     int(config.TestDuration / config.IntervalDuration),
		endless:          config.Endless,
		applyLowering:    config.ApplyLowering,
		loweringFactor:   config.LoweringFactor,
		counter:          config.ByteCounter,
		onResult:         onResult,
		intervalIndex:    1,
		finished:         true,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.log == nil {
		s.log = logging.NewDefaultLoggerFactory().NewLogger("abr_sampler")
	}

	return s, nil
}

// ID returns the run identity attached to every Result of this sampler.
func (s *Sampler) ID() uuid.UUID {
	return s.id
}

// Endless reports whether the sampler restarts after each result.
func (s *Sampler) Endless() bool {
	return s.endless
}

// State returns the current lifecycle state.
func (s *Sampler) State() SamplerState {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case !s.started:
		return SamplerUninitialized
	case s.finished:
		return SamplerFinished
	case s.awaitingInitialDelay:
		return SamplerAwaitingInitialDelay
	default:
		return SamplerSampling
	}
}

// Finished reports whether the sampler ignores frame events because it was
// never started, finished its run, or was cancelled.
func (s *Sampler) Finished() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.finished
}

// Start begins a run from any state. Frame events are ignored until the
// initial delay has elapsed.
func (s *Sampler) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.warmup != nil {
		s.warmup.Stop()
	}
	s.started = true
	s.finished = false
	s.awaitingInitialDelay = true
	s.generation++
	generation := s.generation
	s.warmup = s.clock.AfterFunc(s.initialDelay, func() {
		s.onInitialDelayElapsed(generation)
	})
	s.log.Tracef("sampler %v started", s.id)
}

// Finish cancels the run. Subsequent frame events are ignored and no result
// is reported.
func (s *Sampler) Finish() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.finishLocked()
}

func (s *Sampler) finishLocked() {
	s.finished = true
	if s.warmup != nil {
		s.warmup.Stop()
		s.warmup = nil
	}
}

func (s *Sampler) onInitialDelayElapsed(generation uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if generation != s.generation || s.finished {
		return
	}
	s.warmup = nil
	s.resetLocked()
	s.awaitingInitialDelay = false
}

func (s *Sampler) sampling() bool {
	return !s.finished && !s.awaitingInitialDelay
}

// OnBeforeFrame anchors the start of the current interval.
func (s *Sampler) OnBeforeFrame() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.sampling() {
		return
	}
	if s.intervalStart.IsZero() {
		s.startIntervalLocked(s.clock.Now())
	}
}

// OnAfterFrame accounts a sent frame of size bytes. It closes the current
// interval once it is longer than the interval duration and reports the run
// result after the last interval.
func (s *Sampler) OnAfterFrame(size int) {
	s.lock.Lock()

	if !s.sampling() {
		s.lock.Unlock()

		return
	}

	now := s.clock.Now()
	if s.intervalStart.IsZero() {
		s.startIntervalLocked(now)
	}
	s.uploadedBytes += size
	if elapsed := now.Sub(s.intervalStart); elapsed > s.intervalDuration {
		s.closeIntervalLocked(elapsed)
	}

	if s.intervalIndex <= s.maxIntervals {
		s.lock.Unlock()

		return
	}

	result := s.resultLocked()
	if s.endless {
		s.resetLocked()
	} else {
		s.finishLocked()
	}
	onResult := s.onResult
	s.lock.Unlock()

	s.log.Debugf("sampler %v finished with %.0f bps from %d samples", result.RunID, result.Bitrate, len(result.Samples))
	if onResult != nil {
		onResult(result)
	}
}

func (s *Sampler) startIntervalLocked(now time.Time) {
	s.intervalStart = now
	if s.counter != nil {
		s.counterAtStart = s.counter.TotalTxBytes()
	}
}

func (s *Sampler) closeIntervalLocked(elapsed time.Duration) {
	bytes := float64(s.uploadedBytes)
	if s.counter != nil {
		bytes = 0
		if total := s.counter.TotalTxBytes(); total > s.counterAtStart {
			bytes = float64(total - s.counterAtStart)
		}
	}

	if byteRate := bytes / elapsed.Seconds(); byteRate > 0 {
		s.samples = append(s.samples, byteRate*8)
		s.log.Tracef("sampler %v interval %d: %.0f bps", s.id, s.intervalIndex, byteRate*8)
	}
	s.intervalIndex++
	s.resetIntervalLocked()
}

func (s *Sampler) resultLocked() Result {
	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	sort.Float64s(sorted)

	bitrate := median(sorted)
	if s.applyLowering {
		bitrate *= s.loweringFactor
	}

	return Result{
		RunID:   s.id,
		Bitrate: bitrate,
		Samples: sorted,
	}
}

func (s *Sampler) resetLocked() {
	s.intervalIndex = 1
	s.samples = nil
	s.resetIntervalLocked()
}

func (s *Sampler) resetIntervalLocked() {
	s.uploadedBytes = 0
	s.counterAtStart = 0
	s.intervalStart = time.Time{}
}
