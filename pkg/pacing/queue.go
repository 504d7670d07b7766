// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pacing implements a paced frame queue. Frames written to a Queue
// are drained to the underlying writer at the configured bitrate, and the
// queue reports frame transmissions and its own fill level to the bitrate
// controller.
package pacing

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/abr/pkg/abr"
	"github.com/pion/logging"
)

var (
	// ErrQueueClosed is returned when writing to a closed queue.
	ErrQueueClosed = errors.New("pacing queue closed")
	// ErrQueueOverflow is returned when a frame does not fit into the queue.
	ErrQueueOverflow = errors.New("pacing queue overflow")
	// ErrFrameTooLarge is returned for frames above the maximum frame size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum frame size")

	errInvalidCapacity = errors.New("queue capacity must be positive")
)

type pacerFactory func(initialRate, burst int) pacer

type pacer interface {
	SetRate(rate, burst int)
	Budget(time.Time) float64
	AllowN(time.Time, int) bool
}

type ticker interface {
	Ch() <-chan time.Time
	Stop()
}

type tickerFactory func(time.Duration) ticker

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) Ch() <-chan time.Time {
	return t.C
}

// Option is a configuration option for a Queue.
type Option func(*Queue) error

// InitialRate configures the initial pacing rate in bits per second.
func InitialRate(rate int) Option {
	return func(q *Queue) error {
		q.initialRate = rate

		return nil
	}
}

// Interval configures how often the queue is drained.
func Interval(interval time.Duration) Option {
	return func(q *Queue) error {
		q.interval = interval

		return nil
	}
}

// Capacity configures how many bytes the queue holds before writes fail.
func Capacity(bytes int) Option {
	return func(q *Queue) error {
		if bytes <= 0 {
			return fmt.Errorf("%w: %d", errInvalidCapacity, bytes)
		}
		q.capacity = bytes

		return nil
	}
}

// MaxFrameSize configures the largest accepted frame in bytes.
func MaxFrameSize(bytes int) Option {
	return func(q *Queue) error {
		q.maxFrameSize = bytes

		return nil
	}
}

// PacingFactor scales every rate passed to SetRate. Values above 1 let the
// queue catch up after encoder bursts.
func PacingFactor(factor float64) Option {
	return func(q *Queue) error {
		q.pacingFactor = factor

		return nil
	}
}

// WithFrameObserver sets the observer notified around every frame write.
func WithFrameObserver(observer abr.FrameObserver) Option {
	return func(q *Queue) error {
		q.frames = observer

		return nil
	}
}

// WithCongestionObserver sets the observer receiving the queue fill ratio
// whenever frames are waiting.
func WithCongestionObserver(observer abr.CongestionObserver) Option {
	return func(q *Queue) error {
		q.congestion = observer

		return nil
	}
}

// WithLoggerFactory sets a logger factory for the queue.
func WithLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(q *Queue) error {
		q.loggerFactory = loggerFactory

		return nil
	}
}

func setPacerFactory(f pacerFactory) Option {
	return func(q *Queue) error {
		q.pacerFactory = f

		return nil
	}
}

func setTickerFactory(f tickerFactory) Option {
	return func(q *Queue) error {
		q.tickerFactory = f

		return nil
	}
}

// Queue paces frames to a writer using a token bucket filter refilled at the
// target bitrate and drained at a fixed interval.
type Queue struct {
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory

	writer     io.Writer
	frames     abr.FrameObserver
	congestion abr.CongestionObserver

	// config
	initialRate   int
	interval      time.Duration
	capacity      int
	maxFrameSize  int
	pacingFactor  float64
	pacerFactory  pacerFactory
	tickerFactory tickerFactory

	limit pacer
	queue chan []byte

	lock        sync.Mutex
	queuedBytes int

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewQueue returns a Queue draining into w and starts its pacing loop.
func NewQueue(w io.Writer, opts ...Option) (*Queue, error) {
	q := &Queue{
		writer:       w,
		initialRate:  abr.MegaBitPerSecond,
		interval:     5 * time.Millisecond,
		capacity:     4 << 20,
		maxFrameSize: 256 << 10,
		pacingFactor: 1,
		pacerFactory: func(initialRate, burst int) pacer {
			return newTokenBucket(initialRate, burst)
		},
		tickerFactory: func(d time.Duration) ticker {
			return timeTicker{time.NewTicker(d)}
		},
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	if q.loggerFactory == nil {
		q.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	q.log = q.loggerFactory.NewLogger("pacing_queue")
	q.limit = q.pacerFactory(q.initialRate, q.burst(q.initialRate))
	q.queue = make(chan []byte, q.capacity/64+1)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop()
	}()

	return q, nil
}

func (q *Queue) burst(rate int) int {
	return burstBits(rate, q.interval, q.maxFrameSize)
}

// SetRate updates the pacing rate in bits per second.
func (q *Queue) SetRate(rate int) {
	paced := int(float64(rate) * q.pacingFactor)
	q.limit.SetRate(paced, q.burst(paced))
	q.log.Debugf("pacing rate set to %d bps", paced)
}

// Fill returns the share of the queue capacity occupied by waiting frames.
func (q *Queue) Fill() float64 {
	q.lock.Lock()
	defer q.lock.Unlock()

	return float64(q.queuedBytes) / float64(q.capacity)
}

// Write enqueues a copy of frame. It never blocks.
func (q *Queue) Write(frame []byte) (int, error) {
	if len(frame) > q.maxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	select {
	case <-q.closed:
		return 0, ErrQueueClosed
	default:
	}

	q.lock.Lock()
	if q.queuedBytes+len(frame) > q.capacity {
		q.lock.Unlock()

		return 0, ErrQueueOverflow
	}
	q.queuedBytes += len(frame)
	q.lock.Unlock()

	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case q.queue <- buf:
		return len(frame), nil
	case <-q.closed:
		q.release(len(frame))

		return 0, ErrQueueClosed
	default:
		q.release(len(frame))

		return 0, ErrQueueOverflow
	}
}

// Close stops the pacing loop. Frames still queued are dropped.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	q.wg.Wait()

	return nil
}

func (q *Queue) release(n int) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.queuedBytes -= n
}

func (q *Queue) loop() {
	ticker := q.tickerFactory(q.interval)
	defer ticker.Stop()
	pending := make([][]byte, 0)
	for {
		select {
		case now := <-ticker.Ch():
			if len(pending) > 0 && q.congestion != nil {
				q.congestion.OnCongestion(q.Fill())
			}
			for len(pending) > 0 && q.limit.Budget(now) >= float64(8*len(pending[0])) {
				q.limit.AllowN(now, 8*len(pending[0]))
				var next []byte
				next, pending = pending[0], pending[1:]
				q.send(next)
			}
		case frame := <-q.queue:
			pending = append(pending, frame)
		case <-q.closed:
			return
		}
	}
}

func (q *Queue) send(frame []byte) {
	if q.frames != nil {
		q.frames.BeforeFrameSent()
	}
	n, err := q.writer.Write(frame)
	q.release(len(frame))
	if err != nil {
		q.log.Warnf("error on writing frame: %v", err)

		return
	}
	if q.frames != nil {
		q.frames.AfterFrameSent(n)
	}
}
