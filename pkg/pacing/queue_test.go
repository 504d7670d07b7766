// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/abr/internal/test"
	"github.com/pion/logging"
	transportTest "github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPacer struct {
	lock sync.Mutex

	rate  int
	burst int

	allow        bool
	allowCalled  bool
	budget       float64
	budgetCalled bool
}

// AllowN implements pacer.
func (m *mockPacer) AllowN(time.Time, int) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.allowCalled = true

	return m.allow
}

// Budget implements pacer.
func (m *mockPacer) Budget(time.Time) float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.budgetCalled = true

	return m.budget
}

// SetRate implements pacer.
func (m *mockPacer) SetRate(rate int, burst int) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.rate = rate
	m.burst = burst
}

func (m *mockPacer) setBudget(budget float64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.allow = budget > 0
	m.budget = budget
}

type mockWriter struct {
	written chan []byte
	err     error
}

func (w *mockWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.written <- p

	return len(p), nil
}

type mockObserver struct {
	lock   sync.Mutex
	before int
	after  []int
	fills  []float64
}

func (o *mockObserver) BeforeFrameSent() {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.before++
}

func (o *mockObserver) AfterFrameSent(size int) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.after = append(o.after, size)
}

func (o *mockObserver) OnCongestion(bufferFill float64) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.fills = append(o.fills, bufferFill)
}

func (o *mockObserver) fillReports() int {
	o.lock.Lock()
	defer o.lock.Unlock()

	return len(o.fills)
}

func newTestQueue(t *testing.T, w *mockWriter, opts ...Option) (*Queue, *mockPacer, *test.MockTicker) {
	t.Helper()

	mp := &mockPacer{}
	mt := test.NewMockTicker()
	opts = append([]Option{
		setPacerFactory(func(int, int) pacer { return mp }),
		setTickerFactory(func(time.Duration) ticker { return mt }),
		WithLoggerFactory(logging.NewDefaultLoggerFactory()),
	}, opts...)
	q, err := NewQueue(w, opts...)
	require.NoError(t, err)

	return q, mp, mt
}

// tickUntil ticks the queue until it wrote a frame or a second has passed.
func tickUntil(t *testing.T, mt *test.MockTicker, done func() bool) {
	t.Helper()

	timeout := time.After(time.Second)
	for !done() {
		select {
		case <-timeout:
			assert.Fail(t, "condition not met before timeout")

			return
		default:
			mt.Tick(time.Now())
		}
	}
}

func TestQueue(t *testing.T) {
	t.Run("sets_paced_rate", func(t *testing.T) {
		q, mp, _ := newTestQueue(t, &mockWriter{}, MaxFrameSize(1000), PacingFactor(1.5))
		defer func() { assert.NoError(t, q.Close()) }()

		q.SetRate(2_000_000)
		mp.lock.Lock()
		defer mp.lock.Unlock()
		assert.Equal(t, 3_000_000, mp.rate)
		assert.Equal(t, 15_000, mp.burst)
	})

	t.Run("burst_fits_largest_frame", func(t *testing.T) {
		q, mp, _ := newTestQueue(t, &mockWriter{}, MaxFrameSize(1000))
		defer func() { assert.NoError(t, q.Close()) }()

		q.SetRate(100_000)
		mp.lock.Lock()
		defer mp.lock.Unlock()
		assert.Equal(t, 8000, mp.burst)
	})

	t.Run("paces_frames", func(t *testing.T) {
		defer transportTest.CheckRoutines(t)()

		observer := &mockObserver{}
		w := &mockWriter{written: make(chan []byte, 10)}
		q, mp, mt := newTestQueue(t, w, WithFrameObserver(observer), WithCongestionObserver(observer))

		mp.setBudget(8 * 1500)
		n, err := q.Write(make([]byte, 1200))
		assert.NoError(t, err)
		assert.Equal(t, 1200, n)

		tickUntil(t, mt, func() bool { return len(w.written) > 0 })
		assert.NoError(t, q.Close())

		assert.Len(t, <-w.written, 1200)
		observer.lock.Lock()
		assert.Equal(t, 1, observer.before)
		assert.Equal(t, []int{1200}, observer.after)
		observer.lock.Unlock()
		assert.Zero(t, q.Fill())

		mp.lock.Lock()
		assert.True(t, mp.allowCalled)
		assert.True(t, mp.budgetCalled)
		mp.lock.Unlock()
	})

	t.Run("holds_frames_without_budget", func(t *testing.T) {
		observer := &mockObserver{}
		w := &mockWriter{written: make(chan []byte, 10)}
		q, mp, mt := newTestQueue(t, w, Capacity(4800), WithCongestionObserver(observer))
		defer func() { assert.NoError(t, q.Close()) }()

		mp.setBudget(0)
		_, err := q.Write(make([]byte, 1200))
		assert.NoError(t, err)
		assert.InDelta(t, 0.25, q.Fill(), 1e-9)

		tickUntil(t, mt, func() bool { return observer.fillReports() > 0 })
		for i := 0; i < 5; i++ {
			mt.Tick(time.Now())
		}
		assert.Empty(t, w.written)

		observer.lock.Lock()
		assert.InDelta(t, 0.25, observer.fills[0], 1e-9)
		observer.lock.Unlock()

		mp.setBudget(8 * 1200)
		tickUntil(t, mt, func() bool { return len(w.written) > 0 })
	})

	t.Run("write_error_skips_after_event", func(t *testing.T) {
		observer := &mockObserver{}
		w := &mockWriter{err: errors.New("broken pipe")}
		q, mp, mt := newTestQueue(t, w, WithFrameObserver(observer))
		defer func() { assert.NoError(t, q.Close()) }()

		mp.setBudget(8 * 1500)
		_, err := q.Write(make([]byte, 100))
		assert.NoError(t, err)
		tickUntil(t, mt, func() bool { return q.Fill() == 0 })

		observer.lock.Lock()
		defer observer.lock.Unlock()
		assert.Equal(t, 1, observer.before)
		assert.Empty(t, observer.after)
	})
}

func TestQueueWriteErrors(t *testing.T) {
	t.Run("overflow", func(t *testing.T) {
		q, _, _ := newTestQueue(t, &mockWriter{}, Capacity(1000))
		defer func() { assert.NoError(t, q.Close()) }()

		_, err := q.Write(make([]byte, 800))
		assert.NoError(t, err)
		_, err = q.Write(make([]byte, 300))
		assert.ErrorIs(t, err, ErrQueueOverflow)
		assert.InDelta(t, 0.8, q.Fill(), 1e-9)
	})

	t.Run("frame_too_large", func(t *testing.T) {
		q, _, _ := newTestQueue(t, &mockWriter{}, MaxFrameSize(100))
		defer func() { assert.NoError(t, q.Close()) }()

		_, err := q.Write(make([]byte, 101))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("closed", func(t *testing.T) {
		q, _, _ := newTestQueue(t, &mockWriter{})
		assert.NoError(t, q.Close())
		assert.NoError(t, q.Close())

		_, err := q.Write(make([]byte, 10))
		assert.ErrorIs(t, err, ErrQueueClosed)
		assert.Zero(t, q.Fill())
	})

	t.Run("invalid_capacity", func(t *testing.T) {
		_, err := NewQueue(&mockWriter{}, Capacity(0))
		assert.ErrorIs(t, err, errInvalidCapacity)
	})
}

func TestTokenBucket(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(8000, 8000)
	assert.InDelta(t, 8000, bucket.Budget(now), 1)
	assert.True(t, bucket.AllowN(now, 8000))
	assert.False(t, bucket.AllowN(now, 8))

	bucket.SetRate(16000, 16000)
	assert.True(t, bucket.AllowN(now.Add(time.Second), 8000))

	t.Run("partial_bytes_round_up", func(t *testing.T) {
		bucket := newTokenBucket(800, 16)
		assert.InDelta(t, 16, bucket.Budget(now), 1e-9)
		assert.True(t, bucket.AllowN(now, 9))
		assert.InDelta(t, 0, bucket.Budget(now), 1e-9, "9 bits take two bytes")
		assert.False(t, bucket.AllowN(now, 1))
		assert.InDelta(t, 8, bucket.Budget(now.Add(10*time.Millisecond)), 1e-9)
	})
}

func TestBurstBits(t *testing.T) {
	assert.Equal(t, 15_000, burstBits(3_000_000, 5*time.Millisecond, 1000))
	assert.Equal(t, 8000, burstBits(150_000, 5*time.Millisecond, 1000))
	assert.Equal(t, 8000, burstBits(3_000_000, 0, 1000), "zero interval counts as one millisecond")
}
