// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package speedtest estimates upload speed by pushing random data through a
// writer, typically a connection to the media server.
package speedtest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/abr/pkg/abr"
	"github.com/pion/logging"
)

var (
	// ErrTimeout is returned when the test does not complete in time.
	ErrTimeout = errors.New("speed test timed out")

	errInvalidDataSize  = errors.New("data size must be positive")
	errInvalidChunkSize = errors.New("chunk size must be positive")
)

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Option configures a Tester.
type Option func(*Tester) error

// DataSize sets the number of bytes sent. Less than 2 MB gives unreliable
// estimates.
func DataSize(bytes int) Option {
	return func(t *Tester) error {
		if bytes <= 0 {
			return fmt.Errorf("%w: %d", errInvalidDataSize, bytes)
		}
		t.dataSize = bytes

		return nil
	}
}

// ChunkSize sets the size of a single write. Servers may reject large
// messages.
func ChunkSize(bytes int) Option {
	return func(t *Tester) error {
		if bytes <= 0 {
			return fmt.Errorf("%w: %d", errInvalidChunkSize, bytes)
		}
		t.chunkSize = bytes

		return nil
	}
}

// Timeout bounds the duration of a test. Zero disables the timeout.
func Timeout(d time.Duration) Option {
	return func(t *Tester) error {
		t.timeout = d

		return nil
	}
}

// WithLoggerFactory sets a logger factory for the tester.
func WithLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(t *Tester) error {
		t.loggerFactory = loggerFactory

		return nil
	}
}

// Result of a completed test.
type Result struct {
	Bytes         int
	Duration      time.Duration
	BitsPerSecond float64
}

// Megabits returns the measured speed in megabits per second.
func (r Result) Megabits() float64 {
	return r.BitsPerSecond / abr.MegaBitPerSecond
}

// Tester runs upload speed tests.
type Tester struct {
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory

	dataSize  int
	chunkSize int
	timeout   time.Duration
}

// NewTester returns a Tester sending 2 MB in 200 KiB chunks with a 10 second
// timeout.
func NewTester(opts ...Option) (*Tester, error) {
	t := &Tester{
		dataSize:  2_000_000,
		chunkSize: 200 << 10,
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.loggerFactory == nil {
		t.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	t.log = t.loggerFactory.NewLogger("speedtest")

	return t, nil
}

// Run sends the configured amount of random data to w and measures how
// long it took. A cancelled or timed out test unblocks the pending write
// before Run returns: writers with a write deadline have it expired, other
// writers implementing io.Closer are closed. For any other writer the send
// goroutine stays blocked until its current Write returns.
func (t *Tester) Run(ctx context.Context, w io.Writer) (Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	chunk := make([]byte, min(t.chunkSize, t.dataSize))
	if _, err := rand.Read(chunk); err != nil {
		return Result{}, err
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- t.send(ctx, w, chunk)
	}()

	select {
	case err := <-done:
		if err != nil {
			return Result{}, t.contextError(ctx, err)
		}
	case <-ctx.Done():
		t.interrupt(w, done)

		return Result{}, t.contextError(ctx, ctx.Err())
	}

	elapsed := time.Since(start)
	result := Result{
		Bytes:         t.dataSize,
		Duration:      elapsed,
		BitsPerSecond: float64(t.dataSize) * 8 / elapsed.Seconds(),
	}
	t.log.Infof("upload speed: %.2f Mbit/s", result.Megabits())

	return result, nil
}

// interrupt unblocks a pending write to w and waits for the sender to exit.
func (t *Tester) interrupt(w io.Writer, done <-chan error) {
	switch w := w.(type) {
	case deadlineWriter:
		if err := w.SetWriteDeadline(time.Now()); err != nil {
			t.log.Warnf("failed to interrupt write: %v", err)

			return
		}
	case io.Closer:
		if err := w.Close(); err != nil {
			t.log.Warnf("failed to close writer: %v", err)

			return
		}
	default:
		t.log.Debug("writer cannot be interrupted, leaving send in flight")

		return
	}
	<-done
}

func (t *Tester) send(ctx context.Context, w io.Writer, chunk []byte) error {
	for remaining := t.dataSize; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(remaining, len(chunk))
		if _, err := w.Write(chunk[:n]); err != nil {
			return err
		}
		remaining -= n
	}

	return nil
}

func (t *Tester) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}

	return err
}
