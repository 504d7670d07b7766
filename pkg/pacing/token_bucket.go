// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pacing

import (
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket paces frames at a bitrate. Rates, bursts and budgets are given
// in bits; the underlying limiter refills whole bytes so that a frame costs
// its wire size.
type tokenBucket struct {
	limiter *rate.Limiter
}

func newTokenBucket(bitsPerSecond, burst int) *tokenBucket {
	return &tokenBucket{
		limiter: rate.NewLimiter(bytesPerSecond(bitsPerSecond), bitsToBytes(burst)),
	}
}

// burstBits returns the bucket size for rate: one interval worth of data,
// but never less than the largest frame so that every frame can be sent.
func burstBits(bitsPerSecond int, interval time.Duration, maxFrameSize int) int {
	if interval <= 0 {
		interval = time.Millisecond
	}

	return max(int(float64(bitsPerSecond)*interval.Seconds()), 8*maxFrameSize)
}

func bytesPerSecond(bitsPerSecond int) rate.Limit {
	return rate.Limit(float64(bitsPerSecond) / 8)
}

// bitsToBytes rounds up to whole bytes.
func bitsToBytes(bits int) int {
	return (bits + 7) / 8
}

func (b *tokenBucket) SetRate(bitsPerSecond, burst int) {
	now := time.Now()
	b.limiter.SetBurstAt(now, bitsToBytes(burst))
	b.limiter.SetLimitAt(now, bytesPerSecond(bitsPerSecond))
}

// Budget returns the bits available at t.
func (b *tokenBucket) Budget(t time.Time) float64 {
	return 8 * b.limiter.TokensAt(t)
}

func (b *tokenBucket) AllowN(t time.Time, bits int) bool {
	return b.limiter.AllowN(t, bitsToBytes(bits))
}
