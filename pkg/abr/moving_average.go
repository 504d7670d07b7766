// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

// exponentialMovingAverage starts from zero rather than from its first
// sample, so early values are biased low.
type exponentialMovingAverage struct {
	alpha   float64
	average float64
}

func (a *exponentialMovingAverage) update(sample float64) {
	a.average = a.alpha*sample + (1-a.alpha)*a.average
}

func (a *exponentialMovingAverage) reset() {
	a.average = 0
}
