// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import "sort"

// Median returns the median of samples without modifying them. The median
// of an even number of samples is the mean of the two middle values; an
// empty set has a median of 0.
func Median(samples []float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return median(sorted)
}

// median expects sorted input.
func median(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}
