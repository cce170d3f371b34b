// Package weights derives consensus-ready weight vectors from score maps and
// schedules their submission per mechanism.
package weights

import (
	"math"
	"sort"
)

// Vector is a sparse weight vector: parallel uid and weight arrays.
type Vector struct {
	UIDs   []int
	Values []float64
}

// IsEmpty reports whether the vector carries no positive weight.
func (v Vector) IsEmpty() bool {
	for _, w := range v.Values {
		if w > 0 {
			return false
		}
	}
	return true
}

// Derive converts a dense per-uid weight array in [0, 1] into the emitted
// vector. Weights below the exclusion quantile of the positive set are
// dropped; the survivors pass through unchanged. Raw magnitudes are preserved
// on purpose: an entity's weight must not depend on how many other entities
// also qualified, otherwise honest participants dilute each other.
//
// When nothing qualifies, or fewer than minAllowed entities are known or
// positive, the deterministic fallback assigns full weight to uid 0.
func Derive(dense []float64, minAllowed int, excludeQuantile float64) Vector {
	var (
		uids   []int
		values []float64
	)
	for uid, w := range dense {
		if w > 0 {
			uids = append(uids, uid)
			values = append(values, w)
		}
	}

	if len(values) == 0 || len(dense) < minAllowed || len(values) < minAllowed {
		return fallback(len(dense))
	}

	// The exclusion quantile is bounded so at least minAllowed entities
	// always survive it.
	maxExclude := float64(len(values)-minAllowed) / float64(len(values))
	q := math.Min(excludeQuantile, maxExclude)
	threshold := quantile(values, q)

	outUIDs := make([]int, 0, len(uids))
	outValues := make([]float64, 0, len(values))
	for i, w := range values {
		if w >= threshold {
			outUIDs = append(outUIDs, uids[i])
			outValues = append(outValues, w)
		}
	}

	return Vector{UIDs: outUIDs, Values: outValues}
}

// fallback assigns full weight to uid 0 and zero elsewhere.
func fallback(n int) Vector {
	if n <= 0 {
		return Vector{}
	}
	uids := make([]int, n)
	values := make([]float64, n)
	for i := range uids {
		uids[i] = i
	}
	values[0] = 1.0
	return Vector{UIDs: uids, Values: values}
}

// quantile computes the q-quantile of values with linear interpolation
// between closest ranks.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if q <= 0 {
		return minOf(values)
	}
	if q >= 1 {
		return maxOf(values)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
