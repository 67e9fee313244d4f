// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

// Calculator derives a domain's metrics from a snapshot pair.
//
// Implementations must be pure: the same pair always yields the same result,
// and no state is kept between calls. The boolean result is false when the
// metric is unavailable for the pair, for example when no time has elapsed
// between the two snapshots.
type Calculator interface {
	Domain() Domain
	Calculate(pair SnapshotPair) (any, bool)
}

// NewCalculator is the factory signature stored in the registry.
type NewCalculator func(config Config) (Calculator, error)

// Result is a derived metric published by the Sampler together with the
// window it covers. Data holds the domain-specific record and must be
// treated as read-only.
type Result struct {
	Domain      Domain `json:"domain"`
	StartMillis int64  `json:"start_millis"`
	EndMillis   int64  `json:"end_millis"`
	Data        any    `json:"data"`
}

// windowSeconds returns the elapsed time between start and end in seconds.
// A zero or negative window is reported as unavailable; this also covers the
// first tick, where both snapshots are the same.
func windowSeconds(endMillis, startMillis int64) (float64, bool) {
	if endMillis <= startMillis {
		return 0, false
	}
	return float64(endMillis-startMillis) / 1000.0, true
}

// delta returns end[c] - start[c] with missing counters read as 0. Counter
// resets show up as negative deltas and are passed through as-is.
func delta(end, start Counters, c Counter) float64 {
	return float64(end.Get(c) - start.Get(c))
}

// ratio divides num by a counter-derived denominator, returning 0 instead of
// NaN or Inf when the denominator is zero.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// perKey applies calc to every key present in both snapshots. A key that
// appeared or disappeared during the window has no matching sample and is
// skipped.
func perKey[T any](pair SnapshotPair, calc func(endMillis, startMillis int64, end, start Counters) (T, bool)) (any, bool) {
	endMillis, startMillis := pair.EndMillis(), pair.StartMillis()
	if endMillis <= startMillis {
		return nil, false
	}

	out := make(map[string]T, pair.Current.Len())
	for key, end := range pair.Current.perKey {
		start, found := pair.Previous.perKey[key]
		if !found {
			continue
		}
		m, ok := calc(endMillis, startMillis, end, start)
		if ok {
			out[key] = m
		}
	}
	return out, true
}
