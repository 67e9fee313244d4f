// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

// schedClockHz is the resolution of the run and wait counters in
// /proc/<pid>/task/<tid>/schedstat, which are kept in nanoseconds.
const schedClockHz = 1.0e9

// SchedMetrics summarizes how a thread was scheduled over a window.
type SchedMetrics struct {
	// AvgRuntime is the mean time on CPU per context switch, in seconds.
	AvgRuntime float64 `json:"avg_runtime"`
	// AvgWaittime is the mean time runnable but waiting per context switch, in seconds.
	AvgWaittime float64 `json:"avg_waittime"`
	// ContextSwitchRate is context switches per second.
	ContextSwitchRate float64 `json:"context_switch_rate"`
}

func init() {
	Register(DomainSched, func(Config) (Calculator, error) {
		return schedCalculator{}, nil
	})
}

type schedCalculator struct{}

func (schedCalculator) Domain() Domain { return DomainSched }

func (schedCalculator) Calculate(pair SnapshotPair) (any, bool) {
	return perKey(pair, CalculateSchedMetrics)
}

// CalculateSchedMetrics derives scheduler metrics for one thread.
//
// Unlike the other calculators, the result is unavailable when the context
// switch counter is missing from either sample: without it the averages have
// no meaning. When no switches happened the averages are 0.
func CalculateSchedMetrics(endMillis, startMillis int64, end, start Counters) (SchedMetrics, bool) {
	if end == nil || start == nil {
		return SchedMetrics{}, false
	}
	if _, ok := end[CounterContextSwitches]; !ok {
		return SchedMetrics{}, false
	}
	if _, ok := start[CounterContextSwitches]; !ok {
		return SchedMetrics{}, false
	}
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return SchedMetrics{}, false
	}

	switches := delta(end, start, CounterContextSwitches)
	run := delta(end, start, CounterRunTicks) / schedClockHz
	wait := delta(end, start, CounterWaitTicks) / schedClockHz

	return SchedMetrics{
		AvgRuntime:        ratio(run, switches),
		AvgWaittime:       ratio(wait, switches),
		ContextSwitchRate: switches / secs,
	}, true
}
