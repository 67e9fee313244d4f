// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import "fmt"

// CPUUtilization is a thread's CPU usage over a window, as a percentage of
// one CPU. A thread busy on one core for the whole window reports 100.
type CPUUtilization struct {
	Percent float64 `json:"percent"`
}

// FaultMetrics are page fault rates per second for one thread.
type FaultMetrics struct {
	MajorFaultRate float64 `json:"major_fault_rate"`
	MinorFaultRate float64 `json:"minor_fault_rate"`
}

func init() {
	Register(DomainCPU, func(config Config) (Calculator, error) {
		if config.ClockTicksPerSecond <= 0 {
			return nil, fmt.Errorf("cpu calculator requires positive clock ticks, got: %d", config.ClockTicksPerSecond)
		}
		return cpuCalculator{clockTicks: config.ClockTicksPerSecond}, nil
	})
	Register(DomainFaults, func(Config) (Calculator, error) {
		return faultCalculator{}, nil
	})
}

type cpuCalculator struct {
	clockTicks int64
}

func (cpuCalculator) Domain() Domain { return DomainCPU }

func (c cpuCalculator) Calculate(pair SnapshotPair) (any, bool) {
	return perKey(pair, func(endMillis, startMillis int64, end, start Counters) (CPUUtilization, bool) {
		return CalculateCPUUtilization(endMillis, startMillis, end, start, c.clockTicks)
	})
}

// CalculateCPUUtilization derives CPU usage from user and system time
// counters expressed in clock ticks.
func CalculateCPUUtilization(endMillis, startMillis int64, end, start Counters, clockTicksPerSecond int64) (CPUUtilization, bool) {
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return CPUUtilization{}, false
	}

	ticks := delta(end, start, CounterUserTime) + delta(end, start, CounterSystemTime)
	cpuSeconds := ratio(ticks, float64(clockTicksPerSecond))
	return CPUUtilization{Percent: 100 * cpuSeconds / secs}, true
}

type faultCalculator struct{}

func (faultCalculator) Domain() Domain { return DomainFaults }

func (faultCalculator) Calculate(pair SnapshotPair) (any, bool) {
	return perKey(pair, CalculateFaultMetrics)
}

// CalculateFaultMetrics derives major and minor page fault rates.
func CalculateFaultMetrics(endMillis, startMillis int64, end, start Counters) (FaultMetrics, bool) {
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return FaultMetrics{}, false
	}
	return FaultMetrics{
		MajorFaultRate: delta(end, start, CounterMajorFaults) / secs,
		MinorFaultRate: delta(end, start, CounterMinorFaults) / secs,
	}, true
}
