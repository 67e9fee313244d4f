// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

// IOMetrics is the I/O activity of one thread over a window.
//
// Throughput fields are bytes per second and syscall fields are calls per
// second. The page cache fields isolate traffic served from or absorbed by the
// page cache: character counts minus block I/O bytes. They are not clamped and
// can be negative when the kernel counters disagree.
type IOMetrics struct {
	AvgReadThroughputBps           float64 `json:"avg_read_throughput_bps"`
	AvgWriteThroughputBps          float64 `json:"avg_write_throughput_bps"`
	AvgTotalThroughputBps          float64 `json:"avg_total_throughput_bps"`
	AvgReadSyscallRate             float64 `json:"avg_read_syscall_rate"`
	AvgWriteSyscallRate            float64 `json:"avg_write_syscall_rate"`
	AvgTotalSyscallRate            float64 `json:"avg_total_syscall_rate"`
	AvgPageCacheReadThroughputBps  float64 `json:"avg_page_cache_read_throughput_bps"`
	AvgPageCacheWriteThroughputBps float64 `json:"avg_page_cache_write_throughput_bps"`
	AvgPageCacheTotalThroughputBps float64 `json:"avg_page_cache_total_throughput_bps"`
}

func init() {
	Register(DomainIO, func(Config) (Calculator, error) {
		return ioCalculator{}, nil
	})
}

type ioCalculator struct{}

func (ioCalculator) Domain() Domain { return DomainIO }

func (ioCalculator) Calculate(pair SnapshotPair) (any, bool) {
	return perKey(pair, CalculateIOMetrics)
}

// CalculateIOMetrics derives I/O rates for one thread.
func CalculateIOMetrics(endMillis, startMillis int64, end, start Counters) (IOMetrics, bool) {
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return IOMetrics{}, false
	}

	readBytes := delta(end, start, CounterReadBytes)
	writeBytes := delta(end, start, CounterWriteBytes)
	readCalls := delta(end, start, CounterReadSyscalls)
	writeCalls := delta(end, start, CounterWriteSyscalls)
	readChars := delta(end, start, CounterReadChars)
	writeChars := delta(end, start, CounterWriteChars)

	cacheRead := (readChars - readBytes) / secs
	cacheWrite := (writeChars - writeBytes) / secs

	return IOMetrics{
		AvgReadThroughputBps:           readBytes / secs,
		AvgWriteThroughputBps:          writeBytes / secs,
		AvgTotalThroughputBps:          (readBytes + writeBytes) / secs,
		AvgReadSyscallRate:             readCalls / secs,
		AvgWriteSyscallRate:            writeCalls / secs,
		AvgTotalSyscallRate:            (readCalls + writeCalls) / secs,
		AvgPageCacheReadThroughputBps:  cacheRead,
		AvgPageCacheWriteThroughputBps: cacheWrite,
		AvgPageCacheTotalThroughputBps: cacheRead + cacheWrite,
	}, true
}
