// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

// SectorSize is the unit of the sector counters in /proc/diskstats. The
// kernel always reports 512-byte sectors regardless of the device's
// physical sector size.
const SectorSize = 512

// DiskMetrics is the derived activity of one block device over a window.
type DiskMetrics struct {
	Name string `json:"name"`
	// Utilization is the fraction of the window the device was busy.
	Utilization float64 `json:"utilization"`
	// Await is the average time per completed operation in milliseconds.
	Await float64 `json:"await"`
	// ServiceRate is bytes transferred per millisecond of busy time.
	ServiceRate float64 `json:"service_rate"`
}

func init() {
	Register(DomainDisk, func(Config) (Calculator, error) {
		return diskCalculator{}, nil
	})
}

type diskCalculator struct{}

func (diskCalculator) Domain() Domain { return DomainDisk }

func (diskCalculator) Calculate(pair SnapshotPair) (any, bool) {
	end, start := pair.Current, pair.Previous
	metrics := CalculateDiskMetrics(end.TakenAtMillis(), start.TakenAtMillis(), end.perKey, start.perKey)
	if metrics == nil {
		return nil, false
	}
	return metrics, true
}

// CalculateDiskMetrics derives per-device metrics from two diskstats samples.
//
// Devices present in only one of the samples are skipped. The returned map is
// nil when the window is not positive.
func CalculateDiskMetrics(endMillis, startMillis int64, end, start map[string]Counters) map[string]DiskMetrics {
	if endMillis <= startMillis {
		return nil
	}
	window := float64(endMillis - startMillis)

	out := make(map[string]DiskMetrics, len(end))
	for device, e := range end {
		s, ok := start[device]
		if !ok {
			continue
		}

		rwTime := delta(e, s, CounterReadTime) + delta(e, s, CounterWriteTime)
		rwOps := delta(e, s, CounterReadDone) + delta(e, s, CounterWriteDone)
		rwSectors := delta(e, s, CounterReadSectors) + delta(e, s, CounterWriteSectors)

		m := DiskMetrics{
			Name:        device,
			Utilization: rwTime / window,
		}
		if rwOps > 0 {
			m.Await = rwTime / rwOps
		}
		if rwTime > 0 {
			m.ServiceRate = rwSectors * SectorSize * 1.0e-3 / rwTime
		}
		out[device] = m
	}
	return out
}
