// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"maps"
	"slices"
	"strings"
)

const mountKeySep = " on "

// MountKey builds the snapshot key for a mounted partition, in the same
// "<device> on <mountpoint>" form mount(8) prints.
func MountKey(partition, mountPoint string) string {
	return partition + mountKeySep + mountPoint
}

// SplitMountKey reverses MountKey. Keys without a separator are treated as a
// bare mount point.
func SplitMountKey(key string) (partition, mountPoint string) {
	partition, mountPoint, found := strings.Cut(key, mountKeySep)
	if !found {
		return "", key
	}
	return partition, mountPoint
}

// MountMetrics reports the space on one mounted partition, in bytes. These
// are gauges taken from the end of the window, not rates.
type MountMetrics struct {
	Partition   string `json:"partition"`
	MountPoint  string `json:"mount_point"`
	TotalSpace  int64  `json:"total_space"`
	FreeSpace   int64  `json:"free_space"`
	UsableSpace int64  `json:"usable_space"`
}

func init() {
	Register(DomainMounts, func(Config) (Calculator, error) {
		return mountCalculator{}, nil
	})
}

type mountCalculator struct{}

func (mountCalculator) Domain() Domain { return DomainMounts }

func (mountCalculator) Calculate(pair SnapshotPair) (any, bool) {
	metrics, ok := CalculateMountMetrics(pair.EndMillis(), pair.StartMillis(), pair.Current.perKey)
	if !ok {
		return nil, false
	}
	return metrics, true
}

// CalculateMountMetrics reports the latest space gauges keyed by mount point.
// When several partitions share a mount point, the first in key order wins.
// It follows the same window rule as the rate calculators so that every
// domain becomes available on the same tick.
func CalculateMountMetrics(endMillis, startMillis int64, end map[string]Counters) (map[string]MountMetrics, bool) {
	if endMillis <= startMillis {
		return nil, false
	}

	out := make(map[string]MountMetrics, len(end))
	for _, key := range slices.Sorted(maps.Keys(end)) {
		partition, mountPoint := SplitMountKey(key)
		if _, exists := out[mountPoint]; exists {
			continue
		}
		c := end[key]
		out[mountPoint] = MountMetrics{
			Partition:   partition,
			MountPoint:  mountPoint,
			TotalSpace:  c.Get(CounterTotalSpace),
			FreeSpace:   c.Get(CounterFreeSpace),
			UsableSpace: c.Get(CounterUsableSpace),
		}
	}
	return out, true
}
