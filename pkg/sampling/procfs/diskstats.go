// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// diskstatsMinFields is the number of fields every kernel since 2.6 reports.
const diskstatsMinFields = 14

// diskstatsColumns maps /proc/diskstats columns (0-based, after major, minor
// and name) to counters.
var diskstatsColumns = []struct {
	index   int
	counter sampling.Counter
}{
	{3, sampling.CounterReadDone},
	{5, sampling.CounterReadSectors},
	{6, sampling.CounterReadTime},
	{7, sampling.CounterWriteDone},
	{9, sampling.CounterWriteSectors},
	{10, sampling.CounterWriteTime},
}

func (s *Source) readDiskstats(ctx context.Context) (map[string]sampling.Counters, error) {
	path := filepath.Join(s.config.HostProcPath, "diskstats")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	stats, err := parseDiskstats(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	for device := range stats {
		if s.isVirtualDisk(device) || (!s.config.IncludePartitions && isPartition(device)) {
			delete(stats, device)
		}
	}
	return stats, nil
}

func parseDiskstats(ctx context.Context, r io.Reader) (map[string]sampling.Counters, error) {
	out := make(map[string]sampling.Counters)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < diskstatsMinFields {
			continue
		}

		counters := make(sampling.Counters, len(diskstatsColumns))
		for _, col := range diskstatsColumns {
			v, err := strconv.ParseInt(fields[col.index], 10, 64)
			if err != nil {
				continue
			}
			counters[col.counter] = v
		}
		out[fields[2]] = counters
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// isVirtualDisk reports whether /sys/block/<device> resolves into the
// virtual device tree (loop, ram, zram and similar). Partitions have no
// /sys/block entry and are never virtual.
func (s *Source) isVirtualDisk(device string) bool {
	target, err := os.Readlink(filepath.Join(s.config.HostSysPath, "block", device))
	if err != nil {
		return false
	}
	return strings.Contains(target, "/virtual/")
}

// isPartition reports whether device names a partition rather than a whole
// disk.
//
// - Standard devices: end with a digit (e.g., sda1, vdb2)
// - NVMe and MMC devices: 'pN' suffix (e.g., nvme0n1p1, mmcblk0p1)
// - loop and device mapper devices are whole devices
func isPartition(device string) bool {
	if device == "" {
		return false
	}

	if strings.HasPrefix(device, "loop") || strings.HasPrefix(device, "dm-") {
		return false
	}

	if strings.Contains(device, "nvme") || strings.Contains(device, "mmcblk") {
		idx := strings.LastIndex(device, "p")
		if idx > 0 && idx < len(device)-1 {
			for _, ch := range device[idx+1:] {
				if ch < '0' || ch > '9' {
					return false
				}
			}
			return true
		}
		return false
	}

	lastChar := device[len(device)-1]
	return lastChar >= '0' && lastChar <= '9'
}
