// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// ignoredFSTypes are pseudo filesystems with no meaningful space usage.
var ignoredFSTypes = map[string]bool{
	"cgroup":   true,
	"proc":     true,
	"sysfs":    true,
	"devpts":   true,
	"devtmpfs": true,
	"none":     true,
}

// ignoredMountPrefixes hide bind mounts of kernel and configuration trees.
var ignoredMountPrefixes = []string{"/sys/", "/etc/"}

func keepPartition(p disk.PartitionStat) bool {
	if ignoredFSTypes[p.Fstype] {
		return false
	}
	if !strings.HasPrefix(p.Device, "/dev/") {
		return false
	}
	for _, prefix := range ignoredMountPrefixes {
		if strings.HasPrefix(p.Mountpoint, prefix) {
			return false
		}
	}
	return true
}

// readMounts reports total, free and usable bytes for every real mounted
// partition. Free counts blocks available to root; usable counts blocks
// available to unprivileged users. Keys carry the host mount point; statfs
// runs on that mount point under HostRootPath.
func (s *Source) readMounts(ctx context.Context) (map[string]sampling.Counters, error) {
	partitions, err := s.listPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	out := make(map[string]sampling.Counters, len(partitions))
	for _, p := range partitions {
		if !keepPartition(p) {
			continue
		}

		var st unix.Statfs_t
		if err := s.statfs(s.hostPath(p.Mountpoint), &st); err != nil {
			s.logger.V(2).Info("Failed to stat mount point", "mountpoint", p.Mountpoint, "error", err)
			continue
		}

		bsize := int64(st.Bsize)
		out[sampling.MountKey(p.Device, p.Mountpoint)] = sampling.Counters{
			sampling.CounterTotalSpace:  int64(st.Blocks) * bsize,
			sampling.CounterFreeSpace:   int64(st.Bfree) * bsize,
			sampling.CounterUsableSpace: int64(st.Bavail) * bsize,
		}
	}
	return out, nil
}

// hostPath resolves a host mount point under HostRootPath.
func (s *Source) hostPath(mountPoint string) string {
	if s.config.HostRootPath == "" {
		return mountPoint
	}
	return filepath.Join(s.config.HostRootPath, mountPoint)
}
