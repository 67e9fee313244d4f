// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/antimetal/counterrates/pkg/sampling"
)

const diskstatsFixture = `   8       0 sda 10000 50 9000 1553735339 10000 60 9000 1553735339 0 100 200
   8       1 sda1 500 0 400 300 200 0 100 50 0 10 20
 259       0 nvme0n1 7 0 8 9 10 0 11 12 0 13 14
   7       0 loop0 1 0 2 3 4 0 5 6 0 7 8
   1       0 ram0 1 2
`

const snmpFixture = `Ip: Forwarding DefaultTTL InReceives InHdrErrors InAddrErrors ForwDatagrams InUnknownProtos InDiscards InDelivers OutRequests OutDiscards OutNoRoutes ReasmTimeout ReasmReqds ReasmOKs ReasmFails FragOKs FragFails FragCreates
Ip: 1 64 2000 0 0 0 0 0 1900 1500 3 4 0 0 0 0 0 0 0
Icmp: InMsgs InErrors
Icmp: 45 0
`

const snmp6Fixture = `Ip6InReceives                   	700
Ip6InHdrErrors                  	0
Ip6InDelivers                   	650
Ip6OutRequests                  	600
Ip6OutDiscards                  	2
Ip6OutNoRoutes                  	1
Icmp6InMsgs                     	5
`

const netDevFixture = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:    1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0:    5000      50    0    0    0     0          0         0     3000      30    0    0    0     0       0          0
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestSource(t *testing.T, config Config) (*Source, string, string) {
	t.Helper()
	procRoot := t.TempDir()
	sysRoot := t.TempDir()
	config.HostProcPath = procRoot
	config.HostSysPath = sysRoot

	s, err := NewSource(logr.Discard(), config)
	require.NoError(t, err)
	return s, procRoot, sysRoot
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: DefaultConfig()},
		{name: "relative proc", config: Config{HostProcPath: "proc", HostSysPath: "/sys"}, wantErr: true},
		{name: "relative sys", config: Config{HostProcPath: "/proc", HostSysPath: "sys"}, wantErr: true},
		{name: "relative root", config: Config{HostProcPath: "/proc", HostSysPath: "/sys", HostRootPath: "host"}, wantErr: true},
		{name: "bad pid", config: Config{HostProcPath: "/proc", HostSysPath: "/sys", PIDs: []int{0}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestObserveDisk(t *testing.T) {
	t.Run("parses counters and drops virtual disks", func(t *testing.T) {
		s, procRoot, sysRoot := newTestSource(t, DefaultConfig())
		writeFile(t, filepath.Join(procRoot, "diskstats"), diskstatsFixture)
		require.NoError(t, os.MkdirAll(filepath.Join(sysRoot, "block"), 0o755))
		require.NoError(t, os.Symlink("../devices/virtual/block/loop0", filepath.Join(sysRoot, "block", "loop0")))
		require.NoError(t, os.Symlink("../devices/pci0000:00/0000:00:1f.2/block/sda", filepath.Join(sysRoot, "block", "sda")))

		got := s.Observe(context.Background(), sampling.DomainDisk)

		assert.Contains(t, got, "sda")
		assert.Contains(t, got, "sda1")
		assert.Contains(t, got, "nvme0n1")
		assert.NotContains(t, got, "loop0")
		assert.NotContains(t, got, "ram0", "short lines are ignored")

		assert.Equal(t, sampling.Counters{
			sampling.CounterReadDone:     10000,
			sampling.CounterReadSectors:  9000,
			sampling.CounterReadTime:     1553735339,
			sampling.CounterWriteDone:    10000,
			sampling.CounterWriteSectors: 9000,
			sampling.CounterWriteTime:    1553735339,
		}, got["sda"])
	})

	t.Run("partitions can be excluded", func(t *testing.T) {
		s, procRoot, _ := newTestSource(t, Config{IncludePartitions: false})
		writeFile(t, filepath.Join(procRoot, "diskstats"), diskstatsFixture)

		got := s.Observe(context.Background(), sampling.DomainDisk)
		assert.Contains(t, got, "sda")
		assert.NotContains(t, got, "sda1")
	})

	t.Run("missing file yields empty map", func(t *testing.T) {
		s, _, _ := newTestSource(t, DefaultConfig())
		got := s.Observe(context.Background(), sampling.DomainDisk)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestIsPartition(t *testing.T) {
	tests := map[string]bool{
		"sda":       false,
		"sda1":      true,
		"vdb2":      true,
		"nvme0n1":   false,
		"nvme0n1p1": true,
		"mmcblk0":   false,
		"mmcblk0p2": true,
		"loop0":     false,
		"dm-0":      false,
		"":          false,
	}
	for device, expected := range tests {
		assert.Equal(t, expected, isPartition(device), device)
	}
}

func TestObserveNetwork(t *testing.T) {
	t.Run("all three sources", func(t *testing.T) {
		s, procRoot, _ := newTestSource(t, DefaultConfig())
		writeFile(t, filepath.Join(procRoot, "net", "snmp"), snmpFixture)
		writeFile(t, filepath.Join(procRoot, "net", "snmp6"), snmp6Fixture)
		writeFile(t, filepath.Join(procRoot, "net", "dev"), netDevFixture)

		got := s.Observe(context.Background(), sampling.DomainNetwork)

		assert.Equal(t, sampling.Counters{
			sampling.CounterInReceives:  2000,
			sampling.CounterInDelivers:  1900,
			sampling.CounterOutRequests: 1500,
			sampling.CounterOutDiscards: 3,
			sampling.CounterOutNoRoutes: 4,
		}, got[sampling.KeyIPv4])

		assert.Equal(t, sampling.Counters{
			sampling.CounterIp6InReceives:  700,
			sampling.CounterIp6InDelivers:  650,
			sampling.CounterIp6OutRequests: 600,
			sampling.CounterIp6OutDiscards: 2,
			sampling.CounterIp6OutNoRoutes: 1,
		}, got[sampling.KeyIPv6])

		assert.Equal(t, sampling.Counters{
			sampling.CounterDevInBytes:    6000,
			sampling.CounterDevInPackets:  60,
			sampling.CounterDevOutBytes:   4000,
			sampling.CounterDevOutPackets: 40,
		}, got[sampling.KeyDevice])
	})

	t.Run("ipv6 disabled keeps the rest", func(t *testing.T) {
		s, procRoot, _ := newTestSource(t, DefaultConfig())
		writeFile(t, filepath.Join(procRoot, "net", "snmp"), snmpFixture)
		writeFile(t, filepath.Join(procRoot, "net", "dev"), netDevFixture)

		got := s.Observe(context.Background(), sampling.DomainNetwork)
		assert.Contains(t, got, sampling.KeyIPv4)
		assert.Contains(t, got, sampling.KeyDevice)
		assert.NotContains(t, got, sampling.KeyIPv6)
	})

	t.Run("mismatched snmp section", func(t *testing.T) {
		s, procRoot, _ := newTestSource(t, DefaultConfig())
		writeFile(t, filepath.Join(procRoot, "net", "snmp"), "Ip: A B C\nIp: 1 2\n")

		got := s.Observe(context.Background(), sampling.DomainNetwork)
		assert.NotContains(t, got, sampling.KeyIPv4)
	})
}

func TestObserveThreads(t *testing.T) {
	const pid = 4242
	s, procRoot, _ := newTestSource(t, Config{PIDs: []int{pid}})

	taskDir := filepath.Join(procRoot, "4242", "task")
	writeFile(t, filepath.Join(taskDir, "4242", "io"), `rchar: 2000
wchar: 1500
syscr: 30
syscw: 20
read_bytes: 1000
write_bytes: 500
cancelled_write_bytes: 0
`)
	writeFile(t, filepath.Join(taskDir, "4242", "schedstat"), "123456789 987654 42\n")
	writeFile(t, filepath.Join(taskDir, "4242", "stat"),
		"4242 (my (odd) proc) S 1 4242 4242 0 -1 4194560 111 0 22 0 700 300 0 0 20 0 1 0 100 0 0\n")
	writeFile(t, filepath.Join(taskDir, "4243", "schedstat"), "garbage\n")
	require.NoError(t, os.MkdirAll(filepath.Join(taskDir, "not-a-tid"), 0o755))

	key := ThreadKey(pid, pid)
	ctx := context.Background()

	t.Run("io", func(t *testing.T) {
		got := s.Observe(ctx, sampling.DomainIO)
		require.Contains(t, got, key)
		assert.Equal(t, int64(2000), got[key][sampling.CounterReadChars])
		assert.Equal(t, int64(500), got[key][sampling.CounterWriteBytes])
		assert.Len(t, got[key], 7)
	})

	t.Run("sched", func(t *testing.T) {
		got := s.Observe(ctx, sampling.DomainSched)
		assert.Equal(t, sampling.Counters{
			sampling.CounterRunTicks:        123456789,
			sampling.CounterWaitTicks:       987654,
			sampling.CounterContextSwitches: 42,
		}, got[key])
		assert.NotContains(t, got, ThreadKey(pid, 4243), "unparseable thread is skipped")
	})

	t.Run("cpu", func(t *testing.T) {
		got := s.Observe(ctx, sampling.DomainCPU)
		assert.Equal(t, sampling.Counters{
			sampling.CounterUserTime:   700,
			sampling.CounterSystemTime: 300,
		}, got[key])
	})

	t.Run("faults", func(t *testing.T) {
		got := s.Observe(ctx, sampling.DomainFaults)
		assert.Equal(t, sampling.Counters{
			sampling.CounterMinorFaults: 111,
			sampling.CounterMajorFaults: 22,
		}, got[key])
	})

	t.Run("missing process", func(t *testing.T) {
		other, _, _ := newTestSource(t, Config{PIDs: []int{99999}})
		assert.Empty(t, other.Observe(ctx, sampling.DomainIO))
	})
}

func TestObserveMounts(t *testing.T) {
	s, _, _ := newTestSource(t, DefaultConfig())
	s.listPartitions = func(context.Context) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
			{Device: "/dev/sda2", Mountpoint: "/home", Fstype: "xfs"},
			{Device: "proc", Mountpoint: "/proc", Fstype: "proc"},
			{Device: "tmpfs", Mountpoint: "/run", Fstype: "tmpfs"},
			{Device: "/dev/sda3", Mountpoint: "/etc/hosts", Fstype: "ext4"},
			{Device: "/dev/sda4", Mountpoint: "/sys/fs/bpf", Fstype: "ext4"},
			{Device: "/dev/pts", Mountpoint: "/dev/pts", Fstype: "devpts"},
			{Device: "/dev/sdb1", Mountpoint: "/broken", Fstype: "ext4"},
		}, nil
	}
	s.statfs = func(path string, buf *unix.Statfs_t) error {
		if path == "/broken" {
			return errors.New("stale handle")
		}
		buf.Bsize = 4096
		buf.Blocks = 100
		buf.Bfree = 40
		buf.Bavail = 30
		return nil
	}

	got := s.Observe(context.Background(), sampling.DomainMounts)
	require.Len(t, got, 2)

	root := got[sampling.MountKey("/dev/sda1", "/")]
	assert.Equal(t, int64(409600), root[sampling.CounterTotalSpace])
	assert.Equal(t, int64(163840), root[sampling.CounterFreeSpace])
	assert.Equal(t, int64(122880), root[sampling.CounterUsableSpace])
	assert.Contains(t, got, sampling.MountKey("/dev/sda2", "/home"))

	t.Run("listing failure", func(t *testing.T) {
		s.listPartitions = func(context.Context) ([]disk.PartitionStat, error) {
			return nil, errors.New("no mountinfo")
		}
		assert.Empty(t, s.Observe(context.Background(), sampling.DomainMounts))
	})
}

func TestObserveMounts_HostRoot(t *testing.T) {
	s, _, _ := newTestSource(t, Config{HostRootPath: "/host"})
	s.listPartitions = func(context.Context) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
			{Device: "/dev/sda2", Mountpoint: "/data", Fstype: "xfs"},
		}, nil
	}
	var statted []string
	s.statfs = func(path string, buf *unix.Statfs_t) error {
		statted = append(statted, path)
		buf.Bsize = 512
		buf.Blocks = 10
		return nil
	}

	got := s.Observe(context.Background(), sampling.DomainMounts)
	assert.ElementsMatch(t, []string{"/host", "/host/data"}, statted)
	assert.Contains(t, got, sampling.MountKey("/dev/sda1", "/"))
	assert.Contains(t, got, sampling.MountKey("/dev/sda2", "/data"))
	assert.Equal(t, int64(5120), got[sampling.MountKey("/dev/sda2", "/data")][sampling.CounterTotalSpace])
}

func TestObserveUnknownDomain(t *testing.T) {
	s, _, _ := newTestSource(t, DefaultConfig())
	got := s.Observe(context.Background(), sampling.Domain("gpu"))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
