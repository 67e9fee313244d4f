// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package procfs reads raw kernel counters from /proc and /sys for the
// sampling domains.
package procfs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/antimetal/counterrates/pkg/sampling"
)

var _ sampling.CounterSource = (*Source)(nil)

// Config selects the filesystem roots and the processes whose threads are
// monitored.
type Config struct {
	HostProcPath string
	HostSysPath  string

	// HostRootPath is where the host's root filesystem is mounted. Mount
	// points listed from HostProcPath are resolved under it before statfs.
	HostRootPath string

	// PIDs lists the processes whose threads feed the io, sched, cpu and
	// faults domains. Empty means the agent's own process.
	PIDs []int

	// IncludePartitions reports partitions next to whole disks.
	IncludePartitions bool
}

// DefaultConfig returns a Config reading the real /proc and /sys.
func DefaultConfig() Config {
	return Config{
		HostProcPath:      "/proc",
		HostSysPath:       "/sys",
		HostRootPath:      "/",
		IncludePartitions: true,
	}
}

// ApplyDefaults fills empty paths.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.HostProcPath == "" {
		c.HostProcPath = defaults.HostProcPath
	}
	if c.HostSysPath == "" {
		c.HostSysPath = defaults.HostSysPath
	}
	if c.HostRootPath == "" {
		c.HostRootPath = defaults.HostRootPath
	}
}

// Validate ensures all paths are absolute. An empty HostRootPath means "/".
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.HostProcPath) {
		return fmt.Errorf("HostProcPath must be an absolute path, got: %q", c.HostProcPath)
	}
	if !filepath.IsAbs(c.HostSysPath) {
		return fmt.Errorf("HostSysPath must be an absolute path, got: %q", c.HostSysPath)
	}
	if c.HostRootPath != "" && !filepath.IsAbs(c.HostRootPath) {
		return fmt.Errorf("HostRootPath must be an absolute path, got: %q", c.HostRootPath)
	}
	for _, pid := range c.PIDs {
		if pid <= 0 {
			return fmt.Errorf("PIDs must be positive, got: %d", pid)
		}
	}
	return nil
}

// Source implements sampling.CounterSource on top of procfs.
//
// Observe never fails: unreadable or malformed files are logged at V(1) and
// surface as missing counters.
type Source struct {
	config Config
	logger logr.Logger

	listPartitions func(ctx context.Context) ([]disk.PartitionStat, error)
	statfs         func(path string, buf *unix.Statfs_t) error
}

// NewSource validates config and returns a Source.
func NewSource(logger logr.Logger, config Config) (*Source, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Source{
		config: config,
		logger: logger.WithName("procfs"),
		listPartitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		statfs: unix.Statfs,
	}, nil
}

// Observe reads the counters for domain.
func (s *Source) Observe(ctx context.Context, domain sampling.Domain) map[string]sampling.Counters {
	var (
		out map[string]sampling.Counters
		err error
	)

	switch domain {
	case sampling.DomainDisk:
		out, err = s.readDiskstats(ctx)
	case sampling.DomainNetwork:
		out = s.readNetwork()
	case sampling.DomainIO:
		out = s.readThreads(ctx, "io", parseTaskIO)
	case sampling.DomainSched:
		out = s.readThreads(ctx, "schedstat", parseSchedstat)
	case sampling.DomainCPU:
		out = s.readThreads(ctx, "stat", parseStatCPU)
	case sampling.DomainFaults:
		out = s.readThreads(ctx, "stat", parseStatFaults)
	case sampling.DomainMounts:
		out, err = s.readMounts(ctx)
	default:
		err = fmt.Errorf("%w: %s", sampling.ErrUnknownDomain, domain)
	}

	if err != nil {
		s.logger.V(1).Info("Failed to read counters", "domain", domain, "error", err)
		return map[string]sampling.Counters{}
	}
	if out == nil {
		out = map[string]sampling.Counters{}
	}
	s.logger.V(2).Info("Read counters", "domain", domain, "keys", len(out))
	return out
}
