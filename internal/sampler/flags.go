// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package sampler

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antimetal/counterrates/pkg/sampling"
)

var (
	interval          time.Duration
	domains           string
	pids              string
	includePartitions bool
)

func init() {
	flag.DurationVar(&interval, "sampling-interval", 5*time.Second,
		"Interval between counter snapshots")
	flag.StringVar(&domains, "sampling-domains", "",
		"Comma-separated domains to sample (disk, network, io, sched, cpu, faults, mounts). Empty samples all")
	flag.StringVar(&pids, "sampling-pids", "",
		"Comma-separated PIDs whose threads feed the per-thread domains. Empty monitors the agent itself")
	flag.BoolVar(&includePartitions, "sampling-include-partitions", true,
		"Report disk partitions next to whole disks")
}

// ConfigFromFlags returns the sampling config selected on the command line.
func ConfigFromFlags() (sampling.Config, error) {
	cfg := sampling.Config{Interval: interval}
	if domains == "" {
		return cfg, nil
	}

	cfg.EnabledDomains = make(map[sampling.Domain]bool)
	for _, name := range strings.Split(domains, ",") {
		d, err := sampling.ParseDomain(strings.TrimSpace(name))
		if err != nil {
			return cfg, err
		}
		cfg.EnabledDomains[d] = true
	}
	return cfg, nil
}

// PIDsFromFlags returns the monitored PIDs selected on the command line.
func PIDsFromFlags() ([]int, error) {
	if pids == "" {
		return nil, nil
	}
	var out []int
	for _, field := range strings.Split(pids, ",") {
		pid, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q: %w", field, err)
		}
		out = append(out, pid)
	}
	return out, nil
}

// IncludePartitions reports whether partitions are sampled.
func IncludePartitions() bool { return includePartitions }
