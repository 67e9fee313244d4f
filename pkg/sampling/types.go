// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"errors"
	"fmt"
)

// Domain identifies a category of monitored resource. Each domain owns one
// SnapshotStore and one Calculator inside a Sampler.
type Domain string

const (
	DomainDisk    Domain = "disk"
	DomainNetwork Domain = "network"
	DomainIO      Domain = "io"
	DomainSched   Domain = "sched"
	DomainCPU     Domain = "cpu"
	DomainFaults  Domain = "faults"
	DomainMounts  Domain = "mounts"
)

// AllDomains lists every domain in a stable order.
var AllDomains = []Domain{
	DomainDisk,
	DomainNetwork,
	DomainIO,
	DomainSched,
	DomainCPU,
	DomainFaults,
	DomainMounts,
}

var (
	ErrUnknownDomain = errors.New("unknown sampling domain")
	ErrNoCalculator  = errors.New("no calculator registered for domain")
)

// ParseDomain converts a string into a known Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if _, ok := schemas[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
	return d, nil
}

// Counter names a raw monotonically increasing counter. The set of valid
// counters is closed per domain; see Schema.
type Counter string

// Disk counters, one map per block device.
const (
	CounterReadDone     Counter = "rdone"
	CounterReadSectors  Counter = "rsectors"
	CounterReadTime     Counter = "rtime"
	CounterWriteDone    Counter = "wdone"
	CounterWriteSectors Counter = "wsectors"
	CounterWriteTime    Counter = "wtime"
)

// IPv4 counters from the "Ip:" section of /proc/net/snmp.
const (
	CounterInReceives  Counter = "InReceives"
	CounterInDelivers  Counter = "InDelivers"
	CounterOutRequests Counter = "OutRequests"
	CounterOutDiscards Counter = "OutDiscards"
	CounterOutNoRoutes Counter = "OutNoRoutes"
)

// IPv6 counters from /proc/net/snmp6.
const (
	CounterIp6InReceives  Counter = "Ip6InReceives"
	CounterIp6InDelivers  Counter = "Ip6InDelivers"
	CounterIp6OutRequests Counter = "Ip6OutRequests"
	CounterIp6OutDiscards Counter = "Ip6OutDiscards"
	CounterIp6OutNoRoutes Counter = "Ip6OutNoRoutes"
)

// Device counters summed over all interfaces in /proc/net/dev.
const (
	CounterDevInBytes    Counter = "inbytes"
	CounterDevInPackets  Counter = "inpackets"
	CounterDevOutBytes   Counter = "outbytes"
	CounterDevOutPackets Counter = "outpackets"
)

// Per-thread I/O accounting counters.
const (
	CounterReadChars      Counter = "rchar"
	CounterWriteChars     Counter = "wchar"
	CounterReadSyscalls   Counter = "syscr"
	CounterWriteSyscalls  Counter = "syscw"
	CounterReadBytes      Counter = "read_bytes"
	CounterWriteBytes     Counter = "write_bytes"
	CounterCancelledBytes Counter = "cancelled_write_bytes"
)

// Per-thread scheduler counters. Run and wait time are in nanoseconds.
const (
	CounterRunTicks        Counter = "runticks"
	CounterWaitTicks       Counter = "waitticks"
	CounterContextSwitches Counter = "totctxsws"
)

// Per-thread CPU time (clock ticks) and page fault counters.
const (
	CounterUserTime    Counter = "utime"
	CounterSystemTime  Counter = "stime"
	CounterMinorFaults Counter = "minflt"
	CounterMajorFaults Counter = "majflt"
)

// Mount space gauges in bytes.
const (
	CounterTotalSpace  Counter = "total"
	CounterFreeSpace   Counter = "free"
	CounterUsableSpace Counter = "usable"
)

// Singleton keys used by the network domain.
const (
	KeyIPv4   = "ipv4"
	KeyIPv6   = "ipv6"
	KeyDevice = "device"
)

// schemas is the closed set of counters accepted for each domain.
var schemas = map[Domain]map[Counter]struct{}{
	DomainDisk: counterSet(
		CounterReadDone, CounterReadSectors, CounterReadTime,
		CounterWriteDone, CounterWriteSectors, CounterWriteTime,
	),
	DomainNetwork: counterSet(
		CounterInReceives, CounterInDelivers, CounterOutRequests, CounterOutDiscards, CounterOutNoRoutes,
		CounterIp6InReceives, CounterIp6InDelivers, CounterIp6OutRequests, CounterIp6OutDiscards, CounterIp6OutNoRoutes,
		CounterDevInBytes, CounterDevInPackets, CounterDevOutBytes, CounterDevOutPackets,
	),
	DomainIO: counterSet(
		CounterReadChars, CounterWriteChars, CounterReadSyscalls, CounterWriteSyscalls,
		CounterReadBytes, CounterWriteBytes, CounterCancelledBytes,
	),
	DomainSched:  counterSet(CounterRunTicks, CounterWaitTicks, CounterContextSwitches),
	DomainCPU:    counterSet(CounterUserTime, CounterSystemTime),
	DomainFaults: counterSet(CounterMinorFaults, CounterMajorFaults),
	DomainMounts: counterSet(CounterTotalSpace, CounterFreeSpace, CounterUsableSpace),
}

func counterSet(counters ...Counter) map[Counter]struct{} {
	set := make(map[Counter]struct{}, len(counters))
	for _, c := range counters {
		set[c] = struct{}{}
	}
	return set
}

// Accepts reports whether counter belongs to the domain's schema.
func (d Domain) Accepts(counter Counter) bool {
	_, ok := schemas[d][counter]
	return ok
}

// Schema returns the counters valid for the domain.
func (d Domain) Schema() []Counter {
	set := schemas[d]
	out := make([]Counter, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
