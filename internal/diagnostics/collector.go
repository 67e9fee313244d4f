// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diagnostics

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antimetal/counterrates/pkg/sampling"
)

const namespace = "counterrates"

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports the latest result of every domain as Prometheus gauges.
// Values are read at scrape time; nothing is cached.
type Collector struct {
	reader Reader
	logger logr.Logger

	window *prometheus.Desc

	diskUtilization *prometheus.Desc
	diskAwait       *prometheus.Desc
	diskServiceRate *prometheus.Desc

	netPacketRate *prometheus.Desc
	netDropRate   *prometheus.Desc
	netBitRate    *prometheus.Desc

	ioThroughput        *prometheus.Desc
	ioSyscallRate       *prometheus.Desc
	pageCacheThroughput *prometheus.Desc

	schedRuntime      *prometheus.Desc
	schedWaittime     *prometheus.Desc
	contextSwitchRate *prometheus.Desc

	cpuPercent *prometheus.Desc
	faultRate  *prometheus.Desc

	filesystemBytes *prometheus.Desc
}

func NewCollector(reader Reader, logger logr.Logger) *Collector {
	threadDirection := []string{"thread", "direction"}
	return &Collector{
		reader: reader,
		logger: logger.WithName("collector"),

		window: desc("window_seconds", "Length of the window the latest result covers", "domain"),

		diskUtilization: desc("disk_utilization_ratio", "Fraction of the window the device was busy", "device"),
		diskAwait:       desc("disk_await_milliseconds", "Average time per completed disk operation", "device"),
		diskServiceRate: desc("disk_service_rate_bytes_per_millisecond", "Bytes transferred per millisecond of busy time", "device"),

		netPacketRate: desc("network_packets_per_second", "IP packets per second", "direction", "ip_version"),
		netDropRate:   desc("network_drops_per_second", "IP packets dropped per second", "direction", "ip_version"),
		netBitRate:    desc("network_bits_per_second", "Bits per second over all interfaces", "direction"),

		ioThroughput:        desc("thread_io_bytes_per_second", "Storage bytes per second", threadDirection...),
		ioSyscallRate:       desc("thread_io_syscalls_per_second", "Read and write syscalls per second", threadDirection...),
		pageCacheThroughput: desc("thread_page_cache_bytes_per_second", "Bytes per second through the page cache", threadDirection...),

		schedRuntime:      desc("thread_sched_runtime_seconds", "Average time on CPU per context switch", "thread"),
		schedWaittime:     desc("thread_sched_wait_seconds", "Average runqueue wait per context switch", "thread"),
		contextSwitchRate: desc("thread_context_switches_per_second", "Context switches per second", "thread"),

		cpuPercent: desc("thread_cpu_percent", "CPU time as a percentage of the window", "thread"),
		faultRate:  desc("thread_page_faults_per_second", "Page faults per second", "thread", "type"),

		filesystemBytes: desc("filesystem_bytes", "Filesystem space by state", "device", "mountpoint", "state"),
	}
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.window,
		c.diskUtilization, c.diskAwait, c.diskServiceRate,
		c.netPacketRate, c.netDropRate, c.netBitRate,
		c.ioThroughput, c.ioSyscallRate, c.pageCacheThroughput,
		c.schedRuntime, c.schedWaittime, c.contextSwitchRate,
		c.cpuPercent, c.faultRate,
		c.filesystemBytes,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, domain := range c.reader.Domains() {
		result, ok := c.reader.GetLatest(domain)
		if !ok {
			continue
		}
		window := float64(result.EndMillis-result.StartMillis) / 1000.0
		ch <- gauge(c.window, window, string(domain))
		c.collectResult(ch, result)
	}
}

func gauge(d *prometheus.Desc, value float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.GaugeValue, value, labels...)
}

func (c *Collector) collectResult(ch chan<- prometheus.Metric, result sampling.Result) {
	switch data := result.Data.(type) {
	case map[string]sampling.DiskMetrics:
		for device, m := range data {
			ch <- gauge(c.diskUtilization, m.Utilization, device)
			ch <- gauge(c.diskAwait, m.Await, device)
			ch <- gauge(c.diskServiceRate, m.ServiceRate, device)
		}
	case sampling.NetworkMetrics:
		for _, s := range []sampling.NetInterfaceSummary{data.In, data.Out} {
			dir := string(s.Direction)
			ch <- gauge(c.netPacketRate, s.PacketRate4, dir, "ipv4")
			ch <- gauge(c.netDropRate, s.DropRate4, dir, "ipv4")
			ch <- gauge(c.netPacketRate, s.PacketRate6, dir, "ipv6")
			ch <- gauge(c.netDropRate, s.DropRate6, dir, "ipv6")
			ch <- gauge(c.netBitRate, s.BitsPerSecond, dir)
		}
	case map[string]sampling.IOMetrics:
		for thread, m := range data {
			ch <- gauge(c.ioThroughput, m.AvgReadThroughputBps, thread, "read")
			ch <- gauge(c.ioThroughput, m.AvgWriteThroughputBps, thread, "write")
			ch <- gauge(c.ioThroughput, m.AvgTotalThroughputBps, thread, "total")
			ch <- gauge(c.ioSyscallRate, m.AvgReadSyscallRate, thread, "read")
			ch <- gauge(c.ioSyscallRate, m.AvgWriteSyscallRate, thread, "write")
			ch <- gauge(c.ioSyscallRate, m.AvgTotalSyscallRate, thread, "total")
			ch <- gauge(c.pageCacheThroughput, m.AvgPageCacheReadThroughputBps, thread, "read")
			ch <- gauge(c.pageCacheThroughput, m.AvgPageCacheWriteThroughputBps, thread, "write")
			ch <- gauge(c.pageCacheThroughput, m.AvgPageCacheTotalThroughputBps, thread, "total")
		}
	case map[string]sampling.SchedMetrics:
		for thread, m := range data {
			ch <- gauge(c.schedRuntime, m.AvgRuntime, thread)
			ch <- gauge(c.schedWaittime, m.AvgWaittime, thread)
			ch <- gauge(c.contextSwitchRate, m.ContextSwitchRate, thread)
		}
	case map[string]sampling.CPUUtilization:
		for thread, m := range data {
			ch <- gauge(c.cpuPercent, m.Percent, thread)
		}
	case map[string]sampling.FaultMetrics:
		for thread, m := range data {
			ch <- gauge(c.faultRate, m.MajorFaultRate, thread, "major")
			ch <- gauge(c.faultRate, m.MinorFaultRate, thread, "minor")
		}
	case map[string]sampling.MountMetrics:
		for _, m := range data {
			ch <- gauge(c.filesystemBytes, float64(m.TotalSpace), m.Partition, m.MountPoint, "total")
			ch <- gauge(c.filesystemBytes, float64(m.FreeSpace), m.Partition, m.MountPoint, "free")
			ch <- gauge(c.filesystemBytes, float64(m.UsableSpace), m.Partition, m.MountPoint, "usable")
		}
	default:
		c.logger.V(1).Info("skipping result with unexpected data", "domain", result.Domain, "type", fmt.Sprintf("%T", result.Data))
	}
}
