// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/sampling"
)

const (
	// MaxInstrumentCacheSize limits the instrument cache size
	MaxInstrumentCacheSize = 1000
	// ErrorThresholdForHealthCheck defines when to log high error rates
	ErrorThresholdForHealthCheck = 100
	// HeartbeatInterval defines how often to log processing heartbeat
	HeartbeatInterval = 1000
)

// gauge describes one exported instrument.
type gauge struct {
	name        string
	description string
	unit        string
}

var (
	diskUtilization = gauge{"system.disk.utilization", "Fraction of the window the disk was busy with completed requests", "1"}
	diskAwait       = gauge{"system.disk.await", "Average time a completed request spent queued and serviced", "s"}
	diskServiceRate = gauge{"system.disk.service_rate", "Completed bytes per second of service time", "By/s"}

	netPacketRate = gauge{"system.network.packet_rate", "Packets per second", "{packet}/s"}
	netDropRate   = gauge{"system.network.drop_rate", "Dropped packets per second", "{packet}/s"}
	netBitRate    = gauge{"system.network.io.rate", "Bits per second over all interfaces", "bit/s"}

	ioThroughput     = gauge{"process.thread.io.throughput", "Storage bytes per second", "By/s"}
	ioSyscallRate    = gauge{"process.thread.io.syscall_rate", "Read and write syscalls per second", "{syscall}/s"}
	pageCacheThrough = gauge{"process.thread.io.page_cache.throughput", "Bytes per second served from or into the page cache", "By/s"}

	schedRuntime      = gauge{"process.thread.sched.runtime", "Average time on CPU per timeslice", "s"}
	schedWaittime     = gauge{"process.thread.sched.wait_time", "Average time waiting on a runqueue per timeslice", "s"}
	contextSwitchRate = gauge{"process.thread.context_switch_rate", "Timeslices per second", "{switch}/s"}

	cpuUtilization = gauge{"process.thread.cpu.utilization", "CPU time as a percentage of wall time", "%"}
	faultRate      = gauge{"process.thread.paging.fault_rate", "Page faults per second", "{fault}/s"}

	filesystemSpace = gauge{"system.filesystem.space", "Filesystem space", "By"}
)

const (
	attrDirection       = attribute.Key("direction")
	attrFaultType       = attribute.Key("system.paging.type")
	attrFilesystemState = attribute.Key("system.filesystem.state")
	attrThreadKey       = attribute.Key("thread.key")
)

// Transformer records sampling results as OpenTelemetry gauges.
type Transformer struct {
	meter          metric.Meter
	logger         logr.Logger
	serviceVersion string
	instanceID     string

	instrumentsMu sync.RWMutex
	instruments   map[string]metric.Float64Gauge
}

func NewTransformer(meter metric.Meter, logger logr.Logger, serviceVersion, instanceID string) *Transformer {
	return &Transformer{
		meter:          meter,
		logger:         logger.WithName("otel-transformer"),
		serviceVersion: serviceVersion,
		instanceID:     instanceID,
		instruments:    make(map[string]metric.Float64Gauge),
	}
}

// TransformAndRecord records every value of event. Recording a gauge is
// synchronous and has no trace context to carry, so a background context is
// used.
func (t *Transformer) TransformAndRecord(event metrics.MetricEvent) error {
	ctx := context.Background()
	attrs := t.buildAttributes(event)

	switch event.Domain {
	case sampling.DomainDisk:
		return t.recordDisk(ctx, event.Data, attrs)
	case sampling.DomainNetwork:
		return t.recordNetwork(ctx, event.Data, attrs)
	case sampling.DomainIO:
		return t.recordIO(ctx, event.Data, attrs)
	case sampling.DomainSched:
		return t.recordSched(ctx, event.Data, attrs)
	case sampling.DomainCPU:
		return t.recordCPU(ctx, event.Data, attrs)
	case sampling.DomainFaults:
		return t.recordFaults(ctx, event.Data, attrs)
	case sampling.DomainMounts:
		return t.recordMounts(ctx, event.Data, attrs)
	default:
		t.logger.V(1).Info("Unknown domain", "domain", event.Domain)
		return nil
	}
}

// buildAttributes returns the attributes shared by every data point of event.
func (t *Transformer) buildAttributes(event metrics.MetricEvent) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if event.NodeName != "" {
		attrs = append(attrs, semconv.HostName(event.NodeName))
	}
	if event.ClusterName != "" {
		attrs = append(attrs, semconv.K8SClusterName(event.ClusterName))
	}
	if t.instanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(t.instanceID))
	}
	if t.serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(t.serviceVersion))
	}
	return attrs
}

func (t *Transformer) getOrCreateFloat64Gauge(g gauge) (metric.Float64Gauge, error) {
	t.instrumentsMu.RLock()
	inst, exists := t.instruments[g.name]
	t.instrumentsMu.RUnlock()
	if exists {
		return inst, nil
	}

	t.instrumentsMu.Lock()
	defer t.instrumentsMu.Unlock()

	if inst, exists := t.instruments[g.name]; exists {
		return inst, nil
	}

	inst, err := t.meter.Float64Gauge(g.name,
		metric.WithDescription(g.description),
		metric.WithUnit(g.unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", g.name, err)
	}

	if len(t.instruments) >= MaxInstrumentCacheSize {
		t.logger.V(1).Info("Instrument cache size limit reached",
			"current_size", len(t.instruments), "limit", MaxInstrumentCacheSize)
		return inst, nil
	}
	t.instruments[g.name] = inst
	return inst, nil
}

// record writes one data point. base is never modified.
func (t *Transformer) record(ctx context.Context, g gauge, value float64, base []attribute.KeyValue, extra ...attribute.KeyValue) error {
	inst, err := t.getOrCreateFloat64Gauge(g)
	if err != nil {
		return err
	}
	attrs := make([]attribute.KeyValue, 0, len(base)+len(extra))
	attrs = append(attrs, base...)
	attrs = append(attrs, extra...)
	inst.Record(ctx, value, metric.WithAttributes(attrs...))
	return nil
}

// point is one value of a record together with its own attributes.
type point struct {
	gauge gauge
	value float64
	attrs []attribute.KeyValue
}

func (t *Transformer) recordPoints(ctx context.Context, points []point, base []attribute.KeyValue) error {
	for _, p := range points {
		if err := t.record(ctx, p.gauge, p.value, base, p.attrs...); err != nil {
			return err
		}
	}
	return nil
}

func unexpectedData(domain sampling.Domain, data any) error {
	return fmt.Errorf("unexpected data type %T for domain %s", data, domain)
}

func (t *Transformer) recordDisk(ctx context.Context, data any, base []attribute.KeyValue) error {
	disks, ok := data.(map[string]sampling.DiskMetrics)
	if !ok {
		return unexpectedData(sampling.DomainDisk, data)
	}
	for device, m := range disks {
		dev := semconv.SystemDevice(device)
		if err := t.recordPoints(ctx, []point{
			{diskUtilization, m.Utilization, []attribute.KeyValue{dev}},
			{diskAwait, m.Await, []attribute.KeyValue{dev}},
			{diskServiceRate, m.ServiceRate, []attribute.KeyValue{dev}},
		}, base); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) recordNetwork(ctx context.Context, data any, base []attribute.KeyValue) error {
	m, ok := data.(sampling.NetworkMetrics)
	if !ok {
		return unexpectedData(sampling.DomainNetwork, data)
	}

	for _, s := range []sampling.NetInterfaceSummary{m.In, m.Out} {
		dir := semconv.NetworkIoDirectionReceive
		if s.Direction == sampling.DirectionOut {
			dir = semconv.NetworkIoDirectionTransmit
		}
		v4 := []attribute.KeyValue{dir, semconv.NetworkTypeIpv4}
		v6 := []attribute.KeyValue{dir, semconv.NetworkTypeIpv6}
		if err := t.recordPoints(ctx, []point{
			{netPacketRate, s.PacketRate4, v4},
			{netDropRate, s.DropRate4, v4},
			{netPacketRate, s.PacketRate6, v6},
			{netDropRate, s.DropRate6, v6},
			{netBitRate, s.BitsPerSecond, []attribute.KeyValue{dir}},
		}, base); err != nil {
			return err
		}
	}
	return nil
}

// threadAttributes splits a "pid/tid" key into process.pid and thread.id.
// Keys of any other shape are exported verbatim.
func threadAttributes(key string) []attribute.KeyValue {
	pidStr, tidStr, found := strings.Cut(key, "/")
	if found {
		pid, perr := strconv.Atoi(pidStr)
		tid, terr := strconv.Atoi(tidStr)
		if perr == nil && terr == nil {
			return []attribute.KeyValue{semconv.ProcessPID(pid), semconv.ThreadID(tid)}
		}
	}
	return []attribute.KeyValue{attrThreadKey.String(key)}
}

func withAttr(attrs []attribute.KeyValue, kv attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+1)
	out = append(out, attrs...)
	return append(out, kv)
}

func (t *Transformer) recordIO(ctx context.Context, data any, base []attribute.KeyValue) error {
	threads, ok := data.(map[string]sampling.IOMetrics)
	if !ok {
		return unexpectedData(sampling.DomainIO, data)
	}
	for key, m := range threads {
		th := threadAttributes(key)
		read := withAttr(th, attrDirection.String("read"))
		write := withAttr(th, attrDirection.String("write"))
		total := withAttr(th, attrDirection.String("total"))
		if err := t.recordPoints(ctx, []point{
			{ioThroughput, m.AvgReadThroughputBps, read},
			{ioThroughput, m.AvgWriteThroughputBps, write},
			{ioThroughput, m.AvgTotalThroughputBps, total},
			{ioSyscallRate, m.AvgReadSyscallRate, read},
			{ioSyscallRate, m.AvgWriteSyscallRate, write},
			{ioSyscallRate, m.AvgTotalSyscallRate, total},
			{pageCacheThrough, m.AvgPageCacheReadThroughputBps, read},
			{pageCacheThrough, m.AvgPageCacheWriteThroughputBps, write},
			{pageCacheThrough, m.AvgPageCacheTotalThroughputBps, total},
		}, base); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) recordSched(ctx context.Context, data any, base []attribute.KeyValue) error {
	threads, ok := data.(map[string]sampling.SchedMetrics)
	if !ok {
		return unexpectedData(sampling.DomainSched, data)
	}
	for key, m := range threads {
		th := threadAttributes(key)
		if err := t.recordPoints(ctx, []point{
			{schedRuntime, m.AvgRuntime, th},
			{schedWaittime, m.AvgWaittime, th},
			{contextSwitchRate, m.ContextSwitchRate, th},
		}, base); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) recordCPU(ctx context.Context, data any, base []attribute.KeyValue) error {
	threads, ok := data.(map[string]sampling.CPUUtilization)
	if !ok {
		return unexpectedData(sampling.DomainCPU, data)
	}
	for key, m := range threads {
		if err := t.record(ctx, cpuUtilization, m.Percent, base, threadAttributes(key)...); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) recordFaults(ctx context.Context, data any, base []attribute.KeyValue) error {
	threads, ok := data.(map[string]sampling.FaultMetrics)
	if !ok {
		return unexpectedData(sampling.DomainFaults, data)
	}
	for key, m := range threads {
		th := threadAttributes(key)
		if err := t.recordPoints(ctx, []point{
			{faultRate, m.MajorFaultRate, withAttr(th, attrFaultType.String("major"))},
			{faultRate, m.MinorFaultRate, withAttr(th, attrFaultType.String("minor"))},
		}, base); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) recordMounts(ctx context.Context, data any, base []attribute.KeyValue) error {
	mounts, ok := data.(map[string]sampling.MountMetrics)
	if !ok {
		return unexpectedData(sampling.DomainMounts, data)
	}
	for _, m := range mounts {
		fs := []attribute.KeyValue{
			semconv.SystemDevice(m.Partition),
			semconv.SystemFilesystemMountpoint(m.MountPoint),
		}
		if err := t.recordPoints(ctx, []point{
			{filesystemSpace, float64(m.TotalSpace), withAttr(fs, attrFilesystemState.String("total"))},
			{filesystemSpace, float64(m.FreeSpace), withAttr(fs, attrFilesystemState.String("free"))},
			{filesystemSpace, float64(m.UsableSpace), withAttr(fs, attrFilesystemState.String("usable"))},
		}, base); err != nil {
			return err
		}
	}
	return nil
}
