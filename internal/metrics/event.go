// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"time"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// MetricEvent carries one published rate record through the pipeline.
//
// Data holds the record the domain's calculator produced:
//   - map[string]sampling.DiskMetrics for "disk"
//   - sampling.NetworkMetrics for "network"
//   - map[string]sampling.IOMetrics for "io"
//   - map[string]sampling.SchedMetrics for "sched"
//   - map[string]sampling.CPUUtilization for "cpu"
//   - map[string]sampling.FaultMetrics for "faults"
//   - map[string]sampling.MountMetrics for "mounts"
type MetricEvent struct {
	Timestamp   time.Time
	Source      string
	NodeName    string
	ClusterName string

	Domain    sampling.Domain
	EventType EventType

	// Window the rates were computed over, in epoch milliseconds.
	StartMillis int64
	EndMillis   int64

	Data any
}

// EventType indicates how to interpret the metric.
type EventType string

const (
	EventTypeGauge    EventType = "gauge"    // Rates averaged over a window
	EventTypeSnapshot EventType = "snapshot" // Point-in-time values
)

// EventTypeFor returns the event type of a domain's records. Mount space is
// reported as is; every other domain is a rate.
func EventTypeFor(domain sampling.Domain) EventType {
	if domain == sampling.DomainMounts {
		return EventTypeSnapshot
	}
	return EventTypeGauge
}

// NewMetricEvent wraps a sampling result for publication.
func NewMetricEvent(result sampling.Result, source, nodeName, clusterName string) MetricEvent {
	return MetricEvent{
		Timestamp:   time.UnixMilli(result.EndMillis),
		Source:      source,
		NodeName:    nodeName,
		ClusterName: clusterName,
		Domain:      result.Domain,
		EventType:   EventTypeFor(result.Domain),
		StartMillis: result.StartMillis,
		EndMillis:   result.EndMillis,
		Data:        result.Data,
	}
}

// Router routes metric events to consumers.
type Router interface {
	// Publish emits a metrics event to all registered consumers
	Publish(event MetricEvent) error

	// PublishBatch emits multiple metrics events
	PublishBatch(events []MetricEvent) error
}
