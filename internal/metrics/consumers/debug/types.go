// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import "time"

// LogEntry is one JSON formatted log line
type LogEntry struct {
	Consumer string         `json:"consumer"`
	Message  string         `json:"message"`
	Event    *EventSummary  `json:"event"`
	Data     any            `json:"data,omitempty"`
	Stats    *ConsumerStats `json:"stats,omitempty"`
}

// EventSummary is a condensed view of a metric event
type EventSummary struct {
	Domain        string  `json:"domain"`
	EventType     string  `json:"event_type"`
	Source        string  `json:"source,omitempty"`
	NodeName      string  `json:"node_name,omitempty"`
	ClusterName   string  `json:"cluster_name,omitempty"`
	StartMillis   int64   `json:"start_millis"`
	EndMillis     int64   `json:"end_millis"`
	WindowSeconds float64 `json:"window_seconds"`
	DataType      string  `json:"data_type,omitempty"`
	// Keys is the number of devices, threads or mounts in the record
	Keys int `json:"keys"`
}

// ConsumerStats are runtime statistics of the debug consumer
type ConsumerStats struct {
	EventsProcessed uint64            `json:"events_processed"`
	ErrorsCount     uint64            `json:"errors_count"`
	Uptime          time.Duration     `json:"uptime"`
	EventsByDomain  map[string]uint64 `json:"events_by_domain"`
}
