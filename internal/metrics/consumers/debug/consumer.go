// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package debug logs every published rate record.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/counterrates/internal/metrics"
)

var _ metrics.Consumer = (*Consumer)(nil)

const consumerName = "debug"

type Consumer struct {
	config Config
	logger logr.Logger

	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	eventsProcessed atomic.Uint64
	errorsCount     atomic.Uint64
	startTime       time.Time

	statsMu        sync.Mutex
	eventsByDomain map[string]uint64
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Consumer{
		config:         config,
		logger:         logger.WithName("debug-consumer"),
		startTime:      time.Now(),
		eventsByDomain: make(map[string]uint64),
	}
	c.healthy.Store(true)
	return c, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent logs event synchronously.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if !c.config.ShouldLogDomain(event.Domain) || !c.config.ShouldLogSource(event.Source) {
		return nil
	}

	if err := c.processEvent(event); err != nil {
		c.logger.Error(err, "Failed to process metrics event",
			"domain", event.Domain, "source", event.Source)
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}

	n := c.eventsProcessed.Add(1)
	if c.config.StatsInterval > 0 && n%c.config.StatsInterval == 0 {
		c.logStats()
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting debug consumer",
		"log_level", c.config.LogLevel,
		"log_format", c.config.LogFormat,
		"include_data", c.config.IncludeEventData)
	return nil
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsProcessed.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

func (c *Consumer) processEvent(event metrics.MetricEvent) error {
	c.statsMu.Lock()
	c.eventsByDomain[string(event.Domain)]++
	c.statsMu.Unlock()

	summary := summarize(event)
	if c.config.LogFormat == LogFormatJSON {
		return c.logEventJSON(event, summary)
	}
	return c.logEventText(event, summary)
}

func (c *Consumer) includeData() bool {
	return c.config.IncludeEventData && c.config.LogLevel >= LogLevelVerbose
}

func (c *Consumer) logEventJSON(event metrics.MetricEvent, summary *EventSummary) error {
	entry := LogEntry{
		Consumer: consumerName,
		Message:  "Rate record received",
		Event:    summary,
	}
	if c.includeData() {
		data, err := c.truncateData(event.Data)
		if err != nil {
			return err
		}
		entry.Data = data
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	c.logger.Info(string(b))
	return nil
}

func (c *Consumer) logEventText(event metrics.MetricEvent, summary *EventSummary) error {
	kv := []any{
		"domain", summary.Domain,
		"window_seconds", summary.WindowSeconds,
	}
	if c.config.LogLevel >= LogLevelDetails {
		kv = append(kv,
			"event_type", summary.EventType,
			"source", summary.Source,
			"node", summary.NodeName,
			"keys", summary.Keys)
	}
	if c.config.LogLevel >= LogLevelVerbose {
		kv = append(kv, "data_type", summary.DataType)
	}
	if c.includeData() {
		data, err := c.truncateData(event.Data)
		if err != nil {
			return err
		}
		kv = append(kv, "data", data)
	}

	c.logger.Info("Rate record received", kv...)
	return nil
}

// summarize condenses event for logging.
func summarize(event metrics.MetricEvent) *EventSummary {
	s := &EventSummary{
		Domain:        string(event.Domain),
		EventType:     string(event.EventType),
		Source:        event.Source,
		NodeName:      event.NodeName,
		ClusterName:   event.ClusterName,
		StartMillis:   event.StartMillis,
		EndMillis:     event.EndMillis,
		WindowSeconds: float64(event.EndMillis-event.StartMillis) / 1000,
	}
	if event.Data == nil {
		return s
	}

	v := reflect.ValueOf(event.Data)
	s.DataType = v.Type().String()
	if v.Kind() == reflect.Map {
		s.Keys = v.Len()
	} else {
		s.Keys = 1
	}
	return s
}

// truncateData returns the JSON encoding of data as a string, cut to
// MaxDataLength.
func (c *Consumer) truncateData(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}
	if c.config.MaxDataLength == 0 || len(b) <= c.config.MaxDataLength {
		return string(b), nil
	}
	return fmt.Sprintf("%s... (truncated from %d bytes)", b[:c.config.MaxDataLength], len(b)), nil
}

func (c *Consumer) stats() *ConsumerStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	byDomain := make(map[string]uint64, len(c.eventsByDomain))
	for d, n := range c.eventsByDomain {
		byDomain[d] = n
	}
	return &ConsumerStats{
		EventsProcessed: c.eventsProcessed.Load(),
		ErrorsCount:     c.errorsCount.Load(),
		Uptime:          time.Since(c.startTime),
		EventsByDomain:  byDomain,
	}
}

func (c *Consumer) logStats() {
	stats := c.stats()
	c.logger.Info("Debug consumer stats",
		"events_processed", stats.EventsProcessed,
		"errors", stats.ErrorsCount,
		"uptime", stats.Uptime,
		"events_by_domain", stats.EventsByDomain)
}
