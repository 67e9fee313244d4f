// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/sampling"
)

func testLogger(t *testing.T) logr.Logger {
	return zapr.NewLogger(zaptest.NewLogger(t))
}

// fakeExporter records every export in memory.
type fakeExporter struct {
	mu      sync.Mutex
	exports []*metricdata.ResourceMetrics
}

func (e *fakeExporter) Temporality(k metricSDK.InstrumentKind) metricdata.Temporality {
	return metricSDK.DefaultTemporalitySelector(k)
}

func (e *fakeExporter) Aggregation(k metricSDK.InstrumentKind) metricSDK.Aggregation {
	return metricSDK.DefaultAggregationSelector(k)
}

func (e *fakeExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports = append(e.exports, rm)
	return nil
}

func (e *fakeExporter) ForceFlush(context.Context) error { return nil }
func (e *fakeExporter) Shutdown(context.Context) error   { return nil }

func (e *fakeExporter) metricNames() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make(map[string]bool)
	for _, rm := range e.exports {
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				names[m.Name] = true
			}
		}
	}
	return names
}

func testConfig() Config {
	config := DefaultConfig()
	config.ExportInterval = 20 * time.Millisecond
	config.InitBackoff = BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxTries:        3,
	}
	return config
}

func TestNewConsumer_InvalidConfig(t *testing.T) {
	_, err := NewConsumer(Config{}, logr.Discard())
	assert.ErrorIs(t, err, ErrEndpointRequired)
}

func TestConsumer_Name(t *testing.T) {
	c, err := NewConsumer(testConfig(), logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, "opentelemetry", c.Name())
	assert.True(t, c.Health().Healthy)
}

func TestConsumer_Health_WithError(t *testing.T) {
	c := &Consumer{}
	c.healthy.Store(false)
	c.eventsProcessed.Store(100)
	c.errorsCount.Store(5)
	testErr := assert.AnError
	c.lastError.Store(&testErr)

	health := c.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, testErr, health.LastError)
	assert.Equal(t, uint64(100), health.EventsCount)
	assert.Equal(t, uint64(5), health.ErrorsCount)
}

func TestConsumer_RetriesExporterCreation(t *testing.T) {
	c, err := NewConsumer(testConfig(), testLogger(t))
	require.NoError(t, err)

	exporter := &fakeExporter{}
	var attempts atomic.Int32
	c.newExporter = func(context.Context, Config) (metricSDK.Exporter, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("collector unavailable")
		}
		return exporter, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, int32(3), attempts.Load())

	require.NoError(t, c.HandleEvent(metrics.MetricEvent{
		Domain: sampling.DomainCPU,
		Data:   map[string]sampling.CPUUtilization{"1/1": {Percent: 50}},
	}))
	require.NoError(t, c.HandleEvent(metrics.MetricEvent{Domain: sampling.DomainCPU, Data: "bogus"}))

	require.Eventually(t, func() bool {
		h := c.Health()
		return h.EventsCount == 1 && h.ErrorsCount == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	c.wg.Wait()
	assert.True(t, exporter.metricNames()["process.thread.cpu.utilization"])
}

func TestConsumer_ExporterNeverAvailable(t *testing.T) {
	c, err := NewConsumer(testConfig(), testLogger(t))
	require.NoError(t, err)

	var attempts atomic.Int32
	c.newExporter = func(context.Context, Config) (metricSDK.Exporter, error) {
		attempts.Add(1)
		return nil, errors.New("collector unavailable")
	}

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, c.Health().Healthy)
	assert.Error(t, c.Health().LastError)
}
