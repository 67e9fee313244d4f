// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/sampling"
)

// captureLogger collects every formatted log line.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, args)
	}, funcr.Options{})
}

func (c *captureLogger) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.lines...)
}

func diskEvent() metrics.MetricEvent {
	return metrics.NewMetricEvent(sampling.Result{
		Domain:      sampling.DomainDisk,
		StartMillis: 1000,
		EndMillis:   11000,
		Data: map[string]sampling.DiskMetrics{
			"sda": {Name: "sda", Utilization: 2, Await: 10, ServiceRate: 0.0512},
			"sdb": {Name: "sdb"},
		},
	}, "sampler", "node-a", "")
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	config.LogLevel = 7
	assert.ErrorIs(t, config.Validate(), ErrInvalidLogLevel)

	config = DefaultConfig()
	config.LogFormat = "yaml"
	assert.ErrorIs(t, config.Validate(), ErrInvalidLogFormat)

	config = DefaultConfig()
	config.DomainFilter = []sampling.Domain{"gpu"}
	assert.ErrorIs(t, config.Validate(), sampling.ErrUnknownDomain)

	config = DefaultConfig()
	config.MaxDataLength = -5
	require.NoError(t, config.Validate())
	assert.Equal(t, 0, config.MaxDataLength)
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("verbose")
	require.NoError(t, err)
	assert.Equal(t, LogLevelVerbose, level)

	_, err = ParseLogLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestConsumer_TextFormat(t *testing.T) {
	capture := &captureLogger{}
	config := DefaultConfig()
	config.LogLevel = LogLevelVerbose
	config.IncludeEventData = true

	c, err := NewConsumer(config, capture.logger())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.HandleEvent(diskEvent()))

	lines := capture.all()
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Contains(t, last, `"domain"="disk"`)
	assert.Contains(t, last, `"window_seconds"=10`)
	assert.Contains(t, last, `"keys"=2`)
	assert.Contains(t, last, `\"utilization\":2`)
	assert.Equal(t, uint64(1), c.Health().EventsCount)
}

func TestConsumer_JSONFormat(t *testing.T) {
	capture := &captureLogger{}
	config := DefaultConfig()
	config.LogFormat = LogFormatJSON

	c, err := NewConsumer(config, capture.logger())
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(diskEvent()))

	lines := capture.all()
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], `\"domain\":\"disk\"`), lines[0])
	assert.True(t, strings.Contains(lines[0], `\"keys\":2`), lines[0])
	assert.NotContains(t, lines[0], `\"data\"`)
}

func TestConsumer_Filters(t *testing.T) {
	config := DefaultConfig()
	config.DomainFilter = []sampling.Domain{sampling.DomainCPU}

	c, err := NewConsumer(config, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(diskEvent()))
	assert.Equal(t, uint64(0), c.Health().EventsCount)

	config = DefaultConfig()
	config.SourceFilter = []string{"sampler"}
	c, err = NewConsumer(config, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(diskEvent()))
	assert.Equal(t, uint64(1), c.Health().EventsCount)
	assert.Equal(t, map[string]uint64{"disk": 1}, c.stats().EventsByDomain)
}

func TestConsumer_UnmarshalableData(t *testing.T) {
	config := DefaultConfig()
	config.LogLevel = LogLevelVerbose
	config.IncludeEventData = true

	c, err := NewConsumer(config, logr.Discard())
	require.NoError(t, err)

	event := diskEvent()
	event.Data = map[string]any{"bad": make(chan int)}
	assert.Error(t, c.HandleEvent(event))

	health := c.Health()
	assert.Equal(t, uint64(1), health.ErrorsCount)
	assert.Error(t, health.LastError)
}

func TestTruncateData(t *testing.T) {
	c := &Consumer{config: Config{MaxDataLength: 5}}
	out, err := c.truncateData(map[string]int{"abcdef": 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `{"abc... (truncated from`), out)

	c.config.MaxDataLength = 0
	out, err = c.truncateData([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", out)
}

func TestSummarize(t *testing.T) {
	s := summarize(diskEvent())
	assert.Equal(t, "disk", s.Domain)
	assert.Equal(t, "gauge", s.EventType)
	assert.Equal(t, 2, s.Keys)
	assert.Equal(t, 10.0, s.WindowSeconds)

	s = summarize(metrics.MetricEvent{Domain: sampling.DomainNetwork, Data: sampling.NetworkMetrics{}})
	assert.Equal(t, 1, s.Keys)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data_type":"sampling.NetworkMetrics"`)
}
