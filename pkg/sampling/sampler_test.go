// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// fakeSource returns whatever counters the test installed for each domain.
type fakeSource struct {
	mu       sync.Mutex
	counters map[sampling.Domain]map[string]sampling.Counters
	panics   map[sampling.Domain]bool
	calls    atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		counters: make(map[sampling.Domain]map[string]sampling.Counters),
		panics:   make(map[sampling.Domain]bool),
	}
}

func (f *fakeSource) set(domain sampling.Domain, counters map[string]sampling.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[domain] = counters
}

func (f *fakeSource) Observe(_ context.Context, domain sampling.Domain) map[string]sampling.Counters {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[domain] {
		panic("source exploded")
	}
	if c, ok := f.counters[domain]; ok {
		return c
	}
	return map[string]sampling.Counters{}
}

type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) NowMillis() int64 { return c.now.Load() }

func newTestSampler(t *testing.T, source sampling.CounterSource, clock sampling.Clock, domains ...sampling.Domain) *sampling.Sampler {
	t.Helper()

	config := sampling.DefaultConfig()
	if len(domains) > 0 {
		config.EnabledDomains = map[sampling.Domain]bool{}
		for _, d := range domains {
			config.EnabledDomains[d] = true
		}
	}
	config.ClockTicksPerSecond = 100

	s, err := sampling.NewSampler(source,
		sampling.WithLogger(testr.New(t)),
		sampling.WithClock(clock),
		sampling.WithConfig(config),
	)
	require.NoError(t, err)
	return s
}

func TestSampler_LatestAvailableAfterSecondTick(t *testing.T) {
	source := newFakeSource()
	clock := &fakeClock{}
	clock.now.Store(1000)
	s := newTestSampler(t, source, clock, sampling.DomainIO)

	source.set(sampling.DomainIO, map[string]sampling.Counters{
		"1/1": {sampling.CounterReadBytes: 1000, sampling.CounterReadChars: 1000},
	})
	published := s.Tick(context.Background())
	assert.Empty(t, published)

	_, ok := s.GetLatest(sampling.DomainIO)
	assert.False(t, ok, "first tick has a zero-length window")

	pair, ok := s.ReadPair(sampling.DomainIO)
	require.True(t, ok)
	assert.Same(t, pair.Previous, pair.Current)

	clock.now.Store(11000)
	source.set(sampling.DomainIO, map[string]sampling.Counters{
		"1/1": {sampling.CounterReadBytes: 2000, sampling.CounterReadChars: 2000},
	})
	published = s.Tick(context.Background())
	require.Len(t, published, 1)

	latest, ok := s.GetLatest(sampling.DomainIO)
	require.True(t, ok)
	assert.Equal(t, published[0], latest)
	assert.Equal(t, int64(1000), latest.StartMillis)
	assert.Equal(t, int64(11000), latest.EndMillis)

	metrics, ok := latest.Data.(map[string]sampling.IOMetrics)
	require.True(t, ok)
	assert.InDelta(t, 100.0, metrics["1/1"].AvgReadThroughputBps, 1e-9)
	assert.Zero(t, metrics["1/1"].AvgPageCacheReadThroughputBps)
}

func TestSampler_ClockStepBackKeepsLastResult(t *testing.T) {
	source := newFakeSource()
	clock := &fakeClock{}
	s := newTestSampler(t, source, clock, sampling.DomainNetwork)

	clock.now.Store(0)
	s.Tick(context.Background())
	clock.now.Store(10000)
	s.Tick(context.Background())

	first, ok := s.GetLatest(sampling.DomainNetwork)
	require.True(t, ok)

	clock.now.Store(5000)
	published := s.Tick(context.Background())
	assert.Empty(t, published)

	latest, ok := s.GetLatest(sampling.DomainNetwork)
	require.True(t, ok)
	assert.Equal(t, first, latest)
	assert.Equal(t, int64(0), latest.StartMillis)
	assert.Equal(t, int64(10000), latest.EndMillis)
}

func TestSampler_DropsCountersOutsideSchema(t *testing.T) {
	source := newFakeSource()
	clock := &fakeClock{}
	s := newTestSampler(t, source, clock, sampling.DomainDisk)

	source.set(sampling.DomainDisk, map[string]sampling.Counters{
		"sda": {sampling.CounterReadDone: 1, "bogus": 7},
	})
	s.Tick(context.Background())

	pair, ok := s.ReadPair(sampling.DomainDisk)
	require.True(t, ok)
	counters := pair.Current.Counters("sda")
	assert.Contains(t, counters, sampling.CounterReadDone)
	assert.NotContains(t, counters, sampling.Counter("bogus"))
}

func TestSampler_DomainFailureIsIsolated(t *testing.T) {
	source := newFakeSource()
	source.panics[sampling.DomainDisk] = true
	clock := &fakeClock{}
	s := newTestSampler(t, source, clock, sampling.DomainDisk, sampling.DomainCPU)

	clock.now.Store(0)
	s.Tick(context.Background())
	clock.now.Store(10000)
	published := s.Tick(context.Background())

	require.Len(t, published, 1)
	assert.Equal(t, sampling.DomainCPU, published[0].Domain)

	_, ok := s.GetLatest(sampling.DomainDisk)
	assert.False(t, ok)
	_, ok = s.GetLatest(sampling.DomainCPU)
	assert.True(t, ok)
}

func TestSampler_EmptySourceDegradesToZero(t *testing.T) {
	source := newFakeSource()
	clock := &fakeClock{}
	s := newTestSampler(t, source, clock, sampling.DomainNetwork)

	clock.now.Store(0)
	s.Tick(context.Background())
	clock.now.Store(10000)
	s.Tick(context.Background())

	latest, ok := s.GetLatest(sampling.DomainNetwork)
	require.True(t, ok)
	metrics := latest.Data.(sampling.NetworkMetrics)
	assert.Zero(t, metrics.In.PacketRate4)
	assert.Zero(t, metrics.Out.BitsPerSecond)
}

func TestSampler_ConcurrentReadersDuringTicks(t *testing.T) {
	source := newFakeSource()
	clock := &fakeClock{}
	s := newTestSampler(t, source, clock)

	ctx := context.Background()
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, d := range s.Domains() {
					if r, ok := s.GetLatest(d); ok {
						assert.Less(t, r.StartMillis, r.EndMillis)
					}
				}
			}
		}()
	}

	for i := int64(1); i <= 50; i++ {
		clock.now.Store(i * 1000)
		s.Tick(ctx)
	}
	close(done)
	wg.Wait()

	for _, d := range s.Domains() {
		r, ok := s.GetLatest(d)
		require.True(t, ok, "domain %s", d)
		assert.Equal(t, int64(49000), r.StartMillis)
		assert.Equal(t, int64(50000), r.EndMillis)
	}
}

func TestNewSampler_Errors(t *testing.T) {
	t.Run("nil source", func(t *testing.T) {
		_, err := sampling.NewSampler(nil)
		assert.Error(t, err)
	})

	t.Run("nil clock", func(t *testing.T) {
		_, err := sampling.NewSampler(newFakeSource(), sampling.WithClock(nil))
		assert.Error(t, err)
	})

	t.Run("unknown domain", func(t *testing.T) {
		config := sampling.DefaultConfig()
		config.EnabledDomains = map[sampling.Domain]bool{"bogus": true}
		_, err := sampling.NewSampler(newFakeSource(), sampling.WithConfig(config))
		assert.ErrorIs(t, err, sampling.ErrUnknownDomain)
	})

	t.Run("nothing enabled", func(t *testing.T) {
		config := sampling.DefaultConfig()
		config.EnabledDomains = map[sampling.Domain]bool{sampling.DomainDisk: false}
		_, err := sampling.NewSampler(newFakeSource(), sampling.WithConfig(config))
		assert.Error(t, err)
	})
}
