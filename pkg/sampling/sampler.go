// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// CounterSource acquires raw counters for a domain.
//
// Observe is best effort: on any failure it returns an empty map, which the
// calculators treat as every counter being absent.
type CounterSource interface {
	Observe(ctx context.Context, domain Domain) map[string]Counters
}

// Clock timestamps snapshots.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() int64

func (f ClockFunc) NowMillis() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().UnixMilli() })

// Option configures a Sampler.
type Option func(s *Sampler)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger logr.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithClock replaces SystemClock.
func WithClock(clock Clock) Option {
	return func(s *Sampler) {
		s.clock = clock
	}
}

// WithConfig sets the enabled domains and calculator constants.
func WithConfig(config Config) Option {
	return func(s *Sampler) {
		s.config = config
	}
}

type domainState struct {
	domain Domain
	calc   Calculator
	store  *SnapshotStore
	latest atomic.Pointer[Result]
}

// Sampler drives the snapshot/calculate cycle for a fixed set of domains.
//
// Tick is the only writer. GetLatest and ReadPair may be called from any
// goroutine at any time and never block on a tick in progress.
type Sampler struct {
	logger logr.Logger
	source CounterSource
	clock  Clock
	config Config

	order   []Domain
	domains map[Domain]*domainState

	// tickMu keeps a single producer per store when Tick is called
	// from more than one goroutine.
	tickMu sync.Mutex
}

// NewSampler builds a Sampler with one store and calculator per enabled domain.
func NewSampler(source CounterSource, opts ...Option) (*Sampler, error) {
	if source == nil {
		return nil, errors.New("counter source is required")
	}

	s := &Sampler{
		logger:  logr.Discard(),
		source:  source,
		clock:   SystemClock,
		config:  DefaultConfig(),
		domains: make(map[Domain]*domainState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		return nil, errors.New("clock is required")
	}

	s.config.ApplyDefaults()
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampling config: %w", err)
	}
	s.logger = s.logger.WithName("sampler")

	for _, d := range s.config.Domains() {
		factory, err := GetCalculator(d)
		if err != nil {
			return nil, err
		}
		calc, err := factory(s.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s calculator: %w", d, err)
		}
		s.order = append(s.order, d)
		s.domains[d] = &domainState{
			domain: d,
			calc:   calc,
			store:  NewSnapshotStore(),
		}
	}
	if len(s.order) == 0 {
		return nil, errors.New("no sampling domains enabled")
	}

	return s, nil
}

// Domains returns the sampled domains in a stable order.
func (s *Sampler) Domains() []Domain {
	out := make([]Domain, len(s.order))
	copy(out, s.order)
	return out
}

// Tick acquires a fresh snapshot for every domain, advances its store and
// recomputes its metrics. Domains run concurrently and independently; a
// failure in one never affects the others. The results published by this
// tick are returned in domain order.
func (s *Sampler) Tick(ctx context.Context) []Result {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	published := make([]*Result, len(s.order))
	var wg sync.WaitGroup
	for i, d := range s.order {
		wg.Add(1)
		go func(i int, st *domainState) {
			defer wg.Done()
			published[i] = s.tickDomain(ctx, st)
		}(i, s.domains[d])
	}
	wg.Wait()

	results := make([]Result, 0, len(published))
	for _, r := range published {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

func (s *Sampler) tickDomain(ctx context.Context, st *domainState) (published *Result) {
	logger := s.logger.WithValues("domain", st.domain)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("panic: %v", r), "Domain tick failed")
			published = nil
		}
	}()

	raw := s.source.Observe(ctx, st.domain)
	snapshot := NewCounterSnapshot(s.clock.NowMillis(), s.validate(logger, st.domain, raw))
	st.store.Advance(snapshot)

	pair, _ := st.store.ReadPair()
	data, ok := st.calc.Calculate(pair)
	if !ok {
		logger.V(2).Info("Metrics unavailable for window",
			"start", pair.StartMillis(), "end", pair.EndMillis())
		return nil
	}

	result := &Result{
		Domain:      st.domain,
		StartMillis: pair.StartMillis(),
		EndMillis:   pair.EndMillis(),
		Data:        data,
	}
	st.latest.Store(result)
	return result
}

// validate drops counters outside the domain's schema.
func (s *Sampler) validate(logger logr.Logger, domain Domain, raw map[string]Counters) map[string]Counters {
	dropped := 0
	clean := make(map[string]Counters, len(raw))
	for key, counters := range raw {
		kept := make(Counters, len(counters))
		for name, value := range counters {
			if !domain.Accepts(name) {
				dropped++
				continue
			}
			kept[name] = value
		}
		clean[key] = kept
	}
	if dropped > 0 {
		logger.V(1).Info("Dropped counters outside domain schema", "count", dropped)
	}
	return clean
}

// GetLatest returns the most recent available result for domain. It reports
// false until two snapshots spanning a positive window have been taken.
// A tick whose window is unavailable, such as after the clock steps back,
// leaves the previous result in place, so the returned window may be older
// than the last tick.
func (s *Sampler) GetLatest(domain Domain) (Result, bool) {
	st, ok := s.domains[domain]
	if !ok {
		return Result{}, false
	}
	r := st.latest.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// ReadPair returns the snapshot pair currently held for domain.
func (s *Sampler) ReadPair(domain Domain) (SnapshotPair, bool) {
	st, ok := s.domains[domain]
	if !ok {
		return SnapshotPair{}, false
	}
	return st.store.ReadPair()
}
