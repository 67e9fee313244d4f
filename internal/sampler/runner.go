// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sampler drives a sampling.Sampler on a fixed interval and publishes
// each fresh result to the metrics router.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/counterrates/internal/config"
	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/sampling"
)

// EventSource is the Source of every event the Runner publishes.
const EventSource = "counter-sampler"

// Factory builds a Sampler for config. The Runner calls it at start and
// whenever a config document changes the enabled domains.
type Factory func(config sampling.Config) (*sampling.Sampler, error)

type appliedConfig struct {
	name    string
	version string
}

// Runner implements controller-runtime's manager.Runnable.
type Runner struct {
	wg           sync.WaitGroup
	logger       logr.Logger
	configLoader config.Loader
	router       metrics.Router
	newSampler   Factory
	base         sampling.Config
	nodeName     string
	clusterName  string

	sampler    atomic.Pointer[sampling.Sampler]
	intervalCh chan time.Duration

	mu       sync.Mutex
	current  sampling.Config
	applied  *appliedConfig
	ticks    atomic.Uint64
	lastTick atomic.Int64
}

type Option func(r *Runner)

func WithLogger(logger logr.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithConfigLoader makes the Runner follow SamplingConfig documents.
func WithConfigLoader(loader config.Loader) Option {
	return func(r *Runner) {
		r.configLoader = loader
	}
}

// WithNodeName sets the node and cluster names stamped on every event.
func WithNodeName(nodeName, clusterName string) Option {
	return func(r *Runner) {
		r.nodeName = nodeName
		r.clusterName = clusterName
	}
}

// New builds the initial Sampler from base so construction errors surface
// before the manager starts.
func New(router metrics.Router, newSampler Factory, base sampling.Config, opts ...Option) (*Runner, error) {
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if newSampler == nil {
		return nil, fmt.Errorf("sampler factory cannot be nil")
	}

	r := &Runner{
		logger:     logr.Discard(),
		router:     router,
		newSampler: newSampler,
		intervalCh: make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithName("sampler")

	base.ApplyDefaults()
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampling config: %w", err)
	}
	if base.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %s", base.Interval)
	}
	r.base = base
	r.current = base

	s, err := newSampler(base)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}
	r.sampler.Store(s)

	return r, nil
}

// Start ticks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("starting sampler", "interval", r.Interval(), "domains", r.Domains())

	r.wg.Add(1)
	go r.tickLoop(ctx)

	if r.configLoader != nil {
		r.wg.Add(1)
		go r.configWatcher(ctx)
	}

	r.wg.Wait()

	r.logger.Info("shutting down sampler")
	return nil
}

// Implements sigs.k8s.io/controller-runtime/pkg/manager.LeaderElectionRunnable interface
// Always returns false to disable leader election.
func (r *Runner) NeedLeaderElection() bool {
	return false
}

// SetInterval changes the tick interval. It takes effect after the tick in
// progress, if any.
func (r *Runner) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got: %s", interval)
	}

	r.mu.Lock()
	r.current.Interval = interval
	r.mu.Unlock()

	// Keep only the newest pending interval.
	select {
	case <-r.intervalCh:
	default:
	}
	r.intervalCh <- interval
	return nil
}

// Interval returns the interval currently in use.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Interval
}

// Domains returns the domains of the active Sampler.
func (r *Runner) Domains() []sampling.Domain {
	return r.sampler.Load().Domains()
}

// GetLatest returns the most recent result for domain from the active Sampler.
func (r *Runner) GetLatest(domain sampling.Domain) (sampling.Result, bool) {
	return r.sampler.Load().GetLatest(domain)
}

// ReadPair returns the snapshot pair the active Sampler holds for domain.
func (r *Runner) ReadPair(domain sampling.Domain) (sampling.SnapshotPair, bool) {
	return r.sampler.Load().ReadPair(domain)
}

// Ticks returns the number of completed ticks.
func (r *Runner) Ticks() uint64 {
	return r.ticks.Load()
}

// Healthy reports whether a tick completed within three intervals. It is
// shaped as a controller-runtime healthz.Checker.
func (r *Runner) Healthy(_ *http.Request) error {
	last := r.lastTick.Load()
	if last == 0 {
		return nil
	}
	if age := time.Since(time.UnixMilli(last)); age > 3*r.Interval() {
		return fmt.Errorf("no tick for %s", age.Truncate(time.Millisecond))
	}
	return nil
}

func (r *Runner) tickLoop(ctx context.Context) {
	defer r.wg.Done()

	r.logger.V(1).Info("starting tick loop")

	// The first tick only establishes the baseline snapshot.
	r.tick(ctx)

	ticker := time.NewTicker(r.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.V(1).Info("stopping tick loop")
			return
		case interval := <-r.intervalCh:
			r.logger.Info("changing sampling interval", "interval", interval)
			ticker.Reset(interval)
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	results := r.sampler.Load().Tick(ctx)
	r.ticks.Add(1)
	r.lastTick.Store(time.Now().UnixMilli())

	if len(results) == 0 {
		return
	}

	events := make([]metrics.MetricEvent, 0, len(results))
	for _, result := range results {
		events = append(events, metrics.NewMetricEvent(result, EventSource, r.nodeName, r.clusterName))
	}

	if err := r.router.PublishBatch(events); err != nil {
		if errors.Is(err, metrics.ErrRouterClosed) {
			r.logger.V(1).Info("router closed, dropping results", "count", len(events))
			return
		}
		r.logger.Error(err, "failed to publish results", "count", len(events))
	}
}

func (r *Runner) configWatcher(ctx context.Context) {
	defer r.wg.Done()

	r.logger.V(1).Info("starting config watcher")

	configs := r.configLoader.Watch(config.Options{
		Filters: config.Filters{
			Kinds: []string{config.KindSampling},
		},
	})

	for {
		select {
		case <-ctx.Done():
			r.logger.V(1).Info("stopping config watcher")
			return
		case instance, ok := <-configs:
			if !ok {
				r.logger.V(1).Info("config watch closed")
				return
			}
			r.logger.V(1).Info("received config instance",
				"name", instance.Name,
				"version", instance.Version,
				"expired", instance.Expired)

			if instance.Expired {
				r.handleExpiredConfig(instance)
			} else {
				r.handleActiveConfig(instance)
			}
		}
	}
}

func (r *Runner) handleExpiredConfig(instance config.Instance) {
	r.mu.Lock()
	applied := r.applied
	r.mu.Unlock()

	if applied == nil || applied.name != instance.Name {
		r.logger.V(1).Info("received expired config that is not applied", "name", instance.Name)
		return
	}

	r.logger.Info("config removed, reverting to defaults", "name", instance.Name)
	if err := r.apply(r.base); err != nil {
		r.logger.Error(err, "failed to revert sampling config")
		return
	}
	r.mu.Lock()
	r.applied = nil
	r.mu.Unlock()
}

func (r *Runner) handleActiveConfig(instance config.Instance) {
	sc, ok := instance.Object.(*config.SamplingConfig)
	if !ok {
		r.logger.Error(fmt.Errorf("expected *config.SamplingConfig, got %T", instance.Object),
			"invalid config object", "name", instance.Name)
		return
	}

	r.mu.Lock()
	applied := r.applied
	r.mu.Unlock()

	if applied != nil && applied.name == instance.Name && !isNewer(instance.Version, applied.version) {
		r.logger.V(1).Info("ignoring config update with same or older version",
			"name", instance.Name, "version", instance.Version)
		return
	}

	next := r.base
	if sc.Interval > 0 {
		next.Interval = sc.Interval
	}
	if len(sc.Domains) > 0 {
		next.EnabledDomains = make(map[sampling.Domain]bool, len(sc.Domains))
		for _, d := range sc.Domains {
			next.EnabledDomains[d] = true
		}
	}

	r.logger.Info("applying sampling config", "name", instance.Name, "version", instance.Version)
	if err := r.apply(next); err != nil {
		r.logger.Error(err, "failed to apply sampling config", "name", instance.Name)
		return
	}
	r.mu.Lock()
	r.applied = &appliedConfig{name: instance.Name, version: instance.Version}
	r.mu.Unlock()
}

// apply swaps in a new Sampler when the domain set changes and retunes the
// interval. A rebuilt Sampler starts from an empty history.
func (r *Runner) apply(next sampling.Config) error {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if !slices.Equal(current.Domains(), next.Domains()) {
		s, err := r.newSampler(next)
		if err != nil {
			return fmt.Errorf("failed to create sampler: %w", err)
		}
		r.sampler.Store(s)
		r.logger.Info("sampler rebuilt", "domains", s.Domains())
	}

	r.mu.Lock()
	r.current.EnabledDomains = next.EnabledDomains
	r.mu.Unlock()

	if next.Interval != current.Interval {
		return r.SetInterval(next.Interval)
	}
	return nil
}

// isNewer reports whether version should replace prev. Versions that are not
// numbers are compared for equality only.
func isNewer(version, prev string) bool {
	cmp, err := config.CompareVersions(version, prev)
	if err != nil {
		return version != prev
	}
	return cmp > 0
}
