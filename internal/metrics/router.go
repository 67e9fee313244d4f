// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/manager"
)

var _ manager.Runnable = (*MetricsRouter)(nil)
var _ manager.LeaderElectionRunnable = (*MetricsRouter)(nil)
var _ Router = (*MetricsRouter)(nil)

var (
	// ErrRouterClosed is returned when publishing to a stopped router
	ErrRouterClosed = errors.New("metrics router is closed")
)

// MetricsRouter fans metric events out to registered consumers.
type MetricsRouter struct {
	logger    logr.Logger
	mu        sync.RWMutex
	consumers map[string]Consumer
	closed    bool
}

func NewMetricsRouter(logger logr.Logger) *MetricsRouter {
	return &MetricsRouter{
		logger:    logger.WithName("metrics-router"),
		consumers: make(map[string]Consumer),
	}
}

// Start blocks until ctx is cancelled, then refuses further events.
func (r *MetricsRouter) Start(ctx context.Context) error {
	r.logger.Info("Starting metrics router")
	<-ctx.Done()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("Metrics router shutdown")
	return nil
}

// NeedLeaderElection returns false since every node samples its own counters.
func (r *MetricsRouter) NeedLeaderElection() bool {
	return false
}

// RegisterConsumer adds a consumer. The caller is responsible for starting it.
func (r *MetricsRouter) RegisterConsumer(consumer Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.Name()
	if _, exists := r.consumers[name]; exists {
		return fmt.Errorf("consumer %s already registered", name)
	}

	r.consumers[name] = consumer
	r.logger.Info("Consumer registered", "consumer", name)
	return nil
}

func (r *MetricsRouter) UnregisterConsumer(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.consumers[name]; !exists {
		return fmt.Errorf("consumer %s not found", name)
	}

	delete(r.consumers, name)
	r.logger.Info("Consumer unregistered", "consumer", name)
	return nil
}

// Publish hands event to every consumer. A failing consumer does not stop
// delivery to the others; the last error is returned.
func (r *MetricsRouter) Publish(event MetricEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRouterClosed
	}

	var lastErr error
	for name, consumer := range r.consumers {
		if err := consumer.HandleEvent(event); err != nil {
			r.logger.V(1).Info("Failed to handle event in consumer",
				"consumer", name, "domain", event.Domain, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// PublishBatch publishes every event and joins the errors.
func (r *MetricsRouter) PublishBatch(events []MetricEvent) error {
	var errs []error
	for _, event := range events {
		if err := r.Publish(event); err != nil {
			if errors.Is(err, ErrRouterClosed) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetStats returns the health of every registered consumer.
func (r *MetricsRouter) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RouterStats{
		ConsumerCount: len(r.consumers),
		Consumers:     make(map[string]ConsumerHealth, len(r.consumers)),
	}
	for name, consumer := range r.consumers {
		stats.Consumers[name] = consumer.Health()
	}
	return stats
}

// ConsumerNames returns the registered consumer names, sorted.
func (r *MetricsRouter) ConsumerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.consumers))
	for name := range r.consumers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouterStats contains metrics about the event router
type RouterStats struct {
	ConsumerCount int
	Consumers     map[string]ConsumerHealth
}
