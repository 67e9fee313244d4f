// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// ManagerOption configures Manager
type ManagerOption func(m *Manager)

// WithLoader replaces the default filesystem loader.
func WithLoader(loader Loader) ManagerOption {
	return func(m *Manager) {
		m.loader = loader
	}
}

// WithLogger sets the parent logger.
func WithLogger(logger logr.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. Without WithLoader it watches the directory
// named by the config-fs-path flag.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{done: make(chan struct{})}

	for _, opt := range opts {
		opt(m)
	}

	if m.loader == nil {
		loader, err := getDefaultLoader(m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create config loader: %w", err)
		}
		m.loader = loader
	}

	m.logger = m.logger.WithName("config.manager")

	return m, nil
}

// Manager owns the agent's config Loader for the lifetime of the
// controller-runtime manager and closes it on shutdown.
type Manager struct {
	loader Loader
	logger logr.Logger
	done   chan struct{}
}

// Start blocks until ctx is cancelled, then closes the loader.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("config manager started")
	<-ctx.Done()
	m.logger.Info("config manager stopping")
	close(m.done)

	if closer, ok := m.loader.(LoaderCloser); ok {
		return closer.Close()
	}
	return nil
}

// NeedLeaderElection returns false: every node reads its own files.
func (m *Manager) NeedLeaderElection() bool {
	return false
}

// ListConfigs returns the loaded documents matching opts, keyed by kind.
func (m *Manager) ListConfigs(opts Options) (map[string][]Instance, error) {
	return m.loader.ListConfigs(opts)
}

// GetConfig returns the document of the given kind and name. After an
// invalid update the last valid version is returned.
func (m *Manager) GetConfig(kind, name string) (Instance, error) {
	return m.loader.GetConfig(kind, name)
}

// GetSamplingConfig returns the SamplingConfig document called name.
func (m *Manager) GetSamplingConfig(name string) (*SamplingConfig, string, error) {
	instance, err := m.loader.GetConfig(KindSampling, name)
	if err != nil {
		return nil, "", err
	}
	cfg, ok := instance.Object.(*SamplingConfig)
	if !ok {
		return nil, "", fmt.Errorf("config %s/%s holds %T", KindSampling, name, instance.Object)
	}
	return cfg, instance.Version, nil
}

// Watch returns a channel of document changes matching opts. Every loaded
// document is sent first. Delivery is at least once, so receivers must
// tolerate duplicates. A removed document is sent once more with Expired set.
//
// The channel is closed once the loader is closed.
func (m *Manager) Watch(opts Options) <-chan Instance {
	in := m.loader.Watch(opts)
	if in == nil {
		return nil
	}

	out := make(chan Instance)
	go func() {
		defer close(out)
		for instance := range in {
			m.logger.V(1).Info("config changed",
				"kind", instance.Kind, "name", instance.Name, "version", instance.Version,
				"expired", instance.Expired, "status", instance.Status)
			select {
			case out <- instance:
			case <-m.done:
				return
			}
		}
	}()
	return out
}
