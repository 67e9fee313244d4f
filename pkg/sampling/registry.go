// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

var (
	registry       = make(map[Domain]NewCalculator)
	registryLogger = stdr.New(log.New(os.Stderr, "[sampling.registry] ", log.LstdFlags))
)

// Register adds a calculator factory for domain to the global registry.
//
// This is called from init() functions so that every calculator in this
// package is available before a Sampler is built. It panics if a calculator
// for the domain is already registered.
func Register(domain Domain, factory NewCalculator) {
	if _, exists := registry[domain]; exists {
		panic(fmt.Sprintf("Calculator for %s already registered", domain))
	}
	registry[domain] = factory
	registryLogger.V(1).Info("Registered calculator", "domain", domain)
}

// GetCalculator retrieves the factory registered for domain.
func GetCalculator(domain Domain) (NewCalculator, error) {
	factory, exists := registry[domain]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoCalculator, domain)
	}
	return factory, nil
}

// RegisteredDomains returns the domains with a registered calculator, sorted.
func RegisteredDomains() []Domain {
	domains := make([]Domain, 0, len(registry))
	for d := range registry {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	return domains
}

// SetRegistryLogger replaces the logger used by the registry.
// It should be called before any calculators are registered.
func SetRegistryLogger(logger logr.Logger) {
	registryLogger = logger
}
