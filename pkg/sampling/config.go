// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"fmt"
	"time"

	"github.com/antimetal/counterrates/pkg/proc"
)

// Config controls which domains are sampled and the constants calculators
// need to convert raw counters.
type Config struct {
	// Interval between ticks when driven by a periodic runner.
	Interval time.Duration

	// EnabledDomains selects the domains to sample. A nil map enables all.
	EnabledDomains map[Domain]bool

	// ClockTicksPerSecond converts CPU time counters (USER_HZ) to seconds.
	ClockTicksPerSecond int64
}

// DefaultConfig returns a Config with every domain enabled.
func DefaultConfig() Config {
	hz, err := proc.UserHZ()
	if err != nil {
		hz = proc.DefaultUserHZ
	}

	enabled := make(map[Domain]bool, len(AllDomains))
	for _, d := range AllDomains {
		enabled[d] = true
	}
	return Config{
		Interval:            5 * time.Second,
		EnabledDomains:      enabled,
		ClockTicksPerSecond: hz,
	}
}

// ApplyDefaults fills zero values from DefaultConfig.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Interval == 0 {
		c.Interval = defaults.Interval
	}
	if c.EnabledDomains == nil {
		c.EnabledDomains = defaults.EnabledDomains
	}
	if c.ClockTicksPerSecond == 0 {
		c.ClockTicksPerSecond = defaults.ClockTicksPerSecond
	}
}

// Validate checks the configuration for values no calculator can work with.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("Interval must not be negative, got: %s", c.Interval)
	}
	if c.ClockTicksPerSecond <= 0 {
		return fmt.Errorf("ClockTicksPerSecond must be positive, got: %d", c.ClockTicksPerSecond)
	}
	for d := range c.EnabledDomains {
		if _, err := ParseDomain(string(d)); err != nil {
			return err
		}
	}
	return nil
}

// Domains returns the enabled domains in AllDomains order.
func (c *Config) Domains() []Domain {
	out := make([]Domain, 0, len(AllDomains))
	for _, d := range AllDomains {
		if c.EnabledDomains == nil || c.EnabledDomains[d] {
			out = append(out, d)
		}
	}
	return out
}
