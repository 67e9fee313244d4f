// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// KindSampling identifies SamplingConfig documents.
const KindSampling = "SamplingConfig"

// SamplingConfig retunes a running sampler. Zero fields keep the values the
// agent was started with.
type SamplingConfig struct {
	Interval time.Duration     `yaml:"interval"`
	Domains  []sampling.Domain `yaml:"domains"`
}

func (*SamplingConfig) Kind() string { return KindSampling }

func (c *SamplingConfig) DeepCopy() Object {
	out := *c
	out.Domains = slices.Clone(c.Domains)
	return &out
}

func (c *SamplingConfig) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got: %s", c.Interval)
	}
	for _, d := range c.Domains {
		if _, err := sampling.ParseDomain(string(d)); err != nil {
			return err
		}
	}
	return nil
}

func parseSamplingConfig(spec *yaml.Node) (Object, error) {
	config := &SamplingConfig{}
	if err := spec.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
