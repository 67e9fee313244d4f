// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the envelope every config file uses:
//
//	kind: SamplingConfig
//	name: default
//	version: "2"
//	spec:
//	  interval: 10s
type Document struct {
	Kind    string    `yaml:"kind"`
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Spec    yaml.Node `yaml:"spec"`
}

type configParser func(spec *yaml.Node) (Object, error)

var configParsers = map[string]configParser{
	KindSampling: parseSamplingConfig,
}

// Parse a config document into an Instance. On error the returned Instance
// carries whatever identification could be read, with StatusInvalid.
func Parse(doc *Document) (Instance, error) {
	if doc == nil {
		return Instance{Status: StatusInvalid}, errors.New("document is nil")
	}

	instance := Instance{
		Kind:    doc.Kind,
		Name:    doc.Name,
		Version: doc.Version,
		Status:  StatusInvalid,
	}

	if instance.Kind == "" {
		return instance, errors.New("document kind is empty")
	}
	if instance.Name == "" {
		return instance, errors.New("document name is empty")
	}
	if doc.Spec.Kind == 0 {
		return instance, errors.New("document spec is empty")
	}

	parser, exists := configParsers[instance.Kind]
	if !exists {
		return instance, fmt.Errorf("unrecognized kind: %s", instance.Kind)
	}

	obj, err := parser(&doc.Spec)
	if err != nil {
		return instance, fmt.Errorf("failed to parse %s: %w", instance.Kind, err)
	}

	instance.Object = obj
	instance.Status = StatusOK
	return instance, nil
}

// CompareVersions compares two version strings.
// Returns:
//   - negative if current < prev
//   - zero if current == prev
//   - positive if current > prev
//   - positive if current is non-empty and prev is empty
//
// The return int is undefined if there is an error.
func CompareVersions(current, prev string) (int, error) {
	current = strings.TrimPrefix(current, "v")
	prev = strings.TrimPrefix(prev, "v")

	currentNum, err := strconv.Atoi(current)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", current, err)
	}
	if prev == "" {
		return 1, nil
	}
	prevNum, err := strconv.Atoi(prev)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", prev, err)
	}
	if currentNum < 0 || prevNum < 0 {
		return 0, errors.New("version numbers cannot be negative")
	}

	switch {
	case currentNum < prevNum:
		return -1, nil
	case currentNum > prevNum:
		return 1, nil
	default:
		return 0, nil
	}
}
