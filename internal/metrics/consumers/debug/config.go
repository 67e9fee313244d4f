// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"fmt"
	"slices"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// LogLevel determines the verbosity of debug output
type LogLevel int

const (
	LogLevelBasic   LogLevel = 0 // domain and window only
	LogLevelDetails LogLevel = 1 // plus source, node and key count
	LogLevelVerbose LogLevel = 2 // plus the record itself
)

var (
	ErrInvalidLogLevel  = fmt.Errorf("log level must be basic (%d), details (%d), or verbose (%d)", LogLevelBasic, LogLevelDetails, LogLevelVerbose)
	ErrInvalidLogFormat = fmt.Errorf("log format must be '%s' or '%s'", LogFormatJSON, LogFormatText)
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelBasic:
		return "basic"
	case LogLevelDetails:
		return "details"
	case LogLevelVerbose:
		return "verbose"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLogLevel accepts the names returned by LogLevel.String.
func ParseLogLevel(s string) (LogLevel, error) {
	for _, l := range []LogLevel{LogLevelBasic, LogLevelDetails, LogLevelVerbose} {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
}

// LogFormat determines the output format
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

func (f LogFormat) IsValid() bool {
	return f == LogFormatJSON || f == LogFormatText
}

type Config struct {
	LogLevel  LogLevel
	LogFormat LogFormat

	// IncludeEventData logs the record itself at LogLevelVerbose
	IncludeEventData bool
	// MaxDataLength truncates logged records; zero means no limit
	MaxDataLength int

	// DomainFilter only logs these domains (empty = all)
	DomainFilter []sampling.Domain
	// SourceFilter only logs events from these sources (empty = all)
	SourceFilter []string

	// StatsInterval logs consumer statistics every N events; zero disables
	StatsInterval uint64
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      LogLevelDetails,
		LogFormat:     LogFormatText,
		MaxDataLength: 1000,
		StatsInterval: 1000,
	}
}

func (c *Config) Validate() error {
	if c.LogLevel < LogLevelBasic || c.LogLevel > LogLevelVerbose {
		return ErrInvalidLogLevel
	}
	if !c.LogFormat.IsValid() {
		return ErrInvalidLogFormat
	}
	for _, d := range c.DomainFilter {
		if _, err := sampling.ParseDomain(string(d)); err != nil {
			return err
		}
	}
	if c.MaxDataLength < 0 {
		c.MaxDataLength = 0
	}
	return nil
}

func (c *Config) ShouldLogDomain(domain sampling.Domain) bool {
	return len(c.DomainFilter) == 0 || slices.Contains(c.DomainFilter, domain)
}

func (c *Config) ShouldLogSource(source string) bool {
	return len(c.SourceFilter) == 0 || slices.Contains(c.SourceFilter, source)
}
