// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"flag"
	"strings"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// Command-line flag variables (populated by init())
var (
	flagEnabled     *bool
	flagLevel       *string
	flagFormat      *string
	flagIncludeData *bool
	flagDomains     *string
)

func init() {
	flagEnabled = flag.Bool("enable-debug-consumer", false, "Log every published rate record")
	flagLevel = flag.String("debug-consumer-level", LogLevelDetails.String(), "Debug consumer verbosity: basic, details or verbose")
	flagFormat = flag.String("debug-consumer-format", string(LogFormatText), "Debug consumer output format: text or json")
	flagIncludeData = flag.Bool("debug-consumer-include-data", false, "Include the record itself at verbose level")
	flagDomains = flag.String("debug-consumer-domains", "", "Comma-separated domains to log (empty = all)")
}

// IsEnabled returns whether the debug consumer is enabled via flags
func IsEnabled() bool {
	return flagEnabled != nil && *flagEnabled
}

// GetConfigFromFlags builds a Config from the package's command-line flags.
// Unparseable values are left for Validate to reject.
func GetConfigFromFlags() Config {
	config := DefaultConfig()

	if flagLevel != nil {
		if level, err := ParseLogLevel(*flagLevel); err == nil {
			config.LogLevel = level
		} else {
			config.LogLevel = -1
		}
	}
	if flagFormat != nil && *flagFormat != "" {
		config.LogFormat = LogFormat(*flagFormat)
	}
	if flagIncludeData != nil {
		config.IncludeEventData = *flagIncludeData
	}
	if flagDomains != nil && *flagDomains != "" {
		for _, d := range strings.Split(*flagDomains, ",") {
			config.DomainFilter = append(config.DomainFilter, sampling.Domain(strings.TrimSpace(d)))
		}
	}
	return config
}
