// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package filesink

import (
	"flag"
	"time"
)

// Command-line flag variables (populated by init())
var (
	flagEnabled  *bool
	flagPath     *string
	flagRotation *time.Duration
	flagMaxFiles *int
)

func init() {
	flagEnabled = flag.Bool("enable-file-sink", false, "Write every rate record to rotating JSON Lines files")
	flagPath = flag.String("file-sink-path", "/var/lib/counterrates", "Output directory for rate files")
	flagRotation = flag.Duration("file-sink-rotation", time.Hour, "How often to start a new rate file")
	flagMaxFiles = flag.Int("file-sink-max-files", 24, "Number of rate files to keep (0 keeps all)")
}

// IsEnabled returns whether the file sink is enabled via flags
func IsEnabled() bool {
	return flagEnabled != nil && *flagEnabled
}

// GetConfigFromFlags builds a Config from the package's command-line flags
func GetConfigFromFlags() Config {
	config := DefaultConfig()
	if flagPath != nil && *flagPath != "" {
		config.OutputPath = *flagPath
	}
	if flagRotation != nil && *flagRotation > 0 {
		config.RotationInterval = *flagRotation
	}
	if flagMaxFiles != nil {
		config.MaxFiles = *flagMaxFiles
	}
	return config
}
