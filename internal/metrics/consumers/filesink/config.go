// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package filesink

import (
	"errors"
	"time"
)

// Config holds configuration for the file sink consumer
type Config struct {
	// OutputPath is the directory rate files are written to
	OutputPath string
	// RotationInterval is how often to rotate to a new file
	RotationInterval time.Duration
	// MaxFileSize is the maximum size before rotating (0 = no size limit)
	MaxFileSize int64
	// MaxFiles is the maximum number of rate files to keep (0 = unlimited)
	MaxFiles int
	// BufferSize is the size of the write buffer
	BufferSize int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		OutputPath:       "/var/lib/counterrates",
		RotationInterval: 1 * time.Hour,
		MaxFileSize:      64 * 1024 * 1024, // 64 MB
		MaxFiles:         24,               // Keep 24 hours worth
		BufferSize:       64 * 1024,        // 64 KB buffer
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.OutputPath == "" {
		return errors.New("output path cannot be empty")
	}
	if c.RotationInterval <= 0 {
		return errors.New("rotation interval must be positive")
	}
	if c.MaxFileSize < 0 {
		return errors.New("max file size cannot be negative")
	}
	if c.MaxFiles < 0 {
		return errors.New("max files cannot be negative")
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}
