// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CompressionType represents the compression type for OTLP exports
type CompressionType string

const (
	CompressionGZip CompressionType = "gzip"
	CompressionNone CompressionType = "none"

	// Upper bounds keeping a misconfigured queue from exhausting memory
	MaxSafeBatchSize = 10000
	MaxSafeQueueSize = 100000

	defaultServiceName = "counterrates"
)

var flagEnabled *bool

func init() {
	// Everything else comes from the standard OTEL_* environment variables
	flagEnabled = flag.Bool("enable-otel", false,
		"Export rates as OpenTelemetry gauges (configure via OTEL_* environment variables)")
}

func (c CompressionType) String() string {
	return string(c)
}

func (c CompressionType) IsValid() bool {
	return c == CompressionGZip || c == CompressionNone
}

type Config struct {
	// OTLP gRPC endpoint (default: localhost:4317)
	Endpoint string
	// Insecure disables TLS
	Insecure bool
	// Headers are sent as gRPC metadata with every export
	Headers     map[string]string
	Compression CompressionType
	Timeout     time.Duration

	// InitBackoff bounds the retries when the exporter cannot be created
	// at startup.
	InitBackoff BackoffConfig

	ServiceName    string
	ServiceVersion string
	// InstanceID is exported as service.instance.id
	InstanceID string

	// ExportInterval is how often the periodic reader pushes to the
	// collector and how often buffered events are drained.
	ExportInterval  time.Duration
	ExportBatchSize int
	MaxQueueSize    int
}

// BackoffConfig configures exponential backoff.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4317",
		Headers:     make(map[string]string),
		Compression: CompressionGZip,
		Timeout:     30 * time.Second,
		InitBackoff: BackoffConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			MaxTries:        5,
		},
		ServiceName:     defaultServiceName,
		ExportInterval:  10 * time.Second,
		ExportBatchSize: 500,
		MaxQueueSize:    1000,
	}
}

// ApplyEnvironmentVariables applies the standard OTLP environment variables.
// Signal specific variables (OTEL_EXPORTER_OTLP_METRICS_*) take precedence
// over the generic ones.
func (c *Config) ApplyEnvironmentVariables() {
	if v := otlpEnv("ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := otlpEnv("INSECURE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			c.Insecure = parsed
		}
	}
	if v := otlpEnv("HEADERS"); v != "" {
		c.Headers = parseHeaders(v)
	}
	if v := otlpEnv("COMPRESSION"); v != "" {
		if ct := CompressionType(v); ct.IsValid() {
			c.Compression = ct
		}
	}
	if v := otlpEnv("TIMEOUT"); v != "" {
		if d, err := parseTimeout(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("OTEL_SERVICE_VERSION"); v != "" {
		c.ServiceVersion = v
	}
	if v := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.ExportInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if size, ok := positiveIntEnv("OTEL_EXPORTER_METRICS_MAX_QUEUE_SIZE"); ok {
		c.MaxQueueSize = size
	}
	if size, ok := positiveIntEnv("OTEL_EXPORTER_METRICS_EXPORT_BATCH_SIZE"); ok {
		c.ExportBatchSize = size
	}
}

func otlpEnv(suffix string) string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_" + suffix); v != "" {
		return v
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_" + suffix)
}

func positiveIntEnv(name string) (int, bool) {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseTimeout accepts milliseconds, as the OTLP exporter variables are
// defined, or a Go duration string.
func parseTimeout(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// parseHeaders parses comma-separated key=value pairs
func parseHeaders(headers string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(headers, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}

// Validate checks required fields, enforces the safety limits and fills
// defaults for zero values.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}
	if c.Compression == "" {
		c.Compression = CompressionGZip
	} else if !c.Compression.IsValid() {
		return ErrInvalidCompressionType
	}

	defaults := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.ExportInterval <= 0 {
		c.ExportInterval = defaults.ExportInterval
	}

	switch {
	case c.ExportBatchSize <= 0:
		c.ExportBatchSize = defaults.ExportBatchSize
	case c.ExportBatchSize > MaxSafeBatchSize:
		return ErrBatchSizeTooLarge
	}
	switch {
	case c.MaxQueueSize <= 0:
		c.MaxQueueSize = defaults.MaxQueueSize
	case c.MaxQueueSize > MaxSafeQueueSize:
		return ErrQueueSizeTooLarge
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.InitBackoff.InitialInterval <= 0 {
		c.InitBackoff.InitialInterval = defaults.InitBackoff.InitialInterval
	}
	if c.InitBackoff.MaxInterval < c.InitBackoff.InitialInterval {
		c.InitBackoff.MaxInterval = max(defaults.InitBackoff.MaxInterval, c.InitBackoff.InitialInterval)
	}
	if c.InitBackoff.MaxTries == 0 {
		c.InitBackoff.MaxTries = defaults.InitBackoff.MaxTries
	}
	return nil
}

// GetConfigFromEnvironment builds a Config from environment variables
func GetConfigFromEnvironment() Config {
	config := DefaultConfig()
	config.ApplyEnvironmentVariables()
	return config
}

// IsEnabled reports whether the consumer was enabled on the command line.
func IsEnabled() bool {
	return flagEnabled != nil && *flagEnabled
}

var (
	ErrEndpointRequired       = errors.New("OTLP endpoint is required when OpenTelemetry is enabled")
	ErrInvalidCompressionType = fmt.Errorf("compression type must be '%s' or '%s'", CompressionGZip, CompressionNone)
	ErrBatchSizeTooLarge      = fmt.Errorf("batch size cannot exceed %d", MaxSafeBatchSize)
	ErrQueueSizeTooLarge      = fmt.Errorf("queue size cannot exceed %d", MaxSafeQueueSize)
)
