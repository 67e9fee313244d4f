// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package filesink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/counterrates/internal/metrics"
)

// Compile-time check
var _ metrics.Consumer = (*Consumer)(nil)

const (
	consumerName = "filesink"
	filePattern  = "rates-*.jsonl"
)

// Consumer implements metrics.Consumer by appending every rate record to
// rotating JSON Lines files.
type Consumer struct {
	config Config
	logger logr.Logger
	now    func() time.Time

	// Internal state
	mu            sync.Mutex
	writer        *Writer
	currentFile   *os.File
	currentPath   string
	currentSize   int64
	rotationTimer *time.Timer
	started       bool
	stopped       bool
	healthy       atomic.Bool
	lastError     atomic.Pointer[error]

	// Statistics
	eventsReceived atomic.Uint64
	eventsWritten  atomic.Uint64
	eventsDropped  atomic.Uint64
	bytesWritten   atomic.Uint64
	filesCreated   atomic.Uint64
}

// NewConsumer creates a new file sink consumer
func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(config.OutputPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	consumer := &Consumer{
		config: config,
		logger: logger.WithName(consumerName),
		now:    time.Now,
	}
	consumer.healthy.Store(true)
	return consumer, nil
}

// Name returns the consumer name
func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent appends the event to the current file, rotating first when the
// file has reached MaxFileSize.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	c.eventsReceived.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.eventsDropped.Add(1)
		return fmt.Errorf("consumer stopped")
	}

	if c.writer == nil || (c.config.MaxFileSize > 0 && c.currentSize >= c.config.MaxFileSize) {
		if err := c.rotateLocked(); err != nil {
			c.eventsDropped.Add(1)
			c.setLastError(err)
			return fmt.Errorf("failed to rotate file: %w", err)
		}
	}

	n, err := c.writer.WriteRecord(event)
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		c.eventsDropped.Add(1)
		c.setLastError(err)
		return fmt.Errorf("failed to write record: %w", err)
	}

	c.currentSize += n
	c.bytesWritten.Add(uint64(n))
	c.eventsWritten.Add(1)
	c.healthy.Store(true)
	return nil
}

// Start opens the first file and schedules rotation. The consumer closes its
// file once ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("consumer already started")
	}
	c.started = true

	if err := c.rotateLocked(); err != nil {
		return fmt.Errorf("failed to create initial file: %w", err)
	}
	c.rotationTimer = time.AfterFunc(c.config.RotationInterval, c.timedRotation)

	go func() {
		<-ctx.Done()
		if err := c.Stop(); err != nil {
			c.logger.Error(err, "failed to stop file sink")
		}
	}()

	c.logger.Info("file sink consumer started",
		"output_path", c.config.OutputPath,
		"rotation_interval", c.config.RotationInterval,
		"max_file_size", c.config.MaxFileSize,
		"max_files", c.config.MaxFiles)
	return nil
}

// rotateLocked closes the current file and opens a new one (caller must hold mutex)
func (c *Consumer) rotateLocked() error {
	if err := c.closeLocked(); err != nil {
		c.logger.Error(err, "failed to close current file", "path", c.currentPath)
	}

	now := c.now()
	seq := c.filesCreated.Add(1)
	filename := fmt.Sprintf("rates-%s-%04d.jsonl", now.Format("20060102-150405"), seq%10000)
	path := filepath.Join(c.config.OutputPath, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	writer := NewWriter(file, c.config.BufferSize)
	n, err := writer.WriteHeader(now)
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}

	c.currentFile = file
	c.currentPath = path
	c.currentSize = n
	c.writer = writer

	c.logger.V(1).Info("rotated to new rate file", "path", path)

	if c.config.MaxFiles > 0 {
		c.cleanupOldFiles()
	}
	return nil
}

func (c *Consumer) closeLocked() error {
	var err error
	if c.writer != nil {
		err = c.writer.Flush()
		c.writer = nil
	}
	if c.currentFile != nil {
		if cerr := c.currentFile.Close(); err == nil {
			err = cerr
		}
		c.currentFile = nil
	}
	return err
}

// timedRotation handles periodic rotation
func (c *Consumer) timedRotation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if err := c.rotateLocked(); err != nil {
		c.logger.Error(err, "failed to rotate file")
		c.setLastError(err)
	}
	if c.rotationTimer != nil {
		c.rotationTimer.Reset(c.config.RotationInterval)
	}
}

// cleanupOldFiles removes the oldest rate files beyond the MaxFiles limit.
// File names sort by creation time.
func (c *Consumer) cleanupOldFiles() {
	files, err := filepath.Glob(filepath.Join(c.config.OutputPath, filePattern))
	if err != nil {
		c.logger.Error(err, "failed to list rate files")
		return
	}
	if len(files) <= c.config.MaxFiles {
		return
	}

	slices.Sort(files)
	for _, path := range files[:len(files)-c.config.MaxFiles] {
		if path == c.currentPath {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Error(err, "failed to remove old rate file", "path", path)
			continue
		}
		c.logger.V(1).Info("removed old rate file", "path", path)
	}
}

// Health returns the current health status. The consumer is unhealthy from a
// failed write until the next successful one; LastError keeps the most recent
// failure.
func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}

	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsReceived.Load(),
		ErrorsCount: c.eventsDropped.Load(),
	}
}

// CurrentPath returns the file currently being written.
func (c *Consumer) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPath
}

func (c *Consumer) setLastError(err error) {
	c.lastError.Store(&err)
	c.healthy.Store(false)
}

// Stop flushes and closes the current file. It is safe to call more than once.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.rotationTimer != nil {
		c.rotationTimer.Stop()
		c.rotationTimer = nil
	}
	err := c.closeLocked()

	c.logger.Info("file sink consumer stopped",
		"events_received", c.eventsReceived.Load(),
		"events_written", c.eventsWritten.Load(),
		"events_dropped", c.eventsDropped.Load(),
		"bytes_written", c.bytesWritten.Load(),
		"files_created", c.filesCreated.Load())
	return err
}
