// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/antimetal/counterrates/internal/metrics"
)

var _ metrics.Consumer = (*Consumer)(nil)

const (
	consumerName    = "opentelemetry"
	instrumentScope = "github.com/antimetal/counterrates"
)

// exporterFactory creates the OTLP exporter. Replaced in tests.
type exporterFactory func(ctx context.Context, config Config) (metricSDK.Exporter, error)

type Consumer struct {
	config Config
	logger logr.Logger

	newExporter exporterFactory
	provider    *metricSDK.MeterProvider
	transformer *Transformer

	buffer *MetricsBuffer

	wg        sync.WaitGroup
	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	eventsProcessed atomic.Uint64
	errorsCount     atomic.Uint64
	startTime       time.Time
}

// NewConsumer validates config and returns a consumer. No connection is made
// until Start.
func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	buffer, err := NewMetricsBuffer(config.MaxQueueSize)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		config:      config,
		logger:      logger.WithName("otel-consumer"),
		newExporter: newGRPCExporter,
		buffer:      buffer,
		startTime:   time.Now(),
	}
	c.healthy.Store(true)
	return c, nil
}

func newGRPCExporter(ctx context.Context, config Config) (metricSDK.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.Endpoint),
		otlpmetricgrpc.WithTimeout(config.Timeout),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(config.Headers))
	}
	if config.Compression == CompressionGZip {
		opts = append(opts, otlpmetricgrpc.WithCompressor(config.Compression.String()))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// initOpenTelemetry creates the exporter, retrying with exponential backoff,
// and the meter provider around it.
func (c *Consumer) initOpenTelemetry(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitBackoff.InitialInterval
	expBackoff.MaxInterval = c.config.InitBackoff.MaxInterval

	exporter, err := backoff.Retry(ctx, func() (metricSDK.Exporter, error) {
		return c.newExporter(ctx, c.config)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.config.InitBackoff.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Error(err, "failed to create OTLP exporter, retrying...", "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.config.ServiceName),
	}
	if c.config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.config.ServiceVersion))
	}
	if c.config.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(c.config.InstanceID))
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	c.provider = metricSDK.NewMeterProvider(
		metricSDK.WithReader(metricSDK.NewPeriodicReader(
			exporter,
			metricSDK.WithInterval(c.config.ExportInterval),
		)),
		metricSDK.WithResource(res),
	)
	otel.SetMeterProvider(c.provider)

	meter := c.provider.Meter(instrumentScope, metric.WithInstrumentationVersion(c.config.ServiceVersion))
	c.transformer = NewTransformer(meter, c.logger, c.config.ServiceVersion, c.config.InstanceID)
	return nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent buffers event for export and never blocks. When the buffer is
// full the oldest event is dropped.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	c.buffer.Push(event)
	return nil
}

// Start creates the exporter and launches a goroutine exporting buffered
// events until ctx is cancelled. It returns once the exporter exists.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting OpenTelemetry consumer",
		"endpoint", c.config.Endpoint,
		"service_name", c.config.ServiceName,
		"compression", c.config.Compression)

	if err := c.initOpenTelemetry(ctx); err != nil {
		c.healthy.Store(false)
		c.lastError.Store(&err)
		return err
	}

	c.wg.Add(1)
	go c.processEvents(ctx)
	return nil
}

func (c *Consumer) shutdown() {
	if c.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		defer cancel()
		if err := c.provider.Shutdown(ctx); err != nil {
			c.logger.Error(err, "Error shutting down meter provider")
		}
	}

	c.logger.Info("OpenTelemetry consumer stopped",
		"events_processed", c.eventsProcessed.Load(),
		"errors", c.errorsCount.Load(),
		"uptime", time.Since(c.startTime))
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsProcessed.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

func (c *Consumer) processEvents(ctx context.Context) {
	defer c.wg.Done()
	defer c.shutdown()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(nil, "OpenTelemetry consumer panic recovered", "panic", r)
			c.healthy.Store(false)
			err := fmt.Errorf("panic: %v", r)
			c.lastError.Store(&err)
		}
	}()

	ticker := time.NewTicker(c.config.ExportInterval)
	defer ticker.Stop()

	notify := c.buffer.NotifyChannel()
	for {
		select {
		case <-notify:
			c.drain()
		case <-ticker.C:
			c.drain()
		case <-ctx.Done():
			c.drain()
			c.logger.Info("Context cancelled, stopping consumer")
			return
		}
	}
}

// drain records buffered events in batches of ExportBatchSize.
func (c *Consumer) drain() {
	for {
		batch := c.buffer.Drain(c.config.ExportBatchSize)
		if len(batch) == 0 {
			return
		}
		c.processBatch(batch)
	}
}

func (c *Consumer) processBatch(batch []metrics.MetricEvent) {
	for _, event := range batch {
		if err := c.processEvent(event); err != nil {
			c.logger.Error(err, "Failed to process metrics event",
				"domain", event.Domain, "source", event.Source)
			c.errorsCount.Add(1)
			c.lastError.Store(&err)

			if c.errorsCount.Load()%ErrorThresholdForHealthCheck == 0 {
				c.logger.Error(nil, "High error rate detected in OpenTelemetry consumer",
					"errors", c.errorsCount.Load(),
					"events", c.eventsProcessed.Load())
			}
			continue
		}
		c.eventsProcessed.Add(1)
	}
}

func (c *Consumer) processEvent(event metrics.MetricEvent) error {
	c.logger.V(2).Info("Processing metrics event",
		"domain", event.Domain,
		"event_type", event.EventType,
		"window_start", event.StartMillis,
		"window_end", event.EndMillis)

	if err := c.transformer.TransformAndRecord(event); err != nil {
		return err
	}

	if n := c.eventsProcessed.Load(); n > 0 && n%HeartbeatInterval == 0 {
		c.logger.V(1).Info("OpenTelemetry consumer heartbeat",
			"events_processed", n,
			"errors", c.errorsCount.Load())
	}
	return nil
}
