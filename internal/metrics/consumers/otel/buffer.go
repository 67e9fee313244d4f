// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"sync"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/ringbuffer"
)

// MetricsBuffer is a thread-safe ring buffer of metric events. When full the
// oldest event is overwritten.
type MetricsBuffer struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer[metrics.MetricEvent]

	// notify holds at most one pending wake-up
	notify chan struct{}
}

func NewMetricsBuffer(capacity int) (*MetricsBuffer, error) {
	rb, err := ringbuffer.New[metrics.MetricEvent](capacity)
	if err != nil {
		return nil, err
	}
	return &MetricsBuffer{
		rb:     rb,
		notify: make(chan struct{}, 1),
	}, nil
}

// Push adds an event and never blocks.
func (b *MetricsBuffer) Push(event metrics.MetricEvent) {
	b.mu.Lock()
	b.rb.Push(event)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to maxItems events, oldest first. A
// non-positive maxItems drains everything.
func (b *MetricsBuffer) Drain(maxItems int) []metrics.MetricEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rb.Len() == 0 {
		return nil
	}

	all := b.rb.GetAll()
	b.rb.Clear()
	if maxItems <= 0 || maxItems >= len(all) {
		return all
	}

	for _, event := range all[maxItems:] {
		b.rb.Push(event)
	}
	return all[:maxItems]
}

// NotifyChannel receives a value after events are pushed.
func (b *MetricsBuffer) NotifyChannel() <-chan struct{} {
	return b.notify
}

func (b *MetricsBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Len()
}

func (b *MetricsBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Cap()
}
