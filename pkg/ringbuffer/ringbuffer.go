// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ringbuffer provides a fixed capacity FIFO that overwrites its
// oldest element when full.
//
// RingBuffer is not safe for concurrent use.
package ringbuffer

import "fmt"

type RingBuffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New returns an empty RingBuffer holding at most capacity elements.
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer[T]{items: make([]T, capacity)}, nil
}

// Push appends v, overwriting the oldest element if the buffer is full.
func (r *RingBuffer[T]) Push(v T) {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.head+r.size)%capacity] = v
		r.size++
		return
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % capacity
}

// GetAll returns a copy of the elements, oldest first.
func (r *RingBuffer[T]) GetAll() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Clear drops every element, keeping the capacity.
func (r *RingBuffer[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

func (r *RingBuffer[T]) Len() int { return r.size }

func (r *RingBuffer[T]) Cap() int { return len(r.items) }
