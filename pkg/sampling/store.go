// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import "sync/atomic"

// SnapshotPair is the previous and current snapshot of one domain. A pair is
// never modified after it has been published.
type SnapshotPair struct {
	Previous *CounterSnapshot `json:"previous"`
	Current  *CounterSnapshot `json:"current"`
}

// StartMillis returns the start of the pair's window.
func (p SnapshotPair) StartMillis() int64 {
	return p.Previous.TakenAtMillis()
}

// EndMillis returns the end of the pair's window.
func (p SnapshotPair) EndMillis() int64 {
	return p.Current.TakenAtMillis()
}

// SnapshotStore holds the snapshot pair for a single domain.
//
// Advance must only be called by one goroutine at a time. ReadPair is safe to
// call from any number of goroutines and never blocks: every advance publishes
// a new immutable pair with a single pointer swap, so a reader sees either the
// old pair or the new one.
type SnapshotStore struct {
	pair atomic.Pointer[SnapshotPair]
}

// NewSnapshotStore returns an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Advance shifts the current snapshot into the previous slot and installs
// next as current. The first snapshot ever advanced fills both slots.
func (s *SnapshotStore) Advance(next *CounterSnapshot) {
	if next == nil {
		return
	}

	prev := next
	if old := s.pair.Load(); old != nil {
		prev = old.Current
	}
	s.pair.Store(&SnapshotPair{Previous: prev, Current: next})
}

// ReadPair returns the latest published pair. The boolean is false until the
// first Advance.
func (s *SnapshotStore) ReadPair() (SnapshotPair, bool) {
	p := s.pair.Load()
	if p == nil {
		return SnapshotPair{}, false
	}
	return *p, true
}
