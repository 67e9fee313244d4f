// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"encoding/json"
	"sort"
)

// Counters maps counter names to raw values for a single key.
type Counters map[Counter]int64

// Get returns the value of c, or 0 when the counter is absent.
func (c Counters) Get(counter Counter) int64 {
	return c[counter]
}

// Clone returns a copy of the map. A nil map clones to nil.
func (c Counters) Clone() Counters {
	if c == nil {
		return nil
	}
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// CounterSnapshot is an immutable, timestamped capture of counters grouped by
// a domain-specific key.
type CounterSnapshot struct {
	takenAtMillis int64
	perKey        map[string]Counters
}

// NewCounterSnapshot builds a snapshot from perKey. The input is copied so
// later changes by the caller are not visible through the snapshot.
func NewCounterSnapshot(takenAtMillis int64, perKey map[string]Counters) *CounterSnapshot {
	copied := make(map[string]Counters, len(perKey))
	for key, counters := range perKey {
		copied[key] = counters.Clone()
	}
	return &CounterSnapshot{
		takenAtMillis: takenAtMillis,
		perKey:        copied,
	}
}

// TakenAtMillis is the wall clock time the snapshot was acquired.
func (s *CounterSnapshot) TakenAtMillis() int64 {
	return s.takenAtMillis
}

// Keys returns the snapshot's keys in sorted order.
func (s *CounterSnapshot) Keys() []string {
	keys := make([]string, 0, len(s.perKey))
	for k := range s.perKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key was present when the snapshot was taken.
func (s *CounterSnapshot) Has(key string) bool {
	_, ok := s.perKey[key]
	return ok
}

// Counters returns a copy of the counters recorded for key, or nil.
func (s *CounterSnapshot) Counters(key string) Counters {
	return s.perKey[key].Clone()
}

// Value returns a single counter, defaulting to 0 when either the key or the
// counter is missing.
func (s *CounterSnapshot) Value(key string, counter Counter) int64 {
	return s.perKey[key].Get(counter)
}

// counters exposes the internal map to calculators in this package, which
// only ever read from it.
func (s *CounterSnapshot) counters(key string) Counters {
	if s == nil {
		return nil
	}
	return s.perKey[key]
}

// Len returns the number of keys.
func (s *CounterSnapshot) Len() int {
	return len(s.perKey)
}

type snapshotJSON struct {
	TakenAtMillis int64               `json:"taken_at_millis"`
	PerKey        map[string]Counters `json:"counters"`
}

// MarshalJSON renders the snapshot for diagnostics.
func (s *CounterSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		TakenAtMillis: s.takenAtMillis,
		PerKey:        s.perKey,
	})
}
