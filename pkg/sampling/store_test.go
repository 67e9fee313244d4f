// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterSnapshot_Immutable(t *testing.T) {
	input := map[string]Counters{
		"sda": {CounterReadDone: 10},
	}
	snap := NewCounterSnapshot(1000, input)

	input["sda"][CounterReadDone] = 99
	input["sdb"] = Counters{CounterReadDone: 1}

	assert.Equal(t, int64(10), snap.Value("sda", CounterReadDone))
	assert.False(t, snap.Has("sdb"))

	copied := snap.Counters("sda")
	copied[CounterReadDone] = 42
	assert.Equal(t, int64(10), snap.Value("sda", CounterReadDone))
}

func TestCounterSnapshot_MissingValues(t *testing.T) {
	snap := NewCounterSnapshot(1000, map[string]Counters{"sda": {}})

	assert.Zero(t, snap.Value("sda", CounterReadDone))
	assert.Zero(t, snap.Value("nope", CounterReadDone))
	assert.Nil(t, snap.Counters("nope"))
	assert.Equal(t, []string{"sda"}, snap.Keys())
}

func TestSnapshotStore_FirstAdvanceFillsBothSlots(t *testing.T) {
	store := NewSnapshotStore()

	_, ok := store.ReadPair()
	assert.False(t, ok)

	first := NewCounterSnapshot(1000, nil)
	store.Advance(first)

	pair, ok := store.ReadPair()
	require.True(t, ok)
	assert.Same(t, first, pair.Previous)
	assert.Same(t, first, pair.Current)
	assert.Equal(t, pair.StartMillis(), pair.EndMillis())
}

func TestSnapshotStore_AdvanceShiftsCurrent(t *testing.T) {
	store := NewSnapshotStore()
	a := NewCounterSnapshot(1000, nil)
	b := NewCounterSnapshot(2000, nil)
	c := NewCounterSnapshot(3000, nil)

	store.Advance(a)
	store.Advance(b)
	pair, _ := store.ReadPair()
	assert.Same(t, a, pair.Previous)
	assert.Same(t, b, pair.Current)

	store.Advance(c)
	pair, _ = store.ReadPair()
	assert.Same(t, b, pair.Previous)
	assert.Same(t, c, pair.Current)

	store.Advance(nil)
	pair, _ = store.ReadPair()
	assert.Same(t, c, pair.Current)
}

func TestSnapshotStore_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	store := NewSnapshotStore()
	store.Advance(NewCounterSnapshot(0, nil))

	const ticks = 2000
	const readers = 8

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				pair, ok := store.ReadPair()
				if !ok {
					continue
				}
				// Each tick is exactly one millisecond after the previous,
				// so a pair from a single publication spans 0 or 1 ms.
				span := pair.EndMillis() - pair.StartMillis()
				if span != 0 && span != 1 {
					t.Errorf("torn pair: start=%d end=%d", pair.StartMillis(), pair.EndMillis())
					return
				}
			}
		}()
	}

	for i := int64(1); i <= ticks; i++ {
		store.Advance(NewCounterSnapshot(i, nil))
	}
	close(done)
	wg.Wait()

	pair, _ := store.ReadPair()
	assert.Equal(t, int64(ticks-1), pair.StartMillis())
	assert.Equal(t, int64(ticks), pair.EndMillis())
}
