// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sampling turns pairs of raw kernel counter snapshots into rates.
//
// Each Domain (disk, network, io, sched, cpu, faults, mounts) has a
// SnapshotStore holding the previous and current CounterSnapshot and a
// Calculator deriving metrics from that pair. A Sampler ties the two
// together: on every Tick it asks a CounterSource for fresh counters, advances
// each store and publishes the calculator's output for lock-free readers.
//
// All calculators follow the same rules:
//
//   - a window whose end is not after its start is unavailable
//   - a missing counter reads as zero
//   - negative deltas from counter resets pass through unchanged
//   - rates are per second; a zero counter-derived denominator yields zero
//
// Calculators are registered in init() and looked up by domain, so a Sampler
// only needs the list of domains to enable.
package sampling
