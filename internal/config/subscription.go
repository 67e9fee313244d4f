// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"slices"
	"sync"
)

// Matches reports whether instance passes filters. A zero Status filter
// matches only StatusOK.
func Matches(instance Instance, filters Filters) bool {
	status := filters.Status
	if status == 0 {
		status = StatusOK
	}
	if instance.Status&status == 0 {
		return false
	}
	return len(filters.Kinds) == 0 || slices.Contains(filters.Kinds, instance.Kind)
}

type subscription struct {
	ch      chan Instance
	filters Filters
}

type subscriptions struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

func (s *subscriptions) add(filters Filters) chan Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	ch := make(chan Instance, 10)
	s.subs = append(s.subs, subscription{ch: ch, filters: filters})
	return ch
}

func (s *subscriptions) send(instances ...Instance) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		for _, instance := range instances {
			if Matches(instance, sub.filters) {
				sub.ch <- instance.Copy()
			}
		}
	}
}

func (s *subscriptions) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.closed = true
}
