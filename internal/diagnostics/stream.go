// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diagnostics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/pkg/sampling"
)

const (
	consumerName = "stream"

	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

var _ metrics.Consumer = (*Hub)(nil)

type subscriber struct {
	events chan metrics.MetricEvent
	domain sampling.Domain
}

// Hub fans published events out to websocket subscribers. It is registered
// with the metrics router as a consumer. Slow subscribers lose events rather
// than block the router.
type Hub struct {
	logger logr.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool

	eventsCount  atomic.Uint64
	droppedCount atomic.Uint64
}

func NewHub(logger logr.Logger) *Hub {
	return &Hub{
		logger:      logger.WithName(consumerName),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Name() string {
	return consumerName
}

func (h *Hub) HandleEvent(event metrics.MetricEvent) error {
	h.eventsCount.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if sub.domain != "" && sub.domain != event.Domain {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.droppedCount.Add(1)
		}
	}
	return nil
}

// Start closes every subscription once ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		for sub := range h.subscribers {
			close(sub.events)
			delete(h.subscribers, sub)
		}
		h.closed = true
	}()
	return nil
}

func (h *Hub) Health() metrics.ConsumerHealth {
	return metrics.ConsumerHealth{
		Healthy:     true,
		EventsCount: h.eventsCount.Load(),
		ErrorsCount: h.droppedCount.Load(),
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe(domain sampling.Domain) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{
		events: make(chan metrics.MetricEvent, subscriberBuffer),
		domain: domain,
	}
	h.subscribers[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		close(sub.events)
		delete(h.subscribers, sub)
	}
}

// streamMessage is the JSON frame sent for every event.
type streamMessage struct {
	Domain      sampling.Domain   `json:"domain"`
	EventType   metrics.EventType `json:"event_type"`
	NodeName    string            `json:"node_name,omitempty"`
	StartMillis int64             `json:"start_millis"`
	EndMillis   int64             `json:"end_millis"`
	Data        any               `json:"data"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var domain sampling.Domain
	if q := r.URL.Query().Get("domain"); q != "" {
		d, err := sampling.ParseDomain(q)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		domain = d
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.V(1).Info("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.subscribe(domain)
	if sub == nil {
		return
	}
	defer s.hub.unsubscribe(sub)

	logger := s.logger.WithValues("remote", r.RemoteAddr)
	logger.V(1).Info("stream subscriber connected", "domain", domain)

	// The client never sends anything meaningful; reading only detects
	// the connection going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.V(1).Info("stream subscriber disconnected")
			return
		case event, ok := <-sub.events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(streamMessage{
				Domain:      event.Domain,
				EventType:   event.EventType,
				NodeName:    event.NodeName,
				StartMillis: event.StartMillis,
				EndMillis:   event.EndMillis,
				Data:        event.Data,
			}); err != nil {
				logger.V(1).Info("stream write failed", "error", err)
				return
			}
		}
	}
}
