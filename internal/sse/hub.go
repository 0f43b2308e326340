// Package sse fans server-sent event payloads out to subscribed HTTP
// streams.
package sse

import "sync"

// AllTopics subscribes to every topic.
const AllTopics = "*"

// Hub tracks subscribers per topic (an account ID or AllTopics).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a buffered channel for topic and returns it with
// its cancel function.
func (h *Hub) Subscribe(topic string) (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[topic]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, topic)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers payload to the topic's subscribers and to AllTopics
// subscribers. Slow subscribers miss payloads rather than blocking.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := []string{AllTopics}
	if topic != "" && topic != AllTopics {
		targets = append(targets, topic)
	}
	for _, t := range targets {
		for ch := range h.subs[t] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
