package fanout

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const DefaultBufferSize = 64

// Hub is an in-process pub/sub registry of live staff sessions keyed by channel name.
// The registry is mutated only on subscribe and cancel.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan string
}

func NewHub() *Hub {
	return &Hub{streams: map[string]map[string]chan string{}}
}

// Publish delivers payload to every subscriber of channel without blocking.
// It returns how many subscribers received it and how many were skipped as slow.
func (h *Hub) Publish(channel, payload string) (delivered, dropped int) {
	if h == nil {
		return 0, 0
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return 0, 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[channel] {
		select {
		case ch <- payload:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Subscribe registers one session on channel. The returned cancel is idempotent and
// closes the stream.
func (h *Hub) Subscribe(channel string, buffer int) (string, <-chan string, func()) {
	channel = strings.TrimSpace(channel)
	if h == nil || channel == "" {
		ch := make(chan string)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	id := uuid.NewString()
	ch := make(chan string, buffer)

	h.mu.Lock()
	streams, ok := h.streams[channel]
	if !ok {
		streams = map[string]chan string{}
		h.streams[channel] = streams
	}
	streams[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.streams[channel]
			if current, ok := streams[id]; ok {
				delete(streams, id)
				close(current)
			}
			if len(streams) == 0 {
				delete(h.streams, channel)
			}
		})
	}
	return id, ch, cancel
}

// Subscribers reports the number of live sessions on channel.
func (h *Hub) Subscribers(channel string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[channel])
}
