package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/trackscan/internal/monitoring"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcast hub closed")

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

type subscriber struct {
	topic string
	ch    chan []byte
}

// Hub routes published events to the subscribers of their topic.
type Hub struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]subscriber
	dropped     map[string]uint64
	closed      bool
}

func NewHub() *Hub {
	return NewHubWithBuffer(DefaultBuffer)
}

// NewHubWithBuffer sets the per-subscriber queue length; values below one
// are raised to one.
func NewHubWithBuffer(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]subscriber),
		dropped:     make(map[string]uint64),
	}
}

// Subscribe registers a new subscriber to topic, or to every topic with
// TopicAll. The returned id is passed to Unsubscribe. The channel is closed
// on Unsubscribe or Close.
func (h *Hub) Subscribe(topic string) (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = subscriber{topic: topic, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[id]; ok {
		close(s.ch)
		delete(h.subscribers, id)
		delete(h.dropped, id)
	}
}

// Publish encodes e once and offers it to every matching subscriber without
// blocking. It only fails when the hub is closed or e cannot be encoded.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Topic(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for id, s := range h.subscribers {
		if s.topic != e.Topic() && s.topic != TopicAll {
			continue
		}
		select {
		case s.ch <- payload:
		default:
			// a full queue means a slow reader; skip it rather than stall
			h.dropped[id]++
			if n := h.dropped[id]; n == 1 || n%100 == 0 {
				monitoring.Logf("broadcast: subscriber %s on %q has dropped %d events", id, s.topic, n)
			}
		}
	}
	return nil
}

// SubscriberCount returns the number of subscribers listening on topic,
// counting TopicAll subscribers too.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.subscribers {
		if s.topic == topic || s.topic == TopicAll {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber. Later publishes fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subscribers {
		close(s.ch)
		delete(h.subscribers, id)
		delete(h.dropped, id)
	}
}
