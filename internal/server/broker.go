package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/strellerminds/pulse/internal/model"
)

// Broker fans out threshold alerts to SSE subscribers. The monitor's alert
// callback publishes into it; each GET /v1/alerts/stream connection holds a
// subscriber channel.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts a threshold alert to all subscribers. Safe to call from
// the ingestion path; slow subscribers never block it.
func (b *Broker) Publish(alert model.ThresholdAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		b.logger.Error("broker: marshal alert", "error", err)
		return
	}
	b.broadcast(formatSSE("alert", payload))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast path.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. Subscribers with a full
// buffer are skipped so one slow client cannot stall the rest.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// formatSSE formats a payload as a Server-Sent Events message:
// "event: <type>\ndata: <payload>\n\n".
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
