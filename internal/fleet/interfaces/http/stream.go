package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"fleet-dashboard/internal/fleet/application"
)

type message struct {
	event   string
	payload []byte
}

// SSEBroker fans out dashboard notifications to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan message]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan message]struct{})}
}

// Notify implements application.Notifier. Slow clients drop messages rather
// than block the publisher.
func (b *SSEBroker) Notify(_ context.Context, n application.Notification) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	event := n.Kind
	if event == "" {
		event = "message"
	}
	b.broadcast(message{event: event, payload: payload})
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan message {
	if b == nil {
		return nil
	}
	ch := make(chan message, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client channel. Closing happens under the
// same lock as broadcast sends.
func (b *SSEBroker) Unsubscribe(ch chan message) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(msg message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// StreamHandler serves the SSE notification stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + msg.event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg.payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
