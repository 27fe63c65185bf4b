package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEvent is a live validation call outcome streamed to dashboard
// clients. The submitted candidate string is not included; the stream
// carries only caller and decision data.
type StreamEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Service    string    `json:"service"`
	Outcome    string    `json:"outcome"`
	ClientIP   string    `json:"client_ip,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// StreamBroker fans out live audit events to active subscribers.
type StreamBroker struct {
	mu          sync.RWMutex
	subscribers map[int]chan StreamEvent
	nextID      int
	bufferSize  int
}

// NewStreamBroker creates a new in-memory event broker.
func NewStreamBroker(bufferSize int) *StreamBroker {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	return &StreamBroker{
		subscribers: make(map[int]chan StreamEvent),
		bufferSize:  bufferSize,
	}
}

// Publish broadcasts an event to all subscribers in a non-blocking way.
func (b *StreamBroker) Publish(event StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop when subscriber buffer is full to avoid blocking producers.
		}
	}
}

// Subscribe registers a subscriber channel and returns an unsubscribe function.
func (b *StreamBroker) Subscribe() (<-chan StreamEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan StreamEvent, b.bufferSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}

	return ch, unsubscribe
}

// StreamHandler serves live events over WebSocket.
type StreamHandler struct {
	broker   *StreamBroker
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a WebSocket stream handler.
func NewStreamHandler(broker *StreamBroker) *StreamHandler {
	if broker == nil {
		broker = NewStreamBroker(64)
	}

	return &StreamHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades requests to WebSocket and streams live events.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if writeErr := conn.WriteJSON(event); writeErr != nil {
				return
			}
		case <-pingTicker.C:
			if pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); pingErr != nil {
				return
			}
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
