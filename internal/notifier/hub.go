// Package notifier implements the Notifier (spec.md §10.2, supplemented):
// job lifecycle events are broadcast over per-principal SSE channels, with
// an optional Redis pub/sub transport so multiple engine replicas each see
// every event regardless of which replica's dispatcher produced it.
// Grounded directly on the teacher's internal/sse/hub.go (channel-keyed
// subscription map, buffered outbound channel, heartbeat-ping loop) and
// internal/clients/redis/sse_bus.go (cross-replica forwarding).
package notifier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

type Event string

const (
	EventJobEnqueued       Event = "job.enqueued"
	EventJobStarted        Event = "job.started"
	EventJobCompleted      Event = "job.completed"
	EventJobFailed         Event = "job.failed"
	EventJobRetryScheduled Event = "job.retry_scheduled"
)

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	Channel  string
	Outbound chan Message
	done     chan struct{}
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(baseLog *logger.Logger) *Hub {
	return &Hub{
		log:           baseLog.With("component", "NotifierHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// NewClient creates a subscriber scoped to channel (always a principal
// id's string form, so a client only ever receives its own jobs' events).
func (h *Hub) NewClient(channel string) *Client {
	client := &Client{
		ID:       uuid.New(),
		Channel:  channel,
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true
	return client
}

func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.subscriptions[client.Channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, client.Channel)
		}
	}
}

// Broadcast delivers msg to every locally-connected client subscribed to
// msg.Channel. A full outbound buffer drops the message for that client
// rather than blocking the broadcaster — SSE notification is best-effort,
// never a correctness dependency (status polling always reflects the
// store's true state regardless of delivery).
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if msg.Channel == "" {
		return
	}
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping notifier message; outbound buffer full", "client_id", c.ID, "channel", msg.Channel)
		}
	}
}

// ServeHTTP streams one client's channel as an SSE response until the
// request context ends or CloseClient is called.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping "+strings.Repeat("#", 512)+"\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal notifier message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

func (h *Hub) CloseClient(client *Client) {
	close(client.done)
	h.RemoveClient(client)
}
