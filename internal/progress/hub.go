// Package progress fans out job progress/failure transitions to SSE
// clients and persists them as an append-only ledger, grounded on the
// teacher's internal/sse.SSEHub: a channel-keyed subscriber map guarded by
// one mutex, buffered per-client outbound channels, and a heartbeat-ping
// ServeHTTP loop. The teacher keys channels by arbitrary string topics
// (user avatar/name/course events); here every channel is one job_id, since
// a client only ever watches the single job it submitted.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// Message is one SSE payload: a single ProgressEvent rendered for transport.
type Message struct {
	JobID      uuid.UUID     `json:"job_id"`
	Stage      string        `json:"stage"`
	Percentage float64       `json:"percentage"`
	Message    string        `json:"message,omitempty"`
	Severity   types.Severity `json:"severity"`
	TS         time.Time     `json:"ts"`
}

// Client is one subscriber's outbound event stream.
type Client struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	Outbound chan Message
	done     chan struct{}
}

// Hub is a concurrency-safe job_id -> subscriber-set fanout, the same shape
// as the teacher's SSEHub with channel renamed to job_id and SSEMessage
// narrowed to a single progress event type.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[uuid.UUID]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "ProgressHub"),
		subscriptions: make(map[uuid.UUID]map[*Client]bool),
	}
}

// NewClient creates and subscribes a client to jobID's event stream.
func (h *Hub) NewClient(jobID uuid.UUID) *Client {
	c := &Client{
		ID:       uuid.New(),
		JobID:    jobID,
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.subscriptions[jobID]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[jobID] = clients
	}
	clients[c] = true
	return c
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.subscriptions[c.JobID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscriptions, c.JobID)
		}
	}
}

// Broadcast delivers msg to every subscriber of msg.JobID, dropping it for
// any client whose outbound buffer is full rather than blocking the caller.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.JobID] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping progress event; client buffer full", "job_id", msg.JobID, "client_id", c.ID)
		}
	}
}

// ServeHTTP streams msg events and keep-alive pings to client until the
// request context ends or the client is closed.
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

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping "+strings.Repeat("#", 16)+"\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			b, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal progress event", "error", err)
				continue
			}
			fmt.Fprint(w, "event: progress\n")
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

func (h *Hub) CloseClient(c *Client) {
	h.RemoveClient(c)
	close(c.done)
	close(c.Outbound)
}
