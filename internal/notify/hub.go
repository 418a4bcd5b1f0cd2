// Package notify fans committed inventory changes out to connected
// dashboard observers over WebSocket. Delivery is best-effort: no
// acknowledgment, no retry, no history for late joiners.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/Robinemad1/EEETrading/internal/model"
)

// MessageTypeInventoryUpdate is the only message type sent to observers.
const MessageTypeInventoryUpdate = "inventory_update"

const (
	broadcastBuffer = 100
	publishBuffer   = 100
	writeTimeout    = 5 * time.Second
)

// Message is the observer wire format.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher forwards encoded messages to other instances. The publisher is
// expected to deliver them back to this hub as well.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Hub manages observer connections and broadcasts messages to them.
type Hub struct {
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan []byte
	outbound  chan []byte
	publisher Publisher

	originPatterns []string
	logger         *slog.Logger

	dropped   atomic.Int64
	sent      atomic.Int64
	unrelayed atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. originPatterns are host patterns allowed to open
// cross-origin connections; nil allows same-origin only.
func NewHub(originPatterns []string, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:        make(map[*websocket.Conn]struct{}),
		broadcast:      make(chan []byte, broadcastBuffer),
		outbound:       make(chan []byte, publishBuffer),
		originPatterns: originPatterns,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetPublisher routes notifications through a cross-instance publisher.
// Call it before Start.
func (h *Hub) SetPublisher(p Publisher) {
	h.publisher = p
}

// Start runs the broadcast and publish loops.
func (h *Hub) Start() {
	h.wg.Add(2)
	go h.broadcastLoop()
	go h.publishLoop()
}

// Close disconnects all observers and stops both loops.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// NotifyInventoryUpdate broadcasts the state of a changed item. It never
// blocks the caller, neither on observers nor on the publisher, and never
// fails.
func (h *Hub) NotifyInventoryUpdate(item model.InventoryItem) {
	data, err := json.Marshal(Message{Type: MessageTypeInventoryUpdate, Data: item})
	if err != nil {
		h.logger.Error("encoding inventory update", slog.String("error", err.Error()))
		return
	}

	if h.publisher == nil {
		h.Broadcast(data)
		return
	}

	select {
	case h.outbound <- data:
	default:
		h.unrelayed.Add(1)
		h.logger.Warn("publish queue full, delivering locally only", slog.Int64("item_id", item.ID))
		h.Broadcast(data)
	}
}

// publishLoop hands queued notifications to the publisher. A message the
// publisher rejects still reaches local observers.
func (h *Hub) publishLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case data := <-h.outbound:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := h.publisher.Publish(ctx, data)
			cancel()
			if err == nil {
				continue
			}

			h.unrelayed.Add(1)
			h.logger.Warn("publishing inventory update, delivering locally only",
				slog.String("error", err.Error()),
			)
			h.Broadcast(data)
		}
	}
}

// Broadcast queues an encoded message for local observers. The message is
// dropped when the queue is full.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case data := <-h.broadcast:
			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow observer can't stall
			// connects and disconnects.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Debug("dropping observer after failed write", slog.String("error", err.Error()))
					h.removeClient(conn)
					continue
				}
				h.sent.Add(1)
			}
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket observer connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info("observer connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("observers", count),
	)

	go h.readLoop(conn)
}

// readLoop detects disconnects. Observers never send anything meaningful.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; !exists {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("observer disconnected", slog.Int("observers", count))
}

// Stats describes observer fan-out activity.
// Unrelayed counts messages that only reached local observers because the
// publisher was backed up or failed.
type Stats struct {
	Observers int   `json:"observers"`
	Sent      int64 `json:"messages_sent"`
	Dropped   int64 `json:"messages_dropped"`
	Unrelayed int64 `json:"messages_unrelayed"`
	Relayed   bool  `json:"relayed"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.clientsMu.RLock()
	n := len(h.clients)
	h.clientsMu.RUnlock()

	return Stats{
		Observers: n,
		Sent:      h.sent.Load(),
		Dropped:   h.dropped.Load(),
		Unrelayed: h.unrelayed.Load(),
		Relayed:   h.publisher != nil,
	}
}
