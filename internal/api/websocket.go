package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketpulse/internal/logger"
	"marketpulse/internal/quality"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	broadcastPeriod  = 5 * time.Second
	clientSendBuffer = 64
)

// WebSocketHandler streams quality summaries to connected clients
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	log      logger.Logger
	quality  *quality.Monitor

	mu      sync.RWMutex
	clients map[string]*wsClient

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// wsMessage is the envelope for all outbound frames
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// NewWebSocketHandler creates a quality stream handler
func NewWebSocketHandler(upgrader websocket.Upgrader, log logger.Logger, monitor *quality.Monitor) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: upgrader,
		log:      log,
		quality:  monitor,
		clients:  make(map[string]*wsClient),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic broadcast loop
func (h *WebSocketHandler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	go h.broadcastLoop()
}

// Stop terminates the broadcast loop and disconnects all clients
func (h *WebSocketHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// QualityStream upgrades the connection and streams quality summaries
func (h *WebSocketHandler) QualityStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.log.Debug("websocket client connected", "client_id", client.id)

	go h.writePump(client)
	go h.readPump(client)

	// Initial snapshot so the client does not wait a full broadcast period
	h.sendTo(client, wsMessage{
		Type: "quality_summary",
		Data: h.quality.GetQualitySummary(),
		Time: time.Now(),
	})
}

func (h *WebSocketHandler) broadcastLoop() {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			msg := wsMessage{
				Type: "quality_summary",
				Data: h.quality.GetQualitySummary(),
				Time: time.Now(),
			}

			h.mu.RLock()
			for _, client := range h.clients {
				h.sendTo(client, msg)
			}
			h.mu.RUnlock()
		}
	}
}

// sendTo queues a message, dropping it when the client's buffer is full
func (h *WebSocketHandler) sendTo(client *wsClient, msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way
func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.disconnect(client)

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) disconnect(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		close(client.send)
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	client.conn.Close()
	h.log.Debug("websocket client disconnected", "client_id", client.id)
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
