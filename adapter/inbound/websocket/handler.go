package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/inbound"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

const writeTimeout = 5 * time.Second

// Handler streams spin flush reports to websocket clients
type Handler struct {
	spin        inbound.SpinService
	logger      outbound.Logger
	upgrader    websocket.Upgrader
	connections map[*streamConnection]struct{}
	mu          sync.Mutex
}

type streamConnection struct {
	conn        *websocket.Conn
	unsubscribe func()
	writeMu     sync.Mutex
	closeOnce   sync.Once
}

// message is the frame sent to clients
type message struct {
	Type   string             `json:"type"`
	Status *model.SpinStatus  `json:"status,omitempty"`
	Report *model.FlushReport `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func NewHandler(spin inbound.SpinService, logger outbound.Logger) *Handler {
	return &Handler{
		spin:   spin,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// diagnostics only listen on a local address
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[*streamConnection]struct{}),
	}
}

// HandleConnection upgrades the request and subscribes the client to flush reports
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Error upgrading to WebSocket", "error", err)
		return
	}

	reports, unsubscribe := h.spin.Subscribe()
	sc := &streamConnection{conn: conn, unsubscribe: unsubscribe}

	h.mu.Lock()
	h.connections[sc] = struct{}{}
	h.mu.Unlock()

	status := h.spin.Status()
	if err := sc.write(message{Type: "connected", Status: &status}); err != nil {
		h.logger.Debug("WebSocket client left before handshake completed", "error", err)
		h.release(sc)
		return
	}
	h.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	go h.forwardReports(sc, reports)
	go h.readLoop(sc)
}

// forwardReports ends when the subscription is closed
func (h *Handler) forwardReports(sc *streamConnection, reports <-chan *model.FlushReport) {
	for report := range reports {
		if err := sc.write(message{Type: "flush", Report: report}); err != nil {
			h.logger.Debug("Failed to forward flush report", "batch", report.BatchID, "error", err)
			h.release(sc)
			return
		}
	}
}

func (h *Handler) readLoop(sc *streamConnection) {
	defer h.release(sc)

	for {
		messageType, data, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleClientMessage(sc, data)
	}
}

func (h *Handler) handleClientMessage(sc *streamConnection, data []byte) {
	var request struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &request); err != nil {
		sc.write(message{Type: "error", Error: "invalid message"})
		return
	}

	switch request.Type {
	case "ping":
		sc.write(message{Type: "pong"})
	case "status":
		status := h.spin.Status()
		sc.write(message{Type: "status", Status: &status})
	default:
		sc.write(message{Type: "error", Error: "unknown message type: " + request.Type})
	}
}

func (h *Handler) release(sc *streamConnection) {
	sc.closeOnce.Do(func() {
		sc.unsubscribe()
		sc.conn.Close()

		h.mu.Lock()
		delete(h.connections, sc)
		h.mu.Unlock()
	})
}

// Connections returns the number of open client streams
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Cleanup closes every client stream
func (h *Handler) Cleanup() {
	h.mu.Lock()
	conns := make([]*streamConnection, 0, len(h.connections))
	for sc := range h.connections {
		conns = append(conns, sc)
	}
	h.mu.Unlock()

	for _, sc := range conns {
		sc.writeMu.Lock()
		sc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Server shutting down"),
			time.Now().Add(writeTimeout))
		sc.writeMu.Unlock()
		h.release(sc)
	}
	h.logger.Debug("WebSocket handler cleanup complete", "closed", len(conns))
}

func (sc *streamConnection) write(msg message) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sc.conn.WriteJSON(msg)
}
