package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"krw-trading-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected dashboard client.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *wsHub
}

// wsHub fans out broadcast events to every connected dashboard client,
// grounded on the teacher's internal/api.WSHub register/unregister/
// broadcast channel triple.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu   sync.Mutex
	logs []logLine
}

type logLine struct {
	Timestamp time.Time   `json:"timestamp"`
	Message   interface{} `json:"message"`
}

const maxRecentLogs = 30

func newWSHub() *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// broadcastEvent marshals e and fans it to every client, and records it in
// the in-memory log ring GET /api/logs serves.
func (h *wsHub) broadcastEvent(e events.Event) {
	if e.Type == events.TypeLog {
		h.mu.Lock()
		h.logs = append(h.logs, logLine{Timestamp: e.Timestamp, Message: e.Data})
		if len(h.logs) > maxRecentLogs {
			h.logs = h.logs[len(h.logs)-maxRecentLogs:]
		}
		h.mu.Unlock()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *wsHub) recentLogs() []logLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]logLine, len(h.logs))
	copy(out, h.logs)
	return out
}

// wsCommand is an inbound control message: {command: run_learning |
// run_backtest, symbols?}.
type wsCommand struct {
	Command string   `json:"command"`
	Symbols []string `json:"symbols,omitempty"`
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(s *Server) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		s.handleWSCommand(cmd)
	}
}

// handleWSCommand runs the two long-running operations a dashboard client
// can trigger remotely: the offline learning pass, and (not yet
// implemented) a backtest run, both reported back over the same hub.
func (s *Server) handleWSCommand(cmd wsCommand) {
	switch cmd.Command {
	case "run_learning":
		go func() {
			report, err := s.loop.TriggerLearning(time.Now())
			if err != nil {
				s.log.Warn().Err(err).Msg("learning pass failed")
				return
			}
			s.hub.broadcastEvent(events.Event{Type: events.TypeLearningStatus, TenantID: s.tenantID, Data: report})
		}()
	case "run_backtest":
		s.hub.broadcastEvent(events.Event{
			Type:     events.TypeBacktestStatus,
			TenantID: s.tenantID,
			Data:     gin.H{"status": "unsupported", "reason": "no backtest engine configured for this tenant"},
		})
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 256), hub: s.hub}
	client.hub.register <- client

	go client.writePump()
	go client.readPump(s)

	welcome, _ := json.Marshal(events.Event{Type: events.TypeStatus, TenantID: s.tenantID, Data: s.loop.Snapshot()})
	select {
	case client.send <- welcome:
	default:
	}
}
