package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// EventNavigate asks the presentation layer to show a view
const EventNavigate = "view.navigate"

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Event is one message on the stream
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// ClientRecorder observes connects and disconnects
type ClientRecorder interface {
	EventClientConnected()
	EventClientDisconnected()
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to every connected presentation-layer client
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	recorder ClientRecorder

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub accepting connections from allowedOrigin ("*" for any)
func NewHub(logger *zap.Logger, allowedOrigin string, recorder ClientRecorder) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		logger:   logger,
		recorder: recorder,
		clients:  make(map[*client]struct{}),
	}
}

// Publish broadcasts an event. Slow clients miss events rather than block.
func (h *Hub) Publish(kind string, payload any) {
	evt := Event{
		ID:      uuid.New().String(),
		Type:    kind,
		Time:    time.Now().UTC(),
		Payload: payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			h.logger.Warn("event dropped for slow client", zap.String("type", kind))
		}
	}
}

// Navigate tells the shell to point the service's webview at the view's URL
func (h *Hub) Navigate(_ context.Context, view models.View) error {
	h.Publish(EventNavigate, view)
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade event connection", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	h.logger.Info("event client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go h.writeEvents(c, done)

	// the stream is one-way; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("event client error", zap.Error(err))
			}
			break
		}
	}
	close(done)

	h.logger.Info("event client disconnected", zap.String("remote", r.RemoteAddr))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) writeEvents(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case evt := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				h.logger.Warn("failed to write event", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.recorder != nil {
		h.recorder.EventClientConnected()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.recorder != nil {
		h.recorder.EventClientDisconnected()
	}
}
