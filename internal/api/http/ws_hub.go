package apihttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jenfonro/MeowFilmTV/internal/metrics"
	"github.com/jenfonro/MeowFilmTV/internal/player"
)

var ErrHubClosed = errors.New("renderer hub closed")

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// rendererCause is one link of the exception chain a renderer reports.
type rendererCause struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rendererMessage is what a renderer sends back: playback errors with their
// cause chain, and status changes.
type rendererMessage struct {
	Type    string          `json:"type"`
	Engine  string          `json:"engine"`
	Message string          `json:"message,omitempty"`
	Causes  []rendererCause `json:"causes,omitempty"`
	Status  string          `json:"status,omitempty"`
}

func (m rendererMessage) failure() error {
	causes := make([][2]string, 0, len(m.Causes))
	for _, cause := range m.Causes {
		causes = append(causes, [2]string{cause.Type, cause.Message})
	}
	return player.ChainError(m.Message, causes...)
}

type wsClient struct {
	id   string
	hub  *RendererHub
	conn *websocket.Conn
	send chan []byte
}

// RendererHub fans player commands and state out to every attached renderer
// and feeds renderer reports back through onMessage. It implements
// player.CommandSink.
type RendererHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	logger     *slog.Logger

	mu        sync.Mutex
	lastLoad  []byte
	onMessage func(rendererMessage)
}

func NewRendererHub(logger *slog.Logger) *RendererHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &RendererHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *RendererHub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				h.drop(client)
			}
			h.logger.Debug("renderer hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			metrics.RendererConnections.Inc()
			// A late renderer picks up the source that is already playing.
			if load := h.pendingLoad(); load != nil {
				select {
				case client.send <- load:
				default:
				}
			}
			h.logger.Info("renderer attached", slog.String("renderer", client.id), slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("renderer detached", slog.String("renderer", client.id), slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *RendererHub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
	h.count.Add(-1)
	metrics.RendererConnections.Dec()
}

// Close disconnects every renderer. It is safe to call more than once.
func (h *RendererHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *RendererHub) ClientCount() int {
	return int(h.count.Load())
}

func (h *RendererHub) setHandler(fn func(rendererMessage)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *RendererHub) handler() func(rendererMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onMessage
}

func (h *RendererHub) pendingLoad() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLoad
}

// Send delivers a player command to every renderer. Commands are never
// dropped for a full queue; Send waits until the hub accepts them.
func (h *RendererHub) Send(cmd player.Command) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	payload, err := json.Marshal(wsMessage{Type: "command", Data: cmd})
	if err != nil {
		return err
	}
	h.mu.Lock()
	switch cmd.Type {
	case player.CommandLoad:
		h.lastLoad = payload
	case player.CommandStop, player.CommandRelease:
		h.lastLoad = nil
	}
	h.mu.Unlock()

	select {
	case h.broadcast <- payload:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// BroadcastState pushes a controller state to every renderer. It is meant
// to be registered as a controller state listener and drops the update when
// the queue is full.
func (h *RendererHub) BroadcastState(state player.State) {
	if h.ClientCount() == 0 {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: "state", Data: state})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *RendererHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		var msg rendererMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("renderer sent invalid message", slog.String("renderer", c.id), slog.String("error", err.Error()))
			continue
		}
		if fn := c.hub.handler(); fn != nil {
			fn(msg)
		}
	}
}
