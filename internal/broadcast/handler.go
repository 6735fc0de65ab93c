package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/store"
)

const (
	authTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second
)

// ClientStore resolves subscriber API keys. Inactive or unknown keys resolve
// to nil.
type ClientStore interface {
	LookupByKey(ctx context.Context, apiKey string) (*store.Client, error)
}

// Server upgrades subscriber connections, runs the auth handshake and hands
// authenticated connections to the hub.
type Server struct {
	hub      *Hub
	clients  ClientStore
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewServer(hub *Hub, clients ClientStore, log *logger.Logger) *Server {
	return &Server{
		hub:     hub,
		clients: clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Subscribers connect from anywhere; auth happens in-band.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("broadcast_server"),
	}
}

// Handle is the gin handler for the /ws path.
func (s *Server) Handle(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	go s.serve(ws)
}

// serve runs the connection state machine: AwaitingAuth, ValidatingKey,
// Authenticated, Closed.
func (s *Server) serve(ws *websocket.Conn) {
	client, ok := s.authenticate(ws)
	if !ok {
		ws.Close()
		return
	}

	c := &conn{
		clientID: client.ID,
		authedAt: time.Now(),
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}

	welcome, _ := json.Marshal(statusFrame{
		Status:  "authenticated",
		Message: "Connected to signal relay",
	})
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, welcome); err != nil {
		ws.Close()
		return
	}

	// Registration enqueues the backlog replay ahead of any live broadcast.
	s.hub.register(c)

	go s.writePump(ws, c)
	s.readPump(ws, c)
}

// authenticate waits up to authTimeout for the auth frame and validates the
// key. Timeout closes with 4001 and no frame; a bad key gets an error frame
// and 4002.
func (s *Server) authenticate(ws *websocket.Conn) (*store.Client, bool) {
	ws.SetReadDeadline(time.Now().Add(authTimeout))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		s.closeWith(ws, CloseAuthTimeout, "auth timeout")
		return nil, false
	}

	var req authRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Action != "auth" {
		s.rejectKey(ws)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	client, err := s.clients.LookupByKey(ctx, req.APIKey)
	if err != nil {
		s.logger.Error("key lookup failed", slog.String("error", err.Error()))
		s.rejectKey(ws)
		return nil, false
	}
	if client == nil {
		s.rejectKey(ws)
		return nil, false
	}

	return client, true
}

func (s *Server) rejectKey(ws *websocket.Conn) {
	frame, _ := json.Marshal(statusFrame{Status: "error", Message: "Invalid API Key"})
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteMessage(websocket.TextMessage, frame)
	s.closeWith(ws, CloseAuthFailed, "invalid api key")
}

func (s *Server) closeWith(ws *websocket.Conn, code int, reason string) {
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// readPump drains inbound frames to process control messages and detect peer
// close. Subscribers send nothing meaningful after auth.
func (s *Server) readPump(ws *websocket.Conn, c *conn) {
	defer func() {
		s.hub.unregister(c)
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers queued frames and periodic pings. It exits when the
// connection's closed channel fires (server shutdown sends 1001) or a write
// fails.
func (s *Server) writePump(ws *websocket.Conn, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.hub.unregister(c)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.unregister(c)
				return
			}
		case <-c.closed:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		}
	}
}
