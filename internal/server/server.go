// Package server exposes the chat core over HTTP and WebSocket: send
// and poll endpoints backed by the interactive client, directory and
// history endpoints backed by the monitor and the durable log, and a
// WebSocket stream that pushes live events to frontend connections.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astrohq/astrochat-go/internal/chat"
	"github.com/astrohq/astrochat-go/internal/store"
	"github.com/astrohq/astrochat-go/internal/wire"
)

// Server is the boundary API server.
type Server struct {
	port    int
	apiKey  string
	client  *chat.Client
	monitor *chat.Monitor
	log     store.Store

	// WebSocket liveness windows; shrunk in tests.
	wsReadTimeout  time.Duration
	wsPingInterval time.Duration

	mux *http.ServeMux
	srv *http.Server
}

// ServerConfig configures the boundary Server.
type ServerConfig struct {
	Port    int
	APIKey  string
	Client  *chat.Client
	Monitor *chat.Monitor
	Store   store.Store
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		port:           cfg.Port,
		apiKey:         cfg.APIKey,
		client:         cfg.Client,
		monitor:        cfg.Monitor,
		log:            cfg.Store,
		wsReadTimeout:  60 * time.Second,
		wsPingInterval: 25 * time.Second,
		mux:            http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ws/chat", s.handleWS)
	s.mux.HandleFunc("/api/chat/send", s.withAuth(s.handleSend))
	s.mux.HandleFunc("/api/chat/messages", s.withAuth(s.handleMessages))
	s.mux.HandleFunc("/api/chat/status", s.withAuth(s.handleStatus))
	s.mux.HandleFunc("/api/chat/channel", s.withAuth(s.handleChannelSwitch))
	s.mux.HandleFunc("/api/chat/channels", s.withAuth(s.handleChannels))
	s.mux.HandleFunc("/api/chat/channels/live", s.withAuth(s.handleChannelsLive))
	s.mux.HandleFunc("/api/chat/users", s.withAuth(s.handleUsers))
	s.mux.HandleFunc("/api/chat/history", s.withAuth(s.handleHistory))
	s.mux.HandleFunc("/api/chat/unread", s.withAuth(s.handleUnread))

	return s
}

// Handler returns the route multiplexer, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", s.port),
		Handler: s.mux,
	}

	log.Printf("[Server] HTTP API → http://0.0.0.0:%d", s.port)
	log.Printf("[Server] WebSocket → ws://0.0.0.0:%d/ws/chat", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
	}
}

// --- Auth middleware ---

func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.apiKey {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
		}
		handler(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeJSONError(w, "text is required", http.StatusBadRequest)
		return
	}
	if err := s.client.Send(req.Text); err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"sent": true})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	events := s.client.Events(after)
	if events == nil {
		events = []chat.Event{}
	}
	writeJSON(w, map[string]any{"messages": events})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"client": s.client.Status()}
	if s.monitor != nil {
		status["monitor"] = s.monitor.Status()
	}
	writeJSON(w, status)
}

type switchRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleChannelSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.client.SwitchChannel(req.Name); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"channel": s.client.Status().Channel})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	channels := []chat.ChannelInfo{}
	if s.monitor != nil {
		channels = s.monitor.Directory()
	}
	writeJSON(w, map[string]any{"channels": channels})
}

func (s *Server) handleChannelsLive(w http.ResponseWriter, _ *http.Request) {
	channels := s.client.ListChannels()
	if channels == nil {
		channels = []wire.ListEntry{}
	}
	writeJSON(w, map[string]any{"channels": channels})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.client.ListUsers()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, map[string]any{"users": users})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		writeJSONError(w, "channel is required", http.StatusBadRequest)
		return
	}
	before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, err := s.log.History(r.Context(), channel, before, limit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []chat.Event{}
	}
	writeJSON(w, map[string]any{"messages": events})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var since map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&since); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	counts, err := s.log.UnreadCounts(r.Context(), since)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"counts": counts})
}

// --- WebSocket ---

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex for thread safety.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WriteJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWS streams live client events to one frontend connection. The
// subscription queue is bounded; if this connection falls far enough
// behind to fill it, the client prunes the subscriber and the write
// loop ends on the next read error.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	conn := &wsConn{Conn: raw}
	peer := r.RemoteAddr
	log.Printf("[WS] Connected: %s", peer)

	sub := s.client.Subscribe()
	defer func() {
		s.client.Unsubscribe(sub)
		raw.Close()
		log.Printf("[WS] Disconnected: %s", peer)
	}()

	// Pong handler: peer responds to our ping, extend the read deadline.
	// A silently dead peer stops ponging and the reader unblocks with an
	// error instead of leaking the connection.
	raw.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		return nil
	})

	// Reader: discard inbound frames, any message counts as activity.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				return
			}
			raw.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		}
	}()

	ping := time.NewTicker(s.wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WritePing(); err != nil {
				return
			}
		case ev := <-sub.Events():
			if err := conn.WriteJSONSafe(ev); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
