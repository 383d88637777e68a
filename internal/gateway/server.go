// Package gateway serves the health and status endpoints and streams engine
// events to websocket watchers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// StatusFunc builds the /status payload.
type StatusFunc func(ctx context.Context) (any, error)

// Options configure a Server.
type Options struct {
	Addr    string
	Service string
	Version string
	Events  bus.EventPublisher
	Status  StatusFunc
}

// Server is the HTTP server for /, /health, /status and /ws.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	seq      atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server. Events and Status may be nil.
func NewServer(opts Options) *Server {
	if opts.Service == "" {
		opts.Service = "chatpilot"
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Watchers are CLI clients; browsers are not expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", s.opts.Addr)

	go func() {
		<-ctx.Done()
		s.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  s.opts.Service,
		"version":  s.opts.Version,
		"protocol": protocol.ProtocolVersion,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	st, err := s.opts.Status(r.Context())
	if err != nil {
		slog.Warn("gateway: status failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		http.Error(w, "event feed disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	defer conn.Close()

	client := NewClient(uuid.NewString(), conn)
	s.registerClient(client)
	defer s.unregisterClient(client)

	client.SendEvent(s.frame(protocol.EventHealth, map[string]any{"status": "healthy", "version": s.opts.Version}))
	client.Run(r.Context())
}

func (s *Server) frame(name string, payload any) protocol.EventFrame {
	f := protocol.NewEvent(name, payload)
	f.Seq = s.seq.Add(1)
	return f
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.opts.Events.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(s.frame(event.Name, event.Payload))
	})
	slog.Info("watcher connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.opts.Events.Unsubscribe(c.id)
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.Close()
	slog.Info("watcher disconnected", "id", c.id)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(s.frame(protocol.EventShutdown, nil))
		c.Close()
	}
}

// Clients returns the number of connected watchers.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway: write response", "error", err)
	}
}
