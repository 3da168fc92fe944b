// Package statusd exposes the daemon's sync state over HTTP: a
// snapshot endpoint for one-shot queries and a WebSocket feed for
// live updates. It implements the scheduler's Listener contract, so
// every pass transition reaches connected clients as it happens.
package statusd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/notisync/notisync/internal/model"
)

// Config holds server settings.
type Config struct {
	// Addr to listen on, e.g. "127.0.0.1:9099".
	Addr string

	Logger *log.Logger
}

// Controller is the scheduler surface the control endpoints drive.
type Controller interface {
	SyncNow()
	Pause()
	Resume()
	Paused() bool
}

// Server tracks the latest status per activity and broadcasts every
// change to connected WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	statuses   map[string]model.SyncStatus
	statusesMu sync.RWMutex

	controllers   map[string]Controller
	controllersMu sync.RWMutex

	broadcast chan model.SyncStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a status server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[statusd] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:        cfg.Addr,
		logger:      cfg.Logger,
		clients:     make(map[*websocket.Conn]bool),
		statuses:    make(map[string]model.SyncStatus),
		controllers: make(map[string]Controller),
		broadcast:   make(chan model.SyncStatus, 100),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Notify records the activity's latest status and queues it for
// broadcast. It never blocks a sync pass; under backpressure the
// update is dropped and clients catch up from /status.
func (s *Server) Notify(status model.SyncStatus) {
	s.statusesMu.Lock()
	s.statuses[status.Activity] = status
	s.statusesMu.Unlock()

	select {
	case s.broadcast <- status:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping status")
	}
}

// Start begins listening and serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sync", s.control(Controller.SyncNow))
	mux.HandleFunc("/pause", s.control(Controller.Pause))
	mux.HandleFunc("/resume", s.control(Controller.Resume))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping status server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Statuses returns a copy of the latest status per activity.
func (s *Server) Statuses() map[string]model.SyncStatus {
	s.statusesMu.RLock()
	defer s.statusesMu.RUnlock()

	out := make(map[string]model.SyncStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case status := <-s.broadcast:
			data, err := json.Marshal(status)
			if err != nil {
				s.logger.Printf("Failed to marshal status: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// New clients get the current snapshot before live updates.
	for _, status := range s.Statuses() {
		data, err := json.Marshal(status)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects disconnects. Client
// messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
		return
	}
	s.clientsMu.Unlock()
}

// AddController registers the scheduler controlling an activity. Must
// be called before Start.
func (s *Server) AddController(activity string, c Controller) {
	s.controllersMu.Lock()
	defer s.controllersMu.Unlock()
	s.controllers[activity] = c
}

// control builds a POST handler applying op to the named activity's
// controller, or to all of them when no activity parameter is given.
func (s *Server) control(op func(Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		activity := r.URL.Query().Get("activity")

		s.controllersMu.RLock()
		defer s.controllersMu.RUnlock()

		if activity != "" {
			c, ok := s.controllers[activity]
			if !ok {
				http.Error(w, "unknown activity", http.StatusNotFound)
				return
			}
			op(c)
		} else {
			for _, c := range s.controllers {
				op(c)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Statuses())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
