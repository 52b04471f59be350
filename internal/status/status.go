// Package status serves the local operator API: a loopback HTTP
// surface for inspecting active sessions and audit history, plus a
// websocket stream of session lifecycle events.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ostiary-io/ostiary/internal/audit"
	"github.com/ostiary-io/ostiary/internal/session"
)

// Server is the local status API. It is meant to bind loopback only;
// it performs no authentication of its own.
type Server struct {
	registry *session.Registry
	audit    *audit.Logger
	log      *slog.Logger

	ln       net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

func NewServer(reg *session.Registry, auditLog *audit.Logger, log *slog.Logger) *Server {
	return &Server{
		registry: reg,
		audit:    auditLog,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start binds addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /v1/logs", s.handleLogs)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("status API listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("status API", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop shuts the API down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type sessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	active := s.registry.GetActiveSessions()
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: active, Count: len(active)})
}

type sessionResponse struct {
	Session  session.Info           `json:"session"`
	Security session.SecurityStatus `json:"security"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.registry.GetSessionInfo(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:  info,
		Security: s.registry.ValidateSessionSecurity(id),
	})
}

type logsResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// handleLogs returns audit entries from the active log file. since and
// until are RFC 3339; since defaults to 24 hours ago, until to now.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	until := time.Now()

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
			return
		}
		since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid until: "+err.Error(), http.StatusBadRequest)
			return
		}
		until = t
	}

	entries, err := s.audit.GetLogs(since, until)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries, Count: len(entries)})
}

// handleEvents streams session lifecycle events over a websocket until
// the client goes away or the server stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before completing the upgrade so a client never misses
	// an event fired right after its dial returns.
	events, cancel := s.registry.Subscribe()
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: its only job is to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("status API encode", "error", err)
	}
}
