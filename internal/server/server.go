// Package server implements the TCP admission server: it gates every
// inbound connection on the shared secret and on a recorded, unexpired
// consent for the effective identity before a session exists.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ostiary-io/ostiary/internal/audit"
	"github.com/ostiary-io/ostiary/internal/config"
	"github.com/ostiary-io/ostiary/internal/consent"
	"github.com/ostiary-io/ostiary/internal/session"
)

// Forwarder supplies the in-session byte channel. Attach is called once
// per admitted session with the connection as the output sink; inbound
// payloads are written to the returned writer, and Close detaches it.
type Forwarder interface {
	Attach(ctx context.Context, sessionID string, out io.Writer) (io.WriteCloser, error)
}

// DiscardForwarder drops all in-session input. It is the default when
// no terminal collaborator is configured.
type DiscardForwarder struct{}

func (DiscardForwarder) Attach(ctx context.Context, sessionID string, out io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{}, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// Server accepts remote-control connections and runs their lifecycle.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	consents *consent.Store
	audit    *audit.Logger
	fwd      Forwarder
	log      *slog.Logger

	ln       net.Listener
	limiter  *rate.Limiter
	slots    chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer wires an admission server. fwd may be nil, in which case
// in-session input is discarded.
func NewServer(cfg *config.Config, reg *session.Registry, store *consent.Store, auditLog *audit.Logger, fwd Forwarder, log *slog.Logger) *Server {
	if fwd == nil {
		fwd = DiscardForwarder{}
	}
	return &Server{
		cfg:      cfg,
		registry: reg,
		consents: store,
		audit:    auditLog,
		fwd:      fwd,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst),
		slots:    make(chan struct{}, cfg.MaxSessions),
	}
}

// Start binds the listen address and begins accepting connections. A
// bind failure is returned to the caller; once Start returns nil the
// server runs until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln

	if err := s.audit.LogEvent(audit.Entry{
		EventType: audit.EventServerStart,
		Result:    audit.ResultSuccess,
		Details:   ln.Addr().String(),
	}); err != nil {
		ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.log.Info("admission server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener, waits for in-flight handlers, and ends any
// session that outlived its handler. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.ln.Close()
		s.wg.Wait()

		if n := s.registry.Drain(); n > 0 {
			s.log.Info("drained sessions on shutdown", "count", n)
		}

		if err := s.audit.LogEvent(audit.Entry{
			EventType: audit.EventServerStop,
			Result:    audit.ResultSuccess,
		}); err != nil {
			s.log.Error("audit server stop", "error", err)
		}
	})
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log.Warn("accept", "error", err)
			if aerr := s.audit.LogEvent(audit.Entry{
				EventType: audit.EventConnectionError,
				Result:    audit.ResultFailure,
				Details:   err.Error(),
			}); aerr != nil {
				s.log.Error("audit accept error", "error", aerr)
			}
			continue
		}

		if !s.limiter.Allow() {
			// Over the accept rate: drop before the handshake. The
			// drop is still a rejection decision, so it is audited.
			ip := remoteIP(conn)
			s.log.Debug("connection dropped by rate limit", "remote", ip)
			if aerr := s.audit.LogConnectionAttempt(ip, "", false, audit.ResultRejected, "rate limited"); aerr != nil {
				s.log.Error("audit rate-limited drop", "error", aerr)
			}
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(ctx, conn)
		}()
	}
}
