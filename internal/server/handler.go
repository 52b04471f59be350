package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os/user"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ostiary-io/ostiary/internal/audit"
	"github.com/ostiary-io/ostiary/internal/protocol"
)

// handshakeTimeout bounds how long a connection may sit on the socket
// before sending its handshake message.
const handshakeTimeout = 10 * time.Second

// handle runs one connection from handshake to teardown. The session
// registry entry, when one is created, is always terminated before the
// handler returns.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remoteIP := remoteIP(conn)

	req, err := s.readHandshake(conn)
	if err != nil {
		// No response for a connection that never produced a valid
		// handshake; it learns nothing about the server.
		s.log.Warn("handshake failed", "remote", remoteIP, "error", err)
		if aerr := s.audit.LogEvent(audit.Entry{
			EventType: audit.EventSessionError,
			RemoteIP:  remoteIP,
			Result:    audit.ResultFailure,
			Details:   err.Error(),
		}); aerr != nil {
			s.log.Error("audit handshake error", "error", aerr)
		}
		return
	}

	if !s.checkPassword(req.Password) {
		s.reject(conn, remoteIP, req.Username, false, protocol.ErrInvalidPassword)
		return
	}

	identity := s.effectiveIdentity()

	if !s.consents.HasValidConsent(identity) {
		s.reject(conn, remoteIP, identity, false, protocol.ErrNoConsent)
		return
	}
	record := s.consents.GetActiveConsent(identity)
	if record == nil || !s.consents.ValidateSignature(record) {
		s.reject(conn, remoteIP, identity, false, protocol.ErrConsentNotFound)
		return
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		s.reject(conn, remoteIP, identity, true, protocol.ErrServerBusy)
		return
	}

	if err := s.audit.LogConnectionAttempt(remoteIP, identity, true, audit.ResultSuccess, ""); err != nil {
		s.log.Error("audit connection attempt", "error", err)
	}

	info := s.registry.InitiateSession(identity, remoteIP, record.ID)
	defer s.registry.TerminateSession(info.SessionID)

	if err := s.respond(conn, protocol.HandshakeResponse{
		Success:      true,
		SessionID:    info.SessionID,
		ScreenWidth:  protocol.ScreenWidth,
		ScreenHeight: protocol.ScreenHeight,
	}); err != nil {
		s.log.Warn("handshake response", "session", info.SessionID, "error", err)
		return
	}

	writer, err := s.fwd.Attach(ctx, info.SessionID, conn)
	if err != nil {
		s.log.Warn("forwarder attach", "session", info.SessionID, "error", err)
		writer = nopWriteCloser{}
	}
	defer writer.Close()

	s.serveSession(ctx, conn, info.SessionID, writer)
}

// serveSession is the liveness loop of an admitted session. It ticks on
// a short read deadline so that shutdown, idle timeout, and disconnect
// commands are all observed promptly.
func (s *Server) serveSession(ctx context.Context, conn net.Conn, sessionID string, writer io.Writer) {
	tick := s.cfg.TickInterval.Std()
	idle := s.cfg.IdleTimeout.Std()
	buf := make([]byte, protocol.MaxMessageSize)
	lastData := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		s.registry.UpdateActivity(sessionID)

		conn.SetReadDeadline(time.Now().Add(tick))
		n, err := conn.Read(buf)
		if n > 0 {
			lastData = time.Now()
			payload := buf[:n]
			if strings.TrimSpace(string(payload)) == protocol.DisconnectCommand {
				return
			}
			if _, werr := writer.Write(payload); werr != nil {
				s.log.Warn("session input", "session", sessionID, "error", werr)
			}
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if idle > 0 && time.Since(lastData) > idle {
					s.log.Info("session idle timeout", "session", sessionID)
					return
				}
				continue
			}
			// Peer closed or the connection broke.
			return
		}
	}
}

func (s *Server) readHandshake(conn net.Conn) (*protocol.AuthRequest, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	buf := make([]byte, protocol.MaxMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	var req protocol.AuthRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		return nil, errors.New("malformed handshake")
	}
	return &req, nil
}

// checkPassword compares the presented secret without leaking timing.
func (s *Server) checkPassword(got string) bool {
	if s.cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(got)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(s.cfg.Password), []byte(got)) == 1
}

// effectiveIdentity is the account whose consent gates admission: the
// configured override, or the account the service runs under.
func (s *Server) effectiveIdentity() string {
	if s.cfg.Identity != "" {
		return s.cfg.Identity
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// reject sends a failure response and records exactly one audit entry
// for the attempt.
func (s *Server) reject(conn net.Conn, remoteIP, username string, consentVerified bool, reason string) {
	s.log.Info("connection rejected", "remote", remoteIP, "username", username, "reason", reason)
	if err := s.audit.LogConnectionAttempt(remoteIP, username, consentVerified, audit.ResultRejected, reason); err != nil {
		s.log.Error("audit rejection", "error", err)
	}
	if err := s.respond(conn, protocol.HandshakeResponse{Success: false, Error: reason}); err != nil {
		s.log.Warn("rejection response", "remote", remoteIP, "error", err)
	}
}

func (s *Server) respond(conn net.Conn, resp protocol.HandshakeResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(data)
	return err
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
