package terminal

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Default PTY dimensions until the wire protocol grows a resize
// message.
const (
	defaultCols = 80
	defaultRows = 24
)

// Forwarder attaches a PTY session to each admitted connection. It
// satisfies the admission server's input-collaborator contract.
type Forwarder struct {
	log *slog.Logger
}

// NewForwarder creates a PTY forwarder.
func NewForwarder() *Forwarder {
	return &Forwarder{log: slog.Default().With("component", "terminal")}
}

// Attach starts a shell PTY for the session. Inbound session payloads
// written to the returned writer reach the shell; shell output is
// written to out (the session's connection). Closing the writer tears
// the shell down.
func (f *Forwarder) Attach(ctx context.Context, sessionID string, out io.Writer) (io.WriteCloser, error) {
	var wmu sync.Mutex

	onOutput := func(id, data string) {
		wmu.Lock()
		defer wmu.Unlock()
		if _, err := out.Write([]byte(data)); err != nil {
			f.log.Debug("session output write failed", "session", id, "error", err)
		}
	}
	onError := func(id, errMsg string) {
		f.log.Warn("pty read error", "session", id, "error", errMsg)
	}

	s, err := NewPTYSession(sessionID, defaultCols, defaultRows, nil, onOutput, onError)
	if err != nil {
		return nil, err
	}
	f.log.Info("pty attached", "session", sessionID)

	// Tear the shell down if the server is stopped mid-session.
	stop := context.AfterFunc(ctx, s.Close)

	return &ptyWriter{session: s, stop: stop}, nil
}

type ptyWriter struct {
	session *PTYSession
	stop    func() bool
}

func (w *ptyWriter) Write(p []byte) (int, error) {
	if err := w.session.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *ptyWriter) Close() error {
	w.stop()
	w.session.Close()
	return nil
}
