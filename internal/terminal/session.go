// Package terminal provides the PTY-backed implementation of the
// in-session byte channel: inbound session payloads are written to a
// local shell, shell output is streamed back to the remote peer.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// sensitiveEnvMarkers are substrings of environment variable names
// that must never leak into a remote shell.
var sensitiveEnvMarkers = []string{
	"TOKEN", "SECRET", "PASSWORD", "API_KEY", "PRIVATE_KEY", "CREDENTIAL",
}

// PTYSession is one shell running under a pseudo-terminal.
type PTYSession struct {
	ID string

	ptmx      *os.File
	cmd       *exec.Cmd
	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}

	onOutput func(id, data string)
	onError  func(id, errMsg string)
}

// NewPTYSession starts a shell under a PTY of the given size. extraEnv
// entries are appended after the filtered process environment. Output
// and read errors are delivered via the callbacks from a dedicated
// reader goroutine.
func NewPTYSession(id string, cols, rows int, extraEnv []string, onOutput, onError func(id, data string)) (*PTYSession, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Env = append(filterEnv(os.Environ()), extraEnv...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("terminal: start %s: %w", shell, err)
	}

	s := &PTYSession{
		ID:       id,
		ptmx:     ptmx,
		cmd:      cmd,
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
		onOutput: onOutput,
		onError:  onError,
	}

	go s.readLoop()
	return s, nil
}

func (s *PTYSession) readLoop() {
	defer close(s.done)

	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.onOutput(s.ID, string(buf[:n]))
		}
		if err != nil {
			select {
			case <-s.closing:
				// Expected during teardown.
			default:
				s.onError(s.ID, err.Error())
			}
			return
		}
	}
}

// Write sends input bytes to the shell.
func (s *PTYSession) Write(data []byte) error {
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("terminal: write: %w", err)
	}
	return nil
}

// Resize changes the PTY dimensions.
func (s *PTYSession) Resize(cols, rows int) error {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("terminal: resize: %w", err)
	}
	return nil
}

// Close tears down the shell and PTY. Safe to call more than once.
func (s *PTYSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.ptmx.Close()
		go s.cmd.Wait()
	})
}

// Done is closed once the reader goroutine has exited.
func (s *PTYSession) Done() <-chan struct{} {
	return s.done
}

// filterEnv strips credential-bearing variables and pins TERM.
func filterEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if name == "TERM" {
			continue
		}
		if isSensitive(name) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "TERM=xterm-256color")
}

func isSensitive(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
