package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ostiary-io/ostiary/internal/audit"
	"github.com/ostiary-io/ostiary/internal/session"
)

func newTestAPI(t *testing.T) (*Server, *session.Registry, *audit.Logger) {
	t.Helper()

	auditLog, err := audit.NewLogger(filepath.Join(t.TempDir(), "audit.log"), 1<<20, 3)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	registry := session.NewRegistry(auditLog)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(registry, auditLog, log)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, registry, auditLog
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSessionsEndpoint(t *testing.T) {
	srv, registry, _ := newTestAPI(t)
	base := "http://" + srv.Addr().String()

	var got sessionsResponse
	if code := getJSON(t, base+"/v1/sessions", &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Count != 0 {
		t.Errorf("expected 0 sessions, got %d", got.Count)
	}

	info := registry.InitiateSession("alice", "192.0.2.10", "consent-1")

	if code := getJSON(t, base+"/v1/sessions", &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Count != 1 {
		t.Fatalf("expected 1 session, got %d", got.Count)
	}
	if got.Sessions[0].SessionID != info.SessionID {
		t.Errorf("expected session %s, got %s", info.SessionID, got.Sessions[0].SessionID)
	}
	if got.Sessions[0].Username != "alice" {
		t.Errorf("expected alice, got %s", got.Sessions[0].Username)
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv, registry, _ := newTestAPI(t)
	base := "http://" + srv.Addr().String()

	if code := getJSON(t, base+"/v1/sessions/nope", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", code)
	}

	info := registry.InitiateSession("bob", "192.0.2.11", "consent-2")

	var got sessionResponse
	if code := getJSON(t, base+"/v1/sessions/"+info.SessionID, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Session.Username != "bob" {
		t.Errorf("expected bob, got %s", got.Session.Username)
	}
	if !got.Security.Verified {
		t.Errorf("expected verified security status, got %+v", got.Security)
	}
}

func TestLogsEndpoint(t *testing.T) {
	srv, _, auditLog := newTestAPI(t)
	base := "http://" + srv.Addr().String()

	if err := auditLog.LogConnectionAttempt("192.0.2.12", "alice", true, audit.ResultSuccess, ""); err != nil {
		t.Fatalf("LogConnectionAttempt failed: %v", err)
	}

	var got logsResponse
	if code := getJSON(t, base+"/v1/logs", &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Count != 1 {
		t.Fatalf("expected 1 entry, got %d", got.Count)
	}
	if got.Entries[0].Username != "alice" {
		t.Errorf("expected alice, got %s", got.Entries[0].Username)
	}

	// A window in the past excludes the entry.
	since := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	until := time.Now().Add(-1 * time.Hour).Format(time.RFC3339)
	if code := getJSON(t, base+"/v1/logs?since="+since+"&until="+until, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.Count != 0 {
		t.Errorf("expected 0 entries in past window, got %d", got.Count)
	}

	if code := getJSON(t, base+"/v1/logs?since=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", code)
	}
}

func TestEventsStream(t *testing.T) {
	srv, registry, _ := newTestAPI(t)

	url := "ws://" + srv.Addr().String() + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	info := registry.InitiateSession("alice", "192.0.2.13", "consent-3")

	var ev session.Event
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read start event: %v", err)
	}
	if ev.Type != session.EventStart {
		t.Errorf("expected %s, got %s", session.EventStart, ev.Type)
	}
	if ev.Session.SessionID != info.SessionID {
		t.Errorf("expected session %s, got %s", info.SessionID, ev.Session.SessionID)
	}

	registry.TerminateSession(info.SessionID)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read end event: %v", err)
	}
	if ev.Type != session.EventEnd {
		t.Errorf("expected %s, got %s", session.EventEnd, ev.Type)
	}
	if ev.Session.IsActive {
		t.Error("end event should carry an inactive session")
	}
}
