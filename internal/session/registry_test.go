package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ostiary-io/ostiary/internal/audit"
)

func newTestRegistry(t *testing.T) (*Registry, *audit.Logger) {
	t.Helper()
	l, err := audit.NewLogger(filepath.Join(t.TempDir(), "audit.log"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return NewRegistry(l), l
}

func TestInitiateAndTerminate(t *testing.T) {
	r, _ := newTestRegistry(t)

	info := r.InitiateSession("alice", "192.168.1.10", "consent-1")
	if info.SessionID == "" {
		t.Fatal("empty session id")
	}
	if !info.IsActive {
		t.Error("new session not active")
	}
	if info.ConsentRecordID != "consent-1" {
		t.Errorf("consent record id = %q", info.ConsentRecordID)
	}

	if got := len(r.GetActiveSessions()); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}

	if !r.TerminateSession(info.SessionID) {
		t.Fatal("terminate returned false for live session")
	}
	if got := len(r.GetActiveSessions()); got != 0 {
		t.Errorf("active sessions after terminate = %d, want 0", got)
	}

	// Idempotent by design.
	if r.TerminateSession(info.SessionID) {
		t.Error("second terminate returned true")
	}
}

func TestTerminateUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	if r.TerminateSession("no-such-session") {
		t.Error("terminate of unknown id returned true")
	}
}

func TestAuditTrail(t *testing.T) {
	r, l := newTestRegistry(t)

	info := r.InitiateSession("alice", "192.168.1.10", "consent-1")
	r.TerminateSession(info.SessionID)

	entries, err := l.GetLogs(time.Time{}, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	var starts, ends int
	for _, e := range entries {
		switch e.EventType {
		case audit.EventSessionStart:
			starts++
			if e.SessionID != info.SessionID || e.Username != "alice" {
				t.Errorf("bad start entry: %+v", e)
			}
		case audit.EventSessionEnd:
			ends++
			if e.SessionDurationSeconds == nil {
				t.Error("end entry missing duration")
			}
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("starts=%d ends=%d, want 1/1", starts, ends)
	}
}

func TestUpdateActivity(t *testing.T) {
	r, _ := newTestRegistry(t)

	info := r.InitiateSession("alice", "10.0.0.1", "c1")
	before, _ := r.GetSessionInfo(info.SessionID)

	time.Sleep(10 * time.Millisecond)
	r.UpdateActivity(info.SessionID)

	after, ok := r.GetSessionInfo(info.SessionID)
	if !ok {
		t.Fatal("session vanished")
	}
	if !after.LastActivity.After(before.LastActivity) {
		t.Error("activity clock not advanced")
	}

	// Never an error for a dead session.
	r.TerminateSession(info.SessionID)
	r.UpdateActivity(info.SessionID)
}

func TestValidateSessionSecurity(t *testing.T) {
	r, _ := newTestRegistry(t)
	info := r.InitiateSession("alice", "10.0.0.1", "c1")

	st := r.ValidateSessionSecurity(info.SessionID)
	if !st.Verified {
		t.Errorf("expected verified, got %+v", st)
	}
	if st.Protocol == "" {
		t.Error("verified status missing protocol")
	}
	if st.CertificateValid {
		t.Error("certificate reported valid without any check")
	}

	r.TerminateSession(info.SessionID)
	st = r.ValidateSessionSecurity(info.SessionID)
	if st.Verified {
		t.Error("terminated session reported verified")
	}
	if st.Reason == "" {
		t.Error("unverified status missing reason")
	}
}

func TestConcurrentSessions(t *testing.T) {
	r, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	n := 40
	ids := make(chan string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			info := r.InitiateSession("alice", "10.0.0.1", "c1")
			r.UpdateActivity(info.SessionID)
			ids <- info.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	if got := len(r.GetActiveSessions()); got != n {
		t.Fatalf("active sessions = %d, want %d", got, n)
	}

	wg.Add(n)
	for id := range ids {
		go func(id string) {
			defer wg.Done()
			if !r.TerminateSession(id) {
				t.Errorf("terminate %s returned false", id)
			}
		}(id)
	}
	wg.Wait()

	if got := len(r.GetActiveSessions()); got != 0 {
		t.Errorf("active sessions after teardown = %d, want 0", got)
	}
}

func TestDrain(t *testing.T) {
	r, l := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		r.InitiateSession("alice", "10.0.0.1", "c1")
	}

	if n := r.Drain(); n != 3 {
		t.Errorf("drained %d sessions, want 3", n)
	}
	if got := len(r.GetActiveSessions()); got != 0 {
		t.Errorf("active sessions after drain = %d, want 0", got)
	}

	entries, _ := l.GetLogs(time.Time{}, time.Now().UTC().Add(time.Minute))
	ends := 0
	for _, e := range entries {
		if e.EventType == audit.EventSessionEnd {
			ends++
		}
	}
	if ends != 3 {
		t.Errorf("session end entries = %d, want 3", ends)
	}
}

func TestSubscribe(t *testing.T) {
	r, _ := newTestRegistry(t)

	ch, cancel := r.Subscribe()
	defer cancel()

	info := r.InitiateSession("alice", "10.0.0.1", "c1")
	r.TerminateSession(info.SessionID)

	want := []string{EventStart, EventEnd}
	for _, wt := range want {
		select {
		case ev := <-ch:
			if ev.Type != wt {
				t.Errorf("event type = %s, want %s", ev.Type, wt)
			}
			if ev.Session.SessionID != info.SessionID {
				t.Errorf("event session = %s, want %s", ev.Session.SessionID, info.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", wt)
		}
	}

	// After cancel, publishing must not block or panic.
	cancel()
	r.InitiateSession("bob", "10.0.0.2", "c2")
}

func TestReaper(t *testing.T) {
	r, _ := newTestRegistry(t)

	stale := r.InitiateSession("alice", "10.0.0.1", "c1")
	fresh := r.InitiateSession("bob", "10.0.0.2", "c2")

	reaper := NewReaper(r, 50*time.Millisecond, 20*time.Millisecond)
	reaper.Start(context.Background())
	defer reaper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Keep bob alive while alice goes stale.
		r.UpdateActivity(fresh.SessionID)
		if _, ok := r.GetSessionInfo(stale.SessionID); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := r.GetSessionInfo(stale.SessionID); ok {
		t.Error("stale session not reaped")
	}
	if _, ok := r.GetSessionInfo(fresh.SessionID); !ok {
		t.Error("fresh session reaped")
	}
}

func TestReaperDisabled(t *testing.T) {
	r, _ := newTestRegistry(t)
	reaper := NewReaper(r, 0, 10*time.Millisecond)
	reaper.Start(context.Background())
	reaper.Stop() // must not hang
}
