package consent

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "consent.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func grant(t *testing.T, s *Store, username string) *Record {
	t.Helper()
	rec := &Record{
		Username:    username,
		IPAddress:   "127.0.0.1",
		MachineName: "test-host",
		ConsentText: "I authorize remote sessions on this machine.",
	}
	if err := s.RecordConsent(rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestSingleActiveInvariant(t *testing.T) {
	s := newTestStore(t)

	// Repeated grants and revokes must never leave two active records.
	grant(t, s, "alice")
	grant(t, s, "alice")
	if _, err := s.RevokeConsent("alice"); err != nil {
		t.Fatal(err)
	}
	grant(t, s, "alice")
	grant(t, s, "bob")
	grant(t, s, "alice")

	for _, user := range []string{"alice", "bob"} {
		active := 0
		for _, r := range s.ListConsents() {
			if r.Username == user && r.IsActive {
				active++
			}
		}
		if active != 1 {
			t.Errorf("user %s: %d active records, want 1", user, active)
		}
	}

	// History is preserved: nothing is ever deleted.
	if n := len(s.ListConsents()); n != 5 {
		t.Errorf("got %d records, want 5", n)
	}
}

func TestGetActiveConsentNewest(t *testing.T) {
	s := newTestStore(t)

	old := &Record{
		Username:         "alice",
		ConsentTimestamp: time.Now().UTC().Add(-time.Hour),
		MachineName:      "test-host",
		ConsentText:      "old grant",
	}
	if err := s.RecordConsent(old); err != nil {
		t.Fatal(err)
	}
	latest := grant(t, s, "alice")

	got := s.GetActiveConsent("alice")
	if got == nil {
		t.Fatal("no active consent")
	}
	if got.ID != latest.ID {
		t.Errorf("active consent = %s, want newest %s", got.ID, latest.ID)
	}
}

func TestRevokeConsent(t *testing.T) {
	s := newTestStore(t)
	grant(t, s, "alice")

	changed, err := s.RevokeConsent("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("revoke of active consent reported no change")
	}
	if s.HasValidConsent("alice") {
		t.Error("consent still valid after revoke")
	}
	if s.GetActiveConsent("alice") != nil {
		t.Error("active consent still returned after revoke")
	}

	changed, err = s.RevokeConsent("alice")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second revoke reported a change")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := grant(t, s, "alice")

	if !s.ValidateSignature(rec) {
		t.Fatal("signature invalid immediately after RecordConsent")
	}

	// Signature must survive persistence.
	stored := s.GetActiveConsent("alice")
	if stored == nil {
		t.Fatal("no active consent")
	}
	if !s.ValidateSignature(stored) {
		t.Fatal("signature invalid after reload")
	}

	// Any mutation of the signed fields invalidates it.
	stored.ConsentText = "something else entirely"
	if s.ValidateSignature(stored) {
		t.Error("signature still valid after mutating consent text")
	}
}

func TestExpiredConsent(t *testing.T) {
	s := newTestStore(t)

	exp := time.Now().UTC().Add(-time.Minute)
	rec := &Record{
		Username:       "alice",
		MachineName:    "test-host",
		ConsentText:    "short-lived grant",
		ExpirationDate: &exp,
	}
	if err := s.RecordConsent(rec); err != nil {
		t.Fatal(err)
	}

	// The record stays active but is no longer valid.
	active := s.GetActiveConsent("alice")
	if active == nil || !active.IsActive {
		t.Fatal("expired record should remain active in storage")
	}
	if s.HasValidConsent("alice") {
		t.Error("expired consent reported valid")
	}
}

func TestCorruptFileNeverFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consent.json")
	if err := os.WriteFile(path, []byte("{{{ not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.HasValidConsent("alice") {
		t.Error("corrupt store granted consent")
	}

	// A grant recovers the store.
	grant(t, s, "alice")
	if !s.HasValidConsent("alice") {
		t.Error("grant after corruption not visible")
	}
}

func TestConcurrentGrants(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordConsent(&Record{
				Username:    "alice",
				MachineName: "test-host",
				ConsentText: "concurrent grant",
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	active := 0
	for _, r := range s.ListConsents() {
		if r.Username == "alice" && r.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("%d active records after concurrent grants, want 1", active)
	}
	if n := len(s.ListConsents()); n != 10 {
		t.Errorf("got %d records, want 10", n)
	}
}
